package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexusrag/backend-go/internal/config"
	"github.com/nexusrag/backend-go/internal/rag"
)

const keyPrefix = "rag:session:"

// HistoryStore 多轮会话历史。Redis可用时持久化并带TTL，
// 否则退化为进程内存储。历史超过token预算时从最旧的轮次开始裁剪。
type HistoryStore struct {
	client    *redis.Client
	counter   *rag.TokenCounter
	maxTokens int
	ttl       time.Duration

	mu     sync.Mutex
	memory map[string][]rag.Turn
}

// NewHistoryStore 创建会话历史存储；client为nil时使用内存存储
func NewHistoryStore(client *redis.Client, counter *rag.TokenCounter, cfg config.HistoryConfig) *HistoryStore {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	ttl := time.Duration(cfg.TTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &HistoryStore{
		client:    client,
		counter:   counter,
		maxTokens: maxTokens,
		ttl:       ttl,
		memory:    make(map[string][]rag.Turn),
	}
}

// Get 获取会话的历史轮次，按时间先后排列
func (s *HistoryStore) Get(ctx context.Context, sessionID string) ([]rag.Turn, error) {
	if sessionID == "" {
		return nil, nil
	}

	if s.client != nil {
		data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load session history: %w", err)
		}
		var turns []rag.Turn
		if err := json.Unmarshal(data, &turns); err != nil {
			return nil, fmt.Errorf("decode session history: %w", err)
		}
		return turns, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.memory[sessionID]
	turns := make([]rag.Turn, len(stored))
	copy(turns, stored)
	return turns, nil
}

// Append 追加轮次并裁剪到token预算内
func (s *HistoryStore) Append(ctx context.Context, sessionID string, turns ...rag.Turn) error {
	if sessionID == "" || len(turns) == 0 {
		return nil
	}

	existing, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	combined := s.prune(append(existing, turns...))

	if s.client != nil {
		data, err := json.Marshal(combined)
		if err != nil {
			return fmt.Errorf("encode session history: %w", err)
		}
		if err := s.client.Set(ctx, keyPrefix+sessionID, data, s.ttl).Err(); err != nil {
			return fmt.Errorf("save session history: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[sessionID] = combined
	return nil
}

// Clear 清空会话历史
func (s *HistoryStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if s.client != nil {
		if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
			return fmt.Errorf("clear session history: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, sessionID)
	return nil
}

// prune 从最旧的轮次开始丢弃，直到总token数不超过预算
func (s *HistoryStore) prune(turns []rag.Turn) []rag.Turn {
	total := 0
	for _, t := range turns {
		total += s.counter.Count(t.Text)
	}
	start := 0
	for start < len(turns) && total > s.maxTokens {
		total -= s.counter.Count(turns[start].Text)
		start++
	}
	return turns[start:]
}
