package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/internal/logger"
)

// 管线事件类型
const (
	EventDocumentIngested = "document_ingested"
	EventDocumentDeleted  = "document_deleted"
	EventQueryAnswered    = "query_answered"
)

// PipelineEvent 管线审计事件
type PipelineEvent struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Query      string    `json:"query,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	TokenCount int       `json:"token_count,omitempty"`
	FromCache  bool      `json:"from_cache,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Producer Kafka事件生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("kafka producer initialized",
		zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// SendEvent 发送管线事件
func (p *Producer) SendEvent(event *PipelineEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Type),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("failed to send kafka event", zap.Error(err))
		return fmt.Errorf("send event: %w", err)
	}

	logger.Debug("kafka event sent",
		zap.String("type", event.Type),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// PublishEvent 发送管线事件（便捷方法）。
// Kafka未配置时静默跳过，不影响主流程。
func PublishEvent(event *PipelineEvent) {
	producer := GetProducer()
	if producer == nil {
		return
	}
	if err := producer.SendEvent(event); err != nil {
		logger.Warn("pipeline event dropped", zap.Error(err))
	}
}
