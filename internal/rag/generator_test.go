package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// scriptedGenerator 按脚本运行的生成器：
// 前failFirst次调用在发出任何片段前失败，
// failAfterEmit为true时发完片段后返回错误。
type scriptedGenerator struct {
	fragments     []string
	failFirst     int
	failAfterEmit bool
	streamErr     error
	calls         int
}

func (g *scriptedGenerator) Stream(ctx context.Context, messages []Message, emit StreamHandler) error {
	g.calls++
	if g.calls <= g.failFirst {
		return g.err()
	}
	for _, fragment := range g.fragments {
		if err := emit(fragment); err != nil {
			return err
		}
	}
	if g.failAfterEmit {
		return g.err()
	}
	return nil
}

func (g *scriptedGenerator) Ready() bool { return true }

func (g *scriptedGenerator) err() error {
	if g.streamErr != nil {
		return g.streamErr
	}
	return errors.New("upstream unavailable")
}

func testOrchestrator(gen Generator, maxRetries int) *GeneratorOrchestrator {
	return NewGeneratorOrchestrator(gen, config.GenerationConfig{
		MaxRetries: maxRetries,
		BackoffMs:  1,
	})
}

func TestGeneratorOrchestrator_Generate(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"Hello", " ", "world"}}
	orchestrator := testOrchestrator(gen, 2)

	var emitted []string
	answer, err := orchestrator.Generate(context.Background(), "question", nil, nil, func(fragment string) error {
		emitted = append(emitted, fragment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", answer)
	assert.Equal(t, []string{"Hello", " ", "world"}, emitted)
	assert.Equal(t, 1, gen.calls)
}

func TestGeneratorOrchestrator_RetryBeforeFirstFragment(t *testing.T) {
	// 首个片段之前的失败可以重试
	gen := &scriptedGenerator{fragments: []string{"recovered"}, failFirst: 2}
	orchestrator := testOrchestrator(gen, 3)

	answer, err := orchestrator.Generate(context.Background(), "question", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, 3, gen.calls)
}

func TestGeneratorOrchestrator_RetriesExhausted(t *testing.T) {
	gen := &scriptedGenerator{failFirst: 10}
	orchestrator := testOrchestrator(gen, 2)

	_, err := orchestrator.Generate(context.Background(), "question", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindGeneration))
	assert.Equal(t, 3, gen.calls)
}

func TestGeneratorOrchestrator_NoRetryAfterFirstFragment(t *testing.T) {
	// 已经流出片段后失败：不重试，错误携带部分文本
	gen := &scriptedGenerator{fragments: []string{"partial ", "answer"}, failAfterEmit: true}
	orchestrator := testOrchestrator(gen, 5)

	answer, err := orchestrator.Generate(context.Background(), "question", nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "partial answer", answer)

	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.KindGeneration, appErr.Kind)
	assert.Equal(t, "partial answer", appErr.Partial)
}

func TestGeneratorOrchestrator_Cancellation(t *testing.T) {
	// 取消不触发重试
	gen := &scriptedGenerator{failFirst: 10, streamErr: context.Canceled}
	orchestrator := testOrchestrator(gen, 5)

	_, err := orchestrator.Generate(context.Background(), "question", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindGeneration))
	assert.Equal(t, 1, gen.calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneratorOrchestrator_EmptyQuery(t *testing.T) {
	orchestrator := testOrchestrator(&scriptedGenerator{}, 0)
	_, err := orchestrator.Generate(context.Background(), "  ", nil, nil, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestGeneratorOrchestrator_BuildMessages(t *testing.T) {
	orchestrator := testOrchestrator(&scriptedGenerator{}, 0)

	assembled := &AssembledContext{
		Passages: []ContextPassage{
			{Text: "first passage", Citation: Citation{DocumentName: "guide.txt"}},
			{Text: "second passage", Citation: Citation{DocumentName: "manual.pdf"}},
		},
	}
	history := []Turn{
		{Role: "user", Text: "earlier question"},
		{Role: "assistant", Text: "earlier answer"},
		{Role: "tool", Text: "odd role"},
	}

	messages := orchestrator.BuildMessages("current question", assembled, history)
	require.Len(t, messages, 6)

	assert.Equal(t, "system", messages[0].Role)

	// 参考段落带编号与文档名
	assert.Equal(t, "system", messages[1].Role)
	assert.Contains(t, messages[1].Content, "[1] (guide.txt)")
	assert.Contains(t, messages[1].Content, "[2] (manual.pdf)")
	assert.Contains(t, messages[1].Content, "first passage")

	// 历史轮次按序插入，未知角色归一为user
	assert.Equal(t, "user", messages[2].Role)
	assert.Equal(t, "assistant", messages[3].Role)
	assert.Equal(t, "user", messages[4].Role)

	assert.Equal(t, "user", messages[5].Role)
	assert.Equal(t, "current question", messages[5].Content)
}

func TestGeneratorOrchestrator_BuildMessagesWithoutContext(t *testing.T) {
	orchestrator := testOrchestrator(&scriptedGenerator{}, 0)

	messages := orchestrator.BuildMessages("question", nil, nil)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.False(t, strings.Contains(messages[0].Content, "Reference passages"))
	assert.Equal(t, "user", messages[1].Role)
}

func TestNoopGenerator(t *testing.T) {
	gen := &NoopGenerator{}
	assert.False(t, gen.Ready())
	err := gen.Stream(context.Background(), nil, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindGeneration))
}
