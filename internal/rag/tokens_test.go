package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounter_Count(t *testing.T) {
	counter := NewTokenCounter()

	assert.Equal(t, 0, counter.Count(""))

	// 英文按单词计1.3个token
	assert.Equal(t, 2, counter.Count("hello world"))
	assert.Equal(t, 5, counter.Count("one two three four"))

	// CJK字符逐字计1个token
	assert.Equal(t, 2, counter.Count("你好"))
	assert.Equal(t, 4, counter.Count("向量检索"))

	// 混合文本
	assert.Equal(t, 3, counter.Count("你好 world"))

	// 纯空白至少计1个
	assert.Equal(t, 1, counter.Count("   "))
}

func TestTokenCounter_Deterministic(t *testing.T) {
	counter := NewTokenCounter()
	text := "The same text counted twice 同一段文本"
	assert.Equal(t, counter.Count(text), counter.Count(text))
}
