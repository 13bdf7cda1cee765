package rag

import (
	"strings"
	"unicode"
)

// TokenCounter 估算文本token数。
// 与模型真实分词器存在偏差，但估算是确定性的，
// 上下文预算与历史裁剪只依赖这一份估算。
type TokenCounter struct{}

// NewTokenCounter 创建token计数器
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count 估算token数：CJK字符各计1个，其余按单词计1.3个
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	var rest strings.Builder
	for _, r := range text {
		if isCJK(r) {
			cjk++
			rest.WriteRune(' ')
			continue
		}
		rest.WriteRune(r)
	}

	words := len(strings.Fields(rest.String()))
	total := cjk + int(float64(words)*1.3)
	if total == 0 {
		total = 1
	}
	return total
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
