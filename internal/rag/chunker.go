package rag

import (
	"math"
	"regexp"

	"github.com/nexusrag/backend-go/internal/config"
)

// 边界策略
const (
	BoundaryCharacter = "character"
	BoundarySentence  = "sentence"
	BoundaryParagraph = "paragraph"
)

var (
	sentenceEndPattern    = regexp.MustCompile(`[。！？.!?]+["')\]】”』]?\s*`)
	paragraphBreakPattern = regexp.MustCompile(`\n\s*\n`)
)

// Chunker 文本分块器。
// 产出的分块去掉重叠后按序拼接可精确还原输入文本，
// 因此不做任何空白归一化。
type Chunker struct {
	maxSize  int
	overlap  int
	boundary string
}

// NewChunker 创建分块器
func NewChunker(cfg config.ChunkingConfig) *Chunker {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 800
	}
	frac := cfg.OverlapFraction
	if frac < 0 || frac >= 1 {
		frac = 0
	}
	overlap := int(math.Round(float64(maxSize) * frac))
	if overlap >= maxSize {
		overlap = maxSize - 1
	}

	boundary := cfg.Boundary
	switch boundary {
	case BoundaryCharacter, BoundarySentence, BoundaryParagraph:
	default:
		boundary = BoundaryCharacter
	}

	return &Chunker{
		maxSize:  maxSize,
		overlap:  overlap,
		boundary: boundary,
	}
}

// MaxSize 返回单块最大rune数
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// OverlapSize 返回相邻块的目标重叠rune数
func (c *Chunker) OverlapSize() int {
	return c.overlap
}

// Split 将文本切分为有序分块。
// 空文本返回nil；短于maxSize的文本恰好产出一块。
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.maxSize {
		return []Chunk{{
			Index: 0,
			Start: 0,
			End:   len(runes),
			Text:  text,
		}}
	}

	switch c.boundary {
	case BoundarySentence:
		return c.splitUnits(runes, unitBounds(text, sentenceEndPattern))
	case BoundaryParagraph:
		return c.splitUnits(runes, unitBounds(text, paragraphBreakPattern))
	default:
		return c.splitCharacters(runes)
	}
}

// splitCharacters 固定窗口切分
func (c *Chunker) splitCharacters(runes []rune) []Chunk {
	step := c.maxSize - c.overlap
	if step <= 0 {
		step = c.maxSize
	}

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.maxSize
		if end > len(runes) {
			end = len(runes)
		}
		overlap := 0
		if len(chunks) > 0 {
			overlap = chunks[len(chunks)-1].End - start
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Start:   start,
			End:     end,
			Overlap: overlap,
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitUnits 按原子单元（句子或段落）切分：
// 块边界只落在单元边界上，单个超长单元独占一块。
func (c *Chunker) splitUnits(runes []rune, bounds []int) []Chunk {
	var chunks []Chunk
	start := 0
	unit := nextBound(bounds, 0)

	for start < len(runes) {
		end := start
		// 贪心吸收完整单元
		for unit < len(bounds) && bounds[unit]-start <= c.maxSize {
			end = bounds[unit]
			unit++
		}
		if end == start {
			// 单个单元超过maxSize：独占一块，不在单元内部切断
			if unit < len(bounds) {
				end = bounds[unit]
				unit++
			} else {
				end = len(runes)
			}
		}
		if len(chunks) > 0 && end <= chunks[len(chunks)-1].End {
			// 重叠起点之后装不下新单元，放弃本次重叠避免产生被包含的块
			start = chunks[len(chunks)-1].End
			unit = nextBound(bounds, start)
			continue
		}

		overlap := 0
		if len(chunks) > 0 {
			overlap = chunks[len(chunks)-1].End - start
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Start:   start,
			End:     end,
			Overlap: overlap,
			Text:    string(runes[start:end]),
		})

		if end >= len(runes) {
			break
		}

		// 下一块从当前块尾部的单元边界回退，以产生目标重叠
		next := end
		for i := unit - 2; i >= 0; i-- {
			if end-bounds[i] > c.overlap {
				break
			}
			if bounds[i] > start {
				next = bounds[i]
			}
		}
		start = next
		unit = nextBound(bounds, start)
	}
	return chunks
}

// unitBounds 计算原子单元的结束偏移（rune），最后一个单元延伸到文本末尾
func unitBounds(text string, pattern *regexp.Regexp) []int {
	runes := []rune(text)

	// 字节偏移转rune偏移
	byteToRune := make(map[int]int, len(runes)+1)
	b := 0
	for i, r := range runes {
		byteToRune[b] = i
		b += len(string(r))
	}
	byteToRune[b] = len(runes)

	var bounds []int
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		end := byteToRune[loc[1]]
		if end > 0 && (len(bounds) == 0 || end > bounds[len(bounds)-1]) && end < len(runes) {
			bounds = append(bounds, end)
		}
	}
	bounds = append(bounds, len(runes))
	return bounds
}

func nextBound(bounds []int, start int) int {
	for i, b := range bounds {
		if b > start {
			return i
		}
	}
	return len(bounds)
}

// Reconstruct 去掉重叠后按序拼接分块，用于校验分块完整性
func Reconstruct(chunks []Chunk) string {
	var runes []rune
	for _, ch := range chunks {
		text := []rune(ch.Text)
		if ch.Overlap > 0 && ch.Overlap <= len(text) {
			text = text[ch.Overlap:]
		}
		runes = append(runes, text...)
	}
	return string(runes)
}
