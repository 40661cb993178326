// Package chunker 把长文本切分为有上限的块，切分点避开占位符。
package chunker

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

// Options 分块参数，长度单位为字符（rune）
type Options struct {
	Limit        int // 单块最大字符数
	SearchWindow int // 理想切分点附近的搜索范围
	MinChunkSize int // 非最后一块的最小字符数
}

// DefaultOptions 默认分块参数
func DefaultOptions() Options {
	return Options{
		Limit:        900000,
		SearchWindow: 500,
		MinChunkSize: 500,
	}
}

// Chunk 一个文本块
type Chunk struct {
	Index int
	Total int
	Text  string
}

// 切分点类型，数值越小优先级越高
const (
	breakParagraph = iota
	breakSentence
	breakNewline
	breakSpace
	breakKinds
)

type runeSpan struct {
	start, end int
}

// Split 切分文本。所有块按顺序拼接后与输入完全相同；
// 只包含空白的片段并入前一块，只包含空白的输入返回 nil。
func Split(text string, opts Options) []Chunk {
	pieces := SplitStrings(text, opts)
	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{Index: i, Total: len(pieces), Text: p}
	}
	return chunks
}

// SplitStrings 与 Split 相同，只返回文本
func SplitStrings(text string, opts Options) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	opts = normalize(opts)

	runes := []rune(text)
	if opts.Limit <= 0 || len(runes) <= opts.Limit {
		return []string{text}
	}

	s := &splitter{runes: runes, opts: opts, tokens: tokenSpans(text)}

	var pieces []string
	for start := 0; start < len(runes); {
		if len(runes)-start <= opts.Limit {
			pieces = append(pieces, string(runes[start:]))
			break
		}
		end := s.breakPoint(start)
		pieces = append(pieces, string(runes[start:end]))
		start = end
	}

	return mergeBlank(pieces)
}

func normalize(opts Options) Options {
	if opts.SearchWindow < 0 {
		opts.SearchWindow = 0
	}
	if opts.MinChunkSize < 0 {
		opts.MinChunkSize = 0
	}
	return opts
}

type splitter struct {
	runes  []rune
	opts   Options
	tokens []runeSpan
}

// breakPoint 返回从 start 开始的块的结束位置（不含）
func (s *splitter) breakPoint(start int) int {
	n := len(s.runes)
	limitEnd := start + s.opts.Limit
	if limitEnd > n {
		limitEnd = n
	}

	ideal := start + max(s.opts.MinChunkSize, s.opts.Limit-s.opts.SearchWindow/2)
	if ideal > limitEnd {
		ideal = limitEnd
	}

	lo := max(ideal-s.opts.SearchWindow/2, start+s.opts.MinChunkSize+1)
	hi := min(ideal+s.opts.SearchWindow/2, limitEnd)

	var best [breakKinds]int
	for k := range best {
		best[k] = -1
	}
	for end := lo; end <= hi; end++ {
		if s.insideToken(end) {
			continue
		}
		kind := s.classify(end)
		if kind < 0 {
			continue
		}
		if best[kind] < 0 || abs(end-ideal) < abs(best[kind]-ideal) {
			best[kind] = end
		}
	}
	for _, end := range best {
		if end >= 0 {
			return end
		}
	}

	// 没有合适的切分点，按上限硬切，但不切进占位符；
	// 退回占位符之前会让块小于下限时，改为越过占位符
	end := limitEnd
	if span, ok := s.tokenAt(end); ok {
		if span.start > start && span.start-start >= s.opts.MinChunkSize {
			end = span.start
		} else {
			end = span.end
		}
	}
	return end
}

// classify 判断在 end 之前切分属于哪类切分点
func (s *splitter) classify(end int) int {
	if end <= 0 || end > len(s.runes) {
		return -1
	}
	last := s.runes[end-1]
	if end >= 2 {
		prev := s.runes[end-2]
		if last == '\n' && prev == '\n' {
			return breakParagraph
		}
		if unicode.IsSpace(last) && isSentenceEnd(prev) {
			return breakSentence
		}
	}
	if isFullWidthSentenceEnd(last) {
		return breakSentence
	}
	if last == '\n' {
		return breakNewline
	}
	if last == ' ' {
		return breakSpace
	}
	return -1
}

func (s *splitter) insideToken(pos int) bool {
	_, ok := s.tokenAt(pos)
	return ok
}

// tokenAt 返回严格包含 pos 的占位符区间
func (s *splitter) tokenAt(pos int) (runeSpan, bool) {
	i := sort.Search(len(s.tokens), func(i int) bool { return s.tokens[i].end > pos })
	if i < len(s.tokens) && s.tokens[i].start < pos && pos < s.tokens[i].end {
		return s.tokens[i], true
	}
	return runeSpan{}, false
}

// tokenSpans 把占位符的字节区间换算为 rune 区间
func tokenSpans(text string) []runeSpan {
	found := placeholder.FindTokens(text)
	spans := make([]runeSpan, 0, len(found))
	bytePos, runePos := 0, 0
	for _, f := range found {
		runePos += utf8.RuneCountInString(text[bytePos:f.Start])
		start := runePos
		runePos += utf8.RuneCountInString(text[f.Start:f.End])
		spans = append(spans, runeSpan{start: start, end: runePos})
		bytePos = f.End
	}
	return spans
}

// mergeBlank 把只含空白的片段并入相邻块
func mergeBlank(pieces []string) []string {
	out := make([]string, 0, len(pieces))
	carry := ""
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			if len(out) > 0 {
				out[len(out)-1] += p
			} else {
				carry += p
			}
			continue
		}
		out = append(out, carry+p)
		carry = ""
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isFullWidthSentenceEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
