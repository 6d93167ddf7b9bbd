// Package chunker splits raw text into overlapping, semantically bounded
// segments. Splitting is deterministic: identical input and parameters
// always yield identical chunk boundaries, which keeps cache keys stable.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, in characters.
const (
	DefaultTargetSize = 1000
	DefaultOverlap    = 200
	DefaultMinSize    = 100
)

var (
	paragraphSplitter = regexp.MustCompile(`\n[ \t]*\n+`)
	sentenceSplitter  = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// Chunker splits text on paragraph boundaries first, falls back to
// sentence boundaries for oversized paragraphs, and hard-splits on
// whitespace for oversized sentences.
type Chunker struct {
	targetSize int
	overlap    int
	minSize    int
}

// New creates a Chunker. Out-of-range parameters fall back to defaults.
func New(targetSize, overlap, minSize int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= targetSize {
		overlap = targetSize / 4
	}
	if minSize < 0 || minSize >= targetSize {
		minSize = DefaultMinSize
		if minSize >= targetSize {
			minSize = targetSize / 10
		}
	}
	return &Chunker{
		targetSize: targetSize,
		overlap:    overlap,
		minSize:    minSize,
	}
}

// Split returns the chunk texts for the given input. Adjacent chunks
// share up to the configured overlap of trailing/leading context. A
// document shorter than the minimum size yields exactly one chunk;
// empty or whitespace-only input yields none.
func (c *Chunker) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) <= c.targetSize {
		return []string{trimmed}
	}

	segments := c.segments(trimmed)
	chunks := c.pack(segments)
	return c.mergeSmall(chunks)
}

// segments breaks the text into pieces no longer than targetSize,
// preferring paragraph boundaries, then sentences, then whitespace.
func (c *Chunker) segments(text string) []string {
	var segs []string
	for _, para := range paragraphSplitter.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= c.targetSize {
			segs = append(segs, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if utf8.RuneCountInString(sent) <= c.targetSize {
				segs = append(segs, sent)
				continue
			}
			segs = append(segs, hardSplit(sent, c.targetSize)...)
		}
	}
	return segs
}

// pack greedily accumulates segments up to targetSize, carrying the
// overlap tail of each emitted chunk into the next one.
func (c *Chunker) pack(segments []string) []string {
	var chunks []string
	cur := ""
	for _, seg := range segments {
		if cur == "" {
			cur = seg
			continue
		}
		if utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(seg) <= c.targetSize {
			cur = cur + " " + seg
			continue
		}
		chunks = append(chunks, cur)
		tail := overlapTail(cur, c.overlap)
		if tail != "" {
			cur = tail + " " + seg
		} else {
			cur = seg
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

// mergeSmall folds chunks below minSize into the following chunk when
// one exists; a trailing small chunk is kept as-is.
func (c *Chunker) mergeSmall(chunks []string) []string {
	if len(chunks) <= 1 {
		return chunks
	}
	merged := make([]string, 0, len(chunks))
	for i := 0; i < len(chunks); i++ {
		if utf8.RuneCountInString(chunks[i]) < c.minSize && i+1 < len(chunks) {
			chunks[i+1] = chunks[i] + " " + chunks[i+1]
			continue
		}
		merged = append(merged, chunks[i])
	}
	return merged
}

// splitSentences returns the sentences of s, with any trailing text
// that lacks terminal punctuation kept as a final segment.
func splitSentences(s string) []string {
	var out []string
	lastEnd := 0
	for _, loc := range sentenceSplitter.FindAllStringIndex(s, -1) {
		sent := strings.TrimSpace(s[loc[0]:loc[1]])
		if sent != "" {
			out = append(out, sent)
		}
		lastEnd = loc[1]
	}
	if rest := strings.TrimSpace(s[lastEnd:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// hardSplit packs whitespace-separated words into pieces of at most
// limit runes. A single word longer than the limit is cut at the limit.
func hardSplit(s string, limit int) []string {
	var out []string
	cur := ""
	for _, word := range strings.Fields(s) {
		for utf8.RuneCountInString(word) > limit {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			runes := []rune(word)
			out = append(out, string(runes[:limit]))
			word = string(runes[limit:])
		}
		if word == "" {
			continue
		}
		switch {
		case cur == "":
			cur = word
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(word) <= limit:
			cur = cur + " " + word
		default:
			out = append(out, cur)
			cur = word
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// overlapTail returns the last n runes of s, trimmed forward to the
// next word boundary so chunks never begin mid-word.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
