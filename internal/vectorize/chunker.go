package vectorize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker packs sentences into chunks of at most chunkSize characters. Consecutive chunks
// share the last overlapWords words of the previous chunk.
type Chunker struct {
	chunkSize    int
	overlapWords int
}

// NewChunker creates a chunker. Non-positive sizes fall back to 1000 characters and 20 words.
func NewChunker(chunkSize, overlapWords int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlapWords < 0 {
		overlapWords = 20
	}
	return &Chunker{chunkSize: chunkSize, overlapWords: overlapWords}
}

// Chunk splits text into chunks. Blank text yields nil.
func (c *Chunker) Chunk(text string) []string {
	var chunks []string
	var cur strings.Builder
	for _, sentence := range c.pieces(text) {
		if cur.Len() > 0 && cur.Len()+1+len(sentence) > c.chunkSize {
			prev := cur.String()
			chunks = append(chunks, prev)
			cur.Reset()
			if tail := c.overlap(prev, len(sentence)); tail != "" {
				cur.WriteString(tail)
			}
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sentence)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// pieces returns the sentences of text, with sentences longer than a chunk split into
// word windows.
func (c *Chunker) pieces(text string) []string {
	var out []string
	for _, s := range splitSentences(text) {
		if len(s) <= c.chunkSize {
			out = append(out, s)
			continue
		}
		out = append(out, c.windows(s)...)
	}
	return out
}

func (c *Chunker) windows(s string) []string {
	words := strings.Fields(s)
	var out []string
	var cur strings.Builder
	for _, w := range c.splitLong(words) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > c.chunkSize {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitLong cuts words longer than a chunk at rune boundaries.
func (c *Chunker) splitLong(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		for len(w) > c.chunkSize {
			cut := c.chunkSize
			for cut > 0 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(w)
			}
			out = append(out, w[:cut])
			w = w[cut:]
		}
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// splitSentences splits after runs of '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, s)
			}
			start = j + 1
		}
		i = j
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// overlap returns up to overlapWords trailing words of prev, dropping leading words until
// the tail and a following piece of length next fit in one chunk.
func (c *Chunker) overlap(prev string, next int) string {
	if c.overlapWords <= 0 {
		return ""
	}
	words := strings.Fields(prev)
	if len(words) > c.overlapWords {
		words = words[len(words)-c.overlapWords:]
	}
	tail := strings.Join(words, " ")
	for len(words) > 0 && len(tail)+1+next > c.chunkSize {
		words = words[1:]
		tail = strings.Join(words, " ")
	}
	return tail
}
