package vectorize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunker_PacksSentences(t *testing.T) {
	c := NewChunker(40, 2)
	chunks := c.Chunk("First sentence is here. Second one follows! Third asks why? Fourth ends it.")
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d: %q", len(chunks), chunks)
	}
	for i, ch := range chunks {
		if ch == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
	if !strings.HasPrefix(chunks[0], "First sentence is here.") {
		t.Errorf("first chunk should keep sentence punctuation, got %q", chunks[0])
	}
	// the second chunk opens with the last two words of the first
	words := strings.Fields(chunks[0])
	overlap := strings.Join(words[len(words)-2:], " ")
	if !strings.HasPrefix(chunks[1], overlap) {
		t.Errorf("chunk 1 = %q, want prefix %q", chunks[1], overlap)
	}
}

func TestChunker_SingleChunkForShortText(t *testing.T) {
	c := NewChunker(1000, 20)
	chunks := c.Chunk("Banks must retain records. Records are kept for five years.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestChunker_LongSentenceSplitIntoWindows(t *testing.T) {
	c := NewChunker(20, 0)
	chunks := c.Chunk(strings.Repeat("word ", 30))
	if len(chunks) < 5 {
		t.Fatalf("expected the long sentence to be split, got %d chunks", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch) > 20 {
			t.Errorf("chunk longer than limit: %q", ch)
		}
	}
}

func TestChunker_OverlapRespectsLimit(t *testing.T) {
	c := NewChunker(100, 5)
	first := "Licensed banks shall establish customer due diligence measures for every new account relationship."
	second := "Enhanced measures apply where the customer presents a higher risk of money laundering activity."
	chunks := c.Chunk(first + " " + second)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	for i, ch := range chunks {
		if len(ch) > 100 {
			t.Errorf("chunk %d has %d bytes, limit 100: %q", i, len(ch), ch)
		}
	}
	if !strings.HasSuffix(chunks[1], second) {
		t.Errorf("chunk 1 = %q, want the second sentence intact", chunks[1])
	}
}

func TestChunker_SplitsOversizedWord(t *testing.T) {
	c := NewChunker(8, 2)
	chunks := c.Chunk("ab " + strings.Repeat("規", 5))
	for i, ch := range chunks {
		if len(ch) > 8 {
			t.Errorf("chunk %d has %d bytes, limit 8: %q", i, len(ch), ch)
		}
		if !utf8.ValidString(ch) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, ch)
		}
	}
	if got := strings.Join(chunks, ""); !strings.Contains(strings.ReplaceAll(got, " ", ""), strings.Repeat("規", 5)) {
		t.Errorf("oversized word lost content: %q", chunks)
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(5, 1)
	if chunks := c.Chunk("   \n\t  "); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Section 3.2 applies. Really?! Yes")
	want := []string{"Section 3.2 applies.", "Really?!", "Yes"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPreprocess(t *testing.T) {
	if got := Preprocess("  a \x00 b\n\n\tc\ufffd  "); got != "a b c" {
		t.Errorf("Preprocess = %q", got)
	}
}
