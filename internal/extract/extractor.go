// Package extract turns document bytes into page-level text segments.
package extract

import (
	"fmt"
	"path"
	"strings"

	"github.com/hyperjump/compliagent/internal/models"
)

// Extractor splits documents into segments, one per page or sheet.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether name has an extension the extractor understands.
func (e *Extractor) Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf", ".docx", ".xlsx", ".txt", ".md":
		return true
	}
	return false
}

// Segments extracts the text of content. name is used only for its extension.
// Empty pages are dropped and the remaining segments are renumbered from zero.
func (e *Extractor) Segments(content []byte, name string) ([]models.Segment, error) {
	var (
		pages []string
		err   error
	)
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".pdf":
		pages, err = extractPDF(content)
	case ".docx":
		var text string
		text, err = extractDOCX(content)
		pages = []string{text}
	case ".xlsx":
		pages, err = extractExcel(content)
	case ".txt", ".md", "":
		pages = splitFormFeeds(extractPlain(content))
	default:
		return nil, fmt.Errorf("unsupported document type: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	segments := make([]models.Segment, 0, len(pages))
	for i, p := range pages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Index:     len(segments),
			Text:      p,
			PageNum:   i + 1,
			LineCount: strings.Count(p, "\n") + 1,
		})
	}
	return segments, nil
}

// Title picks the first non-blank line of the first segment, trimmed to a sensible length.
func Title(segments []models.Segment) string {
	if len(segments) == 0 {
		return ""
	}
	for _, line := range strings.Split(segments[0].Text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 200 {
			line = string(r[:200])
		}
		return line
	}
	return ""
}

func splitFormFeeds(text string) []string {
	return strings.Split(text, "\f")
}
