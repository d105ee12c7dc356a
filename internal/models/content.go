package models

import "time"

// Segment is one page (or sheet) of extracted text.
type Segment struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	PageNum   int    `json:"pageNumber"`
	LineCount int    `json:"lineCount"`
}

// ExtractedContent is the OCR output for a document, written once per document.
type ExtractedContent struct {
	DocumentID  string       `json:"documentId"`
	SourceURL   string       `json:"sourceUrl"`
	Title       string       `json:"title,omitempty"`
	Type        DocumentType `json:"documentType"`
	JobID       string       `json:"jobId"`
	Engine      string       `json:"engine"`
	Segments    []Segment    `json:"segments"`
	ExtractedAt time.Time    `json:"extractedAt"`
}

// Text joins all segments with blank lines.
func (c *ExtractedContent) Text() string {
	n := 0
	for _, s := range c.Segments {
		n += len(s.Text) + 2
	}
	buf := make([]byte, 0, n)
	for i, s := range c.Segments {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// VectorRecord is one embedded chunk of a document, keyed by document and chunk index.
type VectorRecord struct {
	DocumentID   string       `json:"documentId"`
	ChunkIndex   int          `json:"chunkIndex"`
	Text         string       `json:"text"`
	Embedding    []float32    `json:"-"`
	RegulationID string       `json:"regulationId,omitempty"`
	Title        string       `json:"title,omitempty"`
	SourceURL    string       `json:"sourceUrl,omitempty"`
	Type         DocumentType `json:"documentType"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Key is the unique key of the record in the vector index.
func (v *VectorRecord) Key() string {
	return ChunkKey(v.DocumentID, v.ChunkIndex)
}
