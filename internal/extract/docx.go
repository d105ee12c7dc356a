package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// runText matches <w:t>..</w:t> with any attributes.
	runText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// paragraphEnd separates paragraphs so line structure survives extraction.
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	// mainPart matches the Override of the main document part in either attribute order.
	mainPart = regexp.MustCompile(`<Override[^>]*(?:PartName="([^"]+)"[^>]*ContentType="` + regexp.QuoteMeta(docxMainType) +
		`"|ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]*PartName="([^"]+)")`)
)

func readZipFile(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}

func docxBodyPath(zr *zip.Reader) string {
	ct, ok, err := readZipFile(zr, docxContentTypes)
	if err != nil || !ok {
		return docxDefaultBody
	}
	m := mainPart.FindSubmatch(ct)
	if m == nil {
		return docxDefaultBody
	}
	for _, g := range m[1:] {
		if len(g) > 0 {
			return strings.TrimPrefix(string(g), "/")
		}
	}
	return docxDefaultBody
}

// extractDOCX returns the run text of a .docx body, one line per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	bodyPath := docxBodyPath(zr)
	body, ok, err := readZipFile(zr, bodyPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", bodyPath, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", bodyPath)
	}

	var lines []string
	for _, para := range paragraphEnd.Split(string(body), -1) {
		runs := runText.FindAllStringSubmatch(para, -1)
		if len(runs) == 0 {
			continue
		}
		parts := make([]string, 0, len(runs))
		for _, r := range runs {
			if t := strings.TrimSpace(r[1]); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, " "))
		}
	}
	return strings.Join(lines, "\n"), nil
}
