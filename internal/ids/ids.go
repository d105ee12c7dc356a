// Package ids derives stable content-hash identifiers so repeated work converges on the same records.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

const (
	documentPrefix  = "doc:"
	gapPrefix       = "gap:"
	amendmentPrefix = "amd:"
)

// DocumentID returns the ledger id for a source URL. The same URL always yields the same id.
func DocumentID(sourceURL string) string {
	return documentPrefix + digest(strings.TrimSpace(sourceURL))
}

// GapID hashes the semantic content of a gap together with the documents it was derived from.
// Source document order does not matter.
func GapID(regulationID, title, description string, sourceDocumentIDs []string) string {
	docs := append([]string(nil), sourceDocumentIDs...)
	sort.Strings(docs)
	return gapPrefix + digest(
		normalize(regulationID),
		normalize(title),
		normalize(description),
		strings.Join(docs, ","),
	)
}

// AmendmentID hashes the gap, the draft attempt and the drafted text.
func AmendmentID(gapID string, attempt int, amendmentText string) string {
	return amendmentPrefix + digest(gapID, strconv.Itoa(attempt), normalize(amendmentText))
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
