package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
)

// extractArray returns the text between the first '[' and the last ']' of answer.
// Models often wrap the array in prose or code fences.
func extractArray(answer string) (string, bool) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return answer[start : end+1], true
}

func decodeArray(op, answer string, v any) error {
	raw, ok := extractArray(answer)
	if !ok {
		return fault.Unclassified(op, fmt.Errorf("no JSON array in model answer"))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fault.Unclassified(op, fmt.Errorf("decode model answer: %w", err))
	}
	return nil
}

// ParseGaps decodes the gap candidates in a model answer. Entries whose title and
// description are both blank are dropped. An answer without a decodable array is an
// Unclassified error.
func ParseGaps(answer string) ([]models.GapCandidate, error) {
	var raw []models.GapCandidate
	if err := decodeArray("parse gaps", answer, &raw); err != nil {
		return nil, err
	}
	out := make([]models.GapCandidate, 0, len(raw))
	for _, c := range raw {
		c.Title = strings.TrimSpace(c.Title)
		c.Description = strings.TrimSpace(c.Description)
		if c.Title == "" && c.Description == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ParseAmendments decodes the amendment drafts in a model answer. Drafts without text are dropped.
func ParseAmendments(answer string) ([]models.DraftedAmendment, error) {
	var raw []models.DraftedAmendment
	if err := decodeArray("parse amendments", answer, &raw); err != nil {
		return nil, err
	}
	out := make([]models.DraftedAmendment, 0, len(raw))
	for _, d := range raw {
		d.GapID = strings.TrimSpace(d.GapID)
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
