package search

import (
	"math"
	"sort"

	"github.com/hyperjump/compliagent/internal/keyword"
	"github.com/hyperjump/compliagent/internal/vector"
)

// Weights combine the two legs of a hybrid search.
type Weights struct {
	Vector float64
	Text   float64
	// TextScale divides raw text scores before they are capped at 1. Zero keeps raw scores.
	TextScale float64
}

// FusedResult holds a chunk key and its fused vector/text scores.
type FusedResult struct {
	ID          string
	Score       float64
	VectorScore float64
	TextScore   float64
}

// VectorScores maps chunk keys to vector scores, dropping hits below minScore.
func VectorScores(results []*vector.VectorResult, minScore float64) map[string]float64 {
	out := make(map[string]float64, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			out[r.ID] = r.Score
		}
	}
	return out
}

// TextScores maps chunk keys to raw text scores.
func TextScores(results []*keyword.KeywordResult) map[string]float64 {
	out := make(map[string]float64, len(results))
	for _, r := range results {
		out[r.ID] = r.Score
	}
	return out
}

// Fuse merges vector and text scores per chunk. The vector score is capped at 1 and the text
// score is divided by the scale and capped at 1 before weighting. Results are sorted by fused
// score, best first, ties broken by key.
func Fuse(vectorScores, textScores map[string]float64, w Weights) []*FusedResult {
	byID := make(map[string]*FusedResult, len(vectorScores)+len(textScores))
	for id, s := range vectorScores {
		byID[id] = &FusedResult{ID: id, VectorScore: s}
	}
	for id, s := range textScores {
		if r, ok := byID[id]; ok {
			r.TextScore = s
			continue
		}
		byID[id] = &FusedResult{ID: id, TextScore: s}
	}
	results := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		v := math.Min(r.VectorScore, 1)
		t := r.TextScore
		if w.TextScale > 0 {
			t = math.Min(t/w.TextScale, 1)
		}
		r.Score = w.Vector*v + w.Text*t
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
