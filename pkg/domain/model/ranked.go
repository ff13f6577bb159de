package model

import (
	"sort"
	"strings"
	"time"
)

const snippetLength = 280

// RankedResult is one retrieved passage. A slice of them is ordered highest score first.
type RankedResult struct {
	DocumentID  DocumentID
	Score       float64
	Title       string
	Description string
	Tags        []string
	Snippet     string
	Text        string
	UpdatedAt   time.Time
}

// ScoreFromDistance maps an L2 distance to a similarity in (0, 1]. Identical vectors score 1.
func ScoreFromDistance(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// NewRankedResult builds a ranked result from a search hit
func NewRankedResult(hit *SearchHit) *RankedResult {
	d := hit.Document
	return &RankedResult{
		DocumentID:  d.ID,
		Score:       ScoreFromDistance(hit.Distance),
		Title:       d.Title,
		Description: d.Description,
		Tags:        d.Tags,
		Snippet:     Truncate(d.Text, snippetLength),
		Text:        d.Text,
		UpdatedAt:   d.UpdatedAt,
	}
}

// SortRankedResults orders by score desc, then most recent UpdatedAt, then DocumentID asc
func SortRankedResults(results []*RankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.DocumentID < b.DocumentID
	})
}

// Truncate cuts s to at most n runes, trimming surrounding whitespace
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
