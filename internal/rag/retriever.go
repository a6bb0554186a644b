// Package rag retrieves policy excerpts relevant to an expense category,
// used to ground the decision prompt in the policy document's own words.
package rag

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// PolicyRetriever returns free-text policy context for a category.
// Implementations must be safe to fail: callers degrade to no context.
type PolicyRetriever interface {
	RelevantPolicy(category string) (string, error)
}

// Category-specific retrieval queries. Unlisted categories fall back to
// "<category> policy allowance limit".
var categoryQueries = map[string]string{
	"commute": "cab taxi commute transportation travel allowance limit policy",
	"cab":     "cab taxi commute transportation travel allowance limit policy",
	"meal":    "meal food allowance daily limit lunch dinner policy",
	"fuel":    "fuel petrol diesel reimbursement vehicle policy",
}

// KeywordRetriever scores policy paragraphs by query-term overlap and
// returns the top-k as context. It is the default, dependency-free
// retriever; a vector-backed one can replace it behind the same interface.
type KeywordRetriever struct {
	paragraphs []string
	topK       int
	logger     *zap.Logger
}

// NewKeywordRetriever splits policyText into paragraphs for retrieval.
func NewKeywordRetriever(policyText string, topK int, logger *zap.Logger) *KeywordRetriever {
	if topK <= 0 {
		topK = 3
	}
	var paragraphs []string
	for _, p := range strings.Split(policyText, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	logger.Debug("Keyword retriever initialized", zap.Int("paragraphs", len(paragraphs)))
	return &KeywordRetriever{paragraphs: paragraphs, topK: topK, logger: logger}
}

// RelevantPolicy returns the top-k paragraphs matching the category's
// query terms, joined by blank lines. Empty when nothing matches.
func (r *KeywordRetriever) RelevantPolicy(category string) (string, error) {
	query, ok := categoryQueries[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		query = category + " policy allowance limit"
	}
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		index int
		score int
	}
	var hits []scored
	for i, p := range r.paragraphs {
		lower := strings.ToLower(p)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}
	if len(hits) == 0 {
		return "", nil
	}
	// Highest score first; document order breaks ties.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > r.topK {
		hits = hits[:r.topK]
	}
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, r.paragraphs[h.index])
	}
	return strings.Join(parts, "\n\n"), nil
}
