package memory

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
)

// Search result bounds.
const (
	DefaultK = 5
	MaxK     = 10
)

// searchCandidates caps how many of a user's newest records are ranked.
const searchCandidates = 500

// Scored is a record with its ranking score.
type Scored struct {
	Record
	Score float64 `json:"score"`
}

// ClampK applies the default and ceiling for a search's result count.
func ClampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// Search ranks a user's records against query. Records that match the query
// at all always rank ahead of records that don't; within each group the
// order is by combined relevance/importance score, then newest first.
func (s *Store) Search(ctx context.Context, userID, query string, k int) ([]Scored, error) {
	k = ClampK(k)
	ctx, span := tracer.Start(ctx, "memory.search",
		trace.WithAttributes(
			coachotel.UserID.String(userID),
			attribute.Int("memory.k", k),
		))
	defer span.End()

	candidates, err := s.query(ctx,
		`SELECT id, user_id, kind, content, importance, created_at FROM memory_records
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, searchCandidates)
	if err != nil {
		return nil, err
	}
	readsTotal.Add(ctx, 1)

	ranked := Rank(candidates, query)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	span.SetAttributes(attribute.Int("memory.returned", len(ranked)))
	return ranked, nil
}

// Rank scores and orders records against query. It is pure so callers can
// rank records from any source.
func Rank(records []Record, query string) []Scored {
	type ranked struct {
		Scored
		matched bool
	}
	out := make([]ranked, 0, len(records))
	for _, r := range records {
		rel := relevance(query, r.Content)
		impNorm := float64(ClampImportance(r.Importance)-MinImportance) / float64(MaxImportance-MinImportance)
		out = append(out, ranked{
			Scored:  Scored{Record: r, Score: rel*0.6 + impNorm*0.4},
			matched: rel > 0,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.matched != b.matched {
			return a.matched
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	res := make([]Scored, len(out))
	for i := range out {
		res[i] = out[i].Scored
	}
	return res
}

// relevance is keyword overlap between query and content, falling back to a
// case-insensitive substring match for short or stop-word-only queries.
func relevance(query, content string) float64 {
	if sim := keywordSimilarity(query, content); sim > 0 {
		return sim
	}
	q := strings.TrimSpace(strings.ToLower(query))
	if q != "" && strings.Contains(strings.ToLower(content), q) {
		return 0.5
	}
	return 0
}

// keywordSimilarity is the overlap coefficient of the two texts' keyword sets.
func keywordSimilarity(a, b string) float64 {
	wordsA := keywordSet(a)
	wordsB := keywordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	overlap := 0
	for w := range wordsA {
		if wordsB[w] {
			overlap++
		}
	}
	denominator := len(wordsA)
	if len(wordsB) < denominator {
		denominator = len(wordsB)
	}
	return float64(overlap) / float64(denominator)
}

// keywordSet returns unique non-stopword tokens of at least three letters.
func keywordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}|")
		if len(w) >= 3 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "been": true, "said": true, "each": true,
	"which": true, "their": true, "will": true, "other": true, "about": true,
	"many": true, "then": true, "them": true, "these": true, "some": true,
	"would": true, "make": true, "into": true, "what": true, "does": true,
}
