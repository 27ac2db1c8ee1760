// Package documents holds the coaching knowledge corpus (articles, exercise
// guides, nutrition notes) that the assistant can cite through the
// search_documents tool.
package documents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
	"github.com/hashitfit/coach/internal/store"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/documents")

// Result bounds and excerpt size.
const (
	DefaultK     = 5
	MaxK         = 20
	excerptRunes = 240
)

// ErrEmptyDocument is returned when a document has no title or body.
var ErrEmptyDocument = errors.New("document title and body are required")

// Document is one corpus entry.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a ranked search result.
type Hit struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Category string  `json:"category,omitempty"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
}

// Store persists the corpus.
type Store struct {
	db *store.DB
}

// NewStore returns a document store over db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Add inserts doc, assigning an id when empty.
func (s *Store) Add(ctx context.Context, doc *Document) error {
	if strings.TrimSpace(doc.Title) == "" || strings.TrimSpace(doc.Body) == "" {
		return ErrEmptyDocument
	}
	if doc.ID == "" {
		doc.ID = "doc_" + uuid.New().String()[:12]
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, body, category, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Body, doc.Category, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Search ranks documents by term frequency of the query's words in the title
// (weighted) and body. Documents with no matching term are not returned.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}
	ctx, span := tracer.Start(ctx, "documents.search", trace.WithAttributes(attribute.Int("documents.k", k)))
	defer span.End()

	terms := queryTerms(query)
	if len(terms) == 0 {
		return []Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, title, body, category FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Body, &d.Category); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		score := scoreDocument(terms, d)
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{
			ID:       d.ID,
			Title:    d.Title,
			Category: d.Category,
			Excerpt:  excerpt(d.Body, terms),
			Score:    score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	span.SetAttributes(attribute.Int("documents.returned", len(hits)))
	return hits, nil
}

func queryTerms(q string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.Fields(strings.ToLower(q)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func scoreDocument(terms []string, d Document) float64 {
	title := strings.ToLower(d.Title)
	body := strings.ToLower(d.Body)
	category := strings.ToLower(d.Category)
	var score float64
	matched := 0
	for _, t := range terms {
		n := strings.Count(title, t)*3 + strings.Count(body, t)
		if strings.Contains(category, t) {
			n += 2
		}
		if n > 0 {
			matched++
			score += float64(n)
		}
	}
	if matched == 0 {
		return 0
	}
	// Favor documents covering more of the query.
	return score * float64(matched) / float64(len(terms))
}

// excerpt returns a window of body around the first matching term.
func excerpt(body string, terms []string) string {
	lower := strings.ToLower(body)
	pos := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	runes := []rune(body)
	if len(runes) <= excerptRunes {
		return body
	}
	start := 0
	if pos > 0 {
		start = utf8.RuneCountInString(body[:pos]) - excerptRunes/4
		if start < 0 {
			start = 0
		}
	}
	end := start + excerptRunes
	if end > len(runes) {
		end = len(runes)
		start = end - excerptRunes
	}
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
