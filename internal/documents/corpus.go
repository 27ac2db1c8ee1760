package documents

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type corpusFile struct {
	Documents []corpusEntry `yaml:"documents"`
}

type corpusEntry struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Body     string `yaml:"body"`
}

// ParseYAML parses a corpus file of the form
//
//	documents:
//	  - title: Deload weeks
//	    category: training
//	    body: ...
func ParseYAML(data []byte) ([]Document, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	docs := make([]Document, 0, len(f.Documents))
	for i, e := range f.Documents {
		if e.Title == "" || e.Body == "" {
			return nil, fmt.Errorf("corpus entry %d: %w", i, ErrEmptyDocument)
		}
		docs = append(docs, Document{ID: e.ID, Title: e.Title, Category: e.Category, Body: e.Body})
	}
	return docs, nil
}

// Import loads a corpus file into s and returns the number of documents
// added.
func (s *Store) Import(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	docs, err := ParseYAML(data)
	if err != nil {
		return 0, err
	}
	for i := range docs {
		if err := s.Add(ctx, &docs[i]); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}
