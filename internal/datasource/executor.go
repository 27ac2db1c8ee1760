package datasource

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
	"github.com/hashitfit/coach/internal/store"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/datasource")

// Row is one result row keyed by column name.
type Row map[string]any

// Service resolves descriptors and runs built queries against the store.
type Service struct {
	registry *Registry
	db       *store.DB
}

// NewService creates a data source service.
func NewService(registry *Registry, db *store.DB) *Service {
	return &Service{registry: registry, db: db}
}

// Registry returns the underlying catalog.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Fetch resolves key, builds its query and returns the rows.
func (s *Service) Fetch(ctx context.Context, key string, req Request) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "datasource.query",
		trace.WithAttributes(attribute.String("datasource.key", key)))
	defer span.End()

	d, err := s.registry.Resolve(key)
	if err != nil {
		return nil, err
	}
	q, err := BuildQuery(d, req, s.db.Dialect)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	rows, err := s.run(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	span.SetAttributes(attribute.Int("datasource.rows", len(rows)))
	return rows, nil
}

func (s *Service) run(ctx context.Context, q Query) ([]Row, error) {
	// q.SQL already carries dialect placeholders; bypass Rebind.
	rows, err := s.db.DB.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize makes driver values JSON friendly.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}
