package datasource

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashitfit/coach/internal/store"
)

// Row limits for a single source.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// TimeRange bounds a query on the source's first date-like column. Bounds
// have day granularity: From is inclusive, To includes the whole day. Either
// may be empty.
type TimeRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Request is what a caller may vary when reading a source.
type Request struct {
	UserID    string
	Filters   []Filter
	TimeRange *TimeRange
	Limit     int
}

// Query is a built statement with its bound arguments.
type Query struct {
	SQL  string
	Args []any
}

// BuildQuery composes a SELECT over d. Only d's allowed columns are selected
// and filtered on; default filters come first, then user scoping, the time
// range and finally the caller's filters. Caller-supplied strings are only
// ever bound as values.
func BuildQuery(d *Descriptor, req Request, dialect store.Dialect) (Query, error) {
	b := &queryBuilder{dialect: dialect}

	for _, f := range d.DefaultFilters {
		if err := b.addFilter(d, f); err != nil {
			return Query{}, fmt.Errorf("default filter: %w", err)
		}
	}

	if d.UserScoped {
		if req.UserID == "" {
			return Query{}, ErrUserRequired
		}
		b.addPredicate(d.userColumn(), "=", req.UserID)
	}

	if req.TimeRange != nil && d.UserScoped {
		if col, ok := d.DateColumn(); ok {
			from, to, err := req.TimeRange.bounds()
			if err != nil {
				return Query{}, err
			}
			if from != "" {
				b.addPredicate(col, ">=", from)
			}
			if to != "" {
				b.addPredicate(col, "<", to)
			}
		}
	}

	for _, f := range req.Filters {
		if err := b.addFilter(d, f); err != nil {
			return Query{}, err
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range d.AllowedColumns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(c))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(d.Table))
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	if d.OrderBy != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteIdent(d.OrderBy.Column))
		if d.OrderBy.Ascending {
			sb.WriteString(" ASC")
		} else {
			sb.WriteString(" DESC")
		}
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(ClampLimit(req.Limit)))

	return Query{SQL: sb.String(), Args: b.args}, nil
}

// ClampLimit applies the default and ceiling for a source's row limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

type queryBuilder struct {
	dialect store.Dialect
	where   []string
	args    []any
}

func (b *queryBuilder) addFilter(d *Descriptor, f Filter) error {
	if !d.Allows(f.Column) {
		return fmt.Errorf("%q: %w", f.Column, ErrColumnNotAllowed)
	}
	op, ok := allowedOperators[strings.ToLower(strings.TrimSpace(f.Operator))]
	if !ok {
		return fmt.Errorf("%q: %w", f.Operator, ErrOperatorNotAllowed)
	}
	v, err := bindValue(f.Value)
	if err != nil {
		return fmt.Errorf("column %s: %w", f.Column, err)
	}
	b.addPredicate(f.Column, op, v)
	return nil
}

// addPredicate must only be called with a column taken from a validated
// descriptor.
func (b *queryBuilder) addPredicate(column, op string, value any) {
	b.args = append(b.args, value)
	b.where = append(b.where, quoteIdent(column)+" "+op+" "+b.dialect.Placeholder(len(b.args)))
}

func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int, int64, float64:
		return val, nil
	case float32:
		return float64(val), nil
	default:
		return nil, fmt.Errorf("%T: %w", v, ErrInvalidValue)
	}
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

const dayLayout = "2006-01-02"

func (tr *TimeRange) bounds() (from, to string, err error) {
	if tr.From != "" {
		t, err := parseDay(tr.From)
		if err != nil {
			return "", "", fmt.Errorf("from %q: %w", tr.From, ErrInvalidTimeRange)
		}
		from = t.Format(dayLayout)
	}
	if tr.To != "" {
		t, err := parseDay(tr.To)
		if err != nil {
			return "", "", fmt.Errorf("to %q: %w", tr.To, ErrInvalidTimeRange)
		}
		to = t.AddDate(0, 0, 1).Format(dayLayout)
	}
	if from != "" && to != "" && from >= to {
		return "", "", fmt.Errorf("from is after to: %w", ErrInvalidTimeRange)
	}
	return from, to, nil
}

func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(dayLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
