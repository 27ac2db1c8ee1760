// Package datasource is the declarative catalog the assistant reads user data
// through. A descriptor maps a logical key ("workout_logs") to a physical
// table and an allow-list of columns; queries built from a descriptor only
// ever name identifiers that came from the validated catalog, never from the
// caller.
package datasource

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Domain errors.
var (
	ErrSourceNotFound     = errors.New("data source not found")
	ErrColumnNotAllowed   = errors.New("column not allowed")
	ErrOperatorNotAllowed = errors.New("operator not allowed")
	ErrUserRequired       = errors.New("user id required for user-scoped source")
	ErrInvalidValue       = errors.New("invalid filter value")
	ErrInvalidTimeRange   = errors.New("invalid time range")
)

// Supported filter operators.
const (
	OpEq   = "="
	OpGt   = ">"
	OpGte  = ">="
	OpLt   = "<"
	OpLte  = "<="
	OpLike = "like"
)

var allowedOperators = map[string]string{
	OpEq:   "=",
	OpGt:   ">",
	OpGte:  ">=",
	OpLt:   "<",
	OpLte:  "<=",
	OpLike: "LIKE",
}

// DefaultUserColumn is the column user-scoped sources filter on.
const DefaultUserColumn = "user_id"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Filter is a single column predicate. Value is always bound, never
// interpolated.
type Filter struct {
	Column   string `yaml:"column" json:"column"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// Order is the sort applied to a source.
type Order struct {
	Column    string `yaml:"column" json:"column"`
	Ascending bool   `yaml:"ascending" json:"ascending"`
}

// Descriptor is one catalog entry. Descriptors are read-only once a Registry
// has been built.
type Descriptor struct {
	Key            string
	Name           string
	Description    string
	Table          string
	AllowedColumns []string
	DefaultFilters []Filter
	OrderBy        *Order
	UserScoped     bool
	UserColumn     string
	Active         bool
}

// Allows reports whether column is in the descriptor's allow-list.
func (d *Descriptor) Allows(column string) bool {
	for _, c := range d.AllowedColumns {
		if c == column {
			return true
		}
	}
	return false
}

// DateColumn returns the first date-like allowed column, if any.
func (d *Descriptor) DateColumn() (string, bool) {
	for _, c := range d.AllowedColumns {
		if isDateLike(c) {
			return c, true
		}
	}
	return "", false
}

func isDateLike(column string) bool {
	return column == "date" ||
		strings.HasSuffix(column, "_date") ||
		strings.HasSuffix(column, "_at") ||
		strings.HasSuffix(column, "_time")
}

func (d *Descriptor) userColumn() string {
	if d.UserColumn != "" {
		return d.UserColumn
	}
	return DefaultUserColumn
}

// validate checks every identifier in the descriptor so that query building
// can quote them without further checks.
func (d *Descriptor) validate() error {
	if d.Key == "" {
		return fmt.Errorf("data source key is required")
	}
	if !identRe.MatchString(d.Table) {
		return fmt.Errorf("data source %s: invalid table name %q", d.Key, d.Table)
	}
	if len(d.AllowedColumns) == 0 {
		return fmt.Errorf("data source %s: at least one column is required", d.Key)
	}
	seen := make(map[string]bool, len(d.AllowedColumns))
	for _, c := range d.AllowedColumns {
		if !identRe.MatchString(c) {
			return fmt.Errorf("data source %s: invalid column name %q", d.Key, c)
		}
		if seen[c] {
			return fmt.Errorf("data source %s: duplicate column %q", d.Key, c)
		}
		seen[c] = true
	}
	for _, f := range d.DefaultFilters {
		if !d.Allows(f.Column) {
			return fmt.Errorf("data source %s: default filter column %q: %w", d.Key, f.Column, ErrColumnNotAllowed)
		}
		if _, ok := allowedOperators[strings.ToLower(f.Operator)]; !ok {
			return fmt.Errorf("data source %s: default filter operator %q: %w", d.Key, f.Operator, ErrOperatorNotAllowed)
		}
	}
	if d.OrderBy != nil && !d.Allows(d.OrderBy.Column) {
		return fmt.Errorf("data source %s: order column %q: %w", d.Key, d.OrderBy.Column, ErrColumnNotAllowed)
	}
	if d.UserScoped && !d.Allows(d.userColumn()) {
		return fmt.Errorf("data source %s: user column %q must be an allowed column", d.Key, d.userColumn())
	}
	return nil
}
