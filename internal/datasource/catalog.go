package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hashitfit/coach/internal/store"
)

// CatalogEntry is the persisted shape of a descriptor, as stored in the
// data_sources table or written in a catalog YAML file.
type CatalogEntry struct {
	Key         string        `yaml:"key" json:"key"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	UserScoped  bool          `yaml:"user_scoped" json:"user_scoped"`
	Config      CatalogConfig `yaml:"config" json:"config"`
	IsActive    *bool         `yaml:"is_active,omitempty" json:"is_active,omitempty"`
}

// CatalogConfig is the physical part of a catalog entry.
type CatalogConfig struct {
	Table      string   `yaml:"table" json:"table"`
	Columns    []string `yaml:"columns" json:"columns"`
	Filters    []Filter `yaml:"filters,omitempty" json:"filters,omitempty"`
	OrderBy    *Order   `yaml:"order_by,omitempty" json:"order_by,omitempty"`
	UserColumn string   `yaml:"user_column,omitempty" json:"user_column,omitempty"`
}

type catalogFile struct {
	Sources []CatalogEntry `yaml:"sources"`
}

// Descriptor converts the entry. Entries without is_active are active.
func (e CatalogEntry) Descriptor() Descriptor {
	active := true
	if e.IsActive != nil {
		active = *e.IsActive
	}
	return Descriptor{
		Key:            e.Key,
		Name:           e.Name,
		Description:    e.Description,
		Table:          e.Config.Table,
		AllowedColumns: e.Config.Columns,
		DefaultFilters: e.Config.Filters,
		OrderBy:        e.Config.OrderBy,
		UserScoped:     e.UserScoped,
		UserColumn:     e.Config.UserColumn,
		Active:         active,
	}
}

// ParseEntries parses a catalog document of the form `sources: [...]`.
func ParseEntries(data []byte) ([]CatalogEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return f.Sources, nil
}

// ParseYAML parses a catalog document into descriptors.
func ParseYAML(data []byte) ([]Descriptor, error) {
	entries, err := ParseEntries(data)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Descriptor())
	}
	return out, nil
}

// LoadEntries reads and parses a catalog file without converting it.
func LoadEntries(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseEntries(data)
}

// LoadYAML reads and parses a catalog file.
func LoadYAML(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseYAML(data)
}

// LoadFromDB reads catalog rows from the data_sources table.
func LoadFromDB(ctx context.Context, db *store.DB) ([]Descriptor, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT key, name, description, user_scoped, config, is_active FROM data_sources ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("loading data sources: %w", err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var e CatalogEntry
		var cfgJSON string
		var active bool
		if err := rows.Scan(&e.Key, &e.Name, &e.Description, &e.UserScoped, &cfgJSON, &active); err != nil {
			return nil, fmt.Errorf("scanning data source: %w", err)
		}
		if err := json.Unmarshal([]byte(cfgJSON), &e.Config); err != nil {
			return nil, fmt.Errorf("data source %s: invalid config: %w", e.Key, err)
		}
		e.IsActive = &active
		out = append(out, e.Descriptor())
	}
	return out, rows.Err()
}

// SaveToDB upserts catalog entries into the data_sources table.
func SaveToDB(ctx context.Context, db *store.DB, entries []CatalogEntry) error {
	for _, e := range entries {
		cfgJSON, err := json.Marshal(e.Config)
		if err != nil {
			return fmt.Errorf("data source %s: encoding config: %w", e.Key, err)
		}
		active := e.IsActive == nil || *e.IsActive
		_, err = db.ExecContext(ctx,
			`INSERT INTO data_sources (key, name, description, user_scoped, config, is_active)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET name = excluded.name, description = excluded.description,
			   user_scoped = excluded.user_scoped, config = excluded.config, is_active = excluded.is_active`,
			e.Key, e.Name, e.Description, e.UserScoped, string(cfgJSON), active)
		if err != nil {
			return fmt.Errorf("saving data source %s: %w", e.Key, err)
		}
	}
	return nil
}

// DefaultCatalog is the built-in catalog of the fitness tracker's tables.
func DefaultCatalog() []Descriptor {
	return []Descriptor{
		{
			Key:            "workout_logs",
			Name:           "Workout logs",
			Description:    "Completed workouts with duration, calories and self-rating",
			Table:          "workout_logs",
			AllowedColumns: []string{"id", "user_id", "log_date", "workout_name", "duration_minutes", "calories_burned", "rating", "notes"},
			OrderBy:        &Order{Column: "log_date"},
			UserScoped:     true,
			Active:         true,
		},
		{
			Key:            "nutrition_logs",
			Name:           "Nutrition logs",
			Description:    "Logged meals and foods with macros",
			Table:          "nutrition_logs",
			AllowedColumns: []string{"id", "user_id", "log_date", "meal_type", "food_name", "calories", "protein_g", "carbs_g", "fat_g"},
			OrderBy:        &Order{Column: "log_date"},
			UserScoped:     true,
			Active:         true,
		},
		{
			Key:            "progress_metrics",
			Name:           "Progress metrics",
			Description:    "Body measurements over time",
			Table:          "progress_metrics",
			AllowedColumns: []string{"id", "user_id", "measured_at", "weight_kg", "body_fat_pct", "notes"},
			OrderBy:        &Order{Column: "measured_at"},
			UserScoped:     true,
			Active:         true,
		},
		{
			Key:            "fitness_assessments",
			Name:           "Fitness assessments",
			Description:    "Onboarding assessments: goals, experience, equipment",
			Table:          "fitness_assessments",
			AllowedColumns: []string{"id", "user_id", "created_at", "age", "gender", "height_cm", "weight_kg", "fitness_goal", "experience_level", "equipment", "days_per_week"},
			OrderBy:        &Order{Column: "created_at"},
			UserScoped:     true,
			Active:         true,
		},
		{
			Key:            "upcoming_workouts",
			Name:           "Upcoming workouts",
			Description:    "Scheduled workouts not yet completed",
			Table:          "workout_schedules",
			AllowedColumns: []string{"id", "user_id", "scheduled_date", "workout_name", "is_completed"},
			DefaultFilters: []Filter{{Column: "is_completed", Operator: OpEq, Value: false}},
			OrderBy:        &Order{Column: "scheduled_date", Ascending: true},
			UserScoped:     true,
			Active:         true,
		},
	}
}
