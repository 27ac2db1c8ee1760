package agent

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
)

var (
	//go:embed schemas/workout_plan.json
	workoutPlanSchemaJSON []byte
	//go:embed schemas/nutrition_plan.json
	nutritionPlanSchemaJSON []byte
	//go:embed schemas/recommendations.json
	recommendationsSchemaJSON []byte
)

// Payload schemas, compiled once.
var (
	WorkoutPlanSchema     = MustCompileSchema("workout_plan", workoutPlanSchemaJSON)
	NutritionPlanSchema   = MustCompileSchema("nutrition_plan", nutritionPlanSchemaJSON)
	RecommendationsSchema = MustCompileSchema("recommendations", recommendationsSchemaJSON)
)

// WorkoutPlan is the workout workflow payload.
type WorkoutPlan struct {
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	DurationWeeks int              `json:"duration_weeks,omitempty"`
	DaysPerWeek   int              `json:"days_per_week,omitempty"`
	Workouts      []PlannedWorkout `json:"workouts"`
}

// PlannedWorkout is one session of a plan.
type PlannedWorkout struct {
	Day             int        `json:"day,omitempty"`
	Name            string     `json:"name"`
	Focus           string     `json:"focus,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Exercises       []Exercise `json:"exercises"`
}

// Exercise is one movement prescription.
type Exercise struct {
	Name        string `json:"name"`
	Sets        int    `json:"sets,omitempty"`
	Reps        Reps   `json:"reps,omitempty"`
	RestSeconds int    `json:"rest_seconds,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Reps accepts either a count (10) or a range ("8-12").
type Reps string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reps) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Reps(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*r = Reps(strings.TrimSpace(string(b)))
	return nil
}

// NutritionPlan is the nutrition workflow payload.
type NutritionPlan struct {
	Name          string `json:"name"`
	DailyCalories int    `json:"daily_calories"`
	Macros        Macros `json:"macros"`
	Meals         []Meal `json:"meals"`
	Notes         string `json:"notes,omitempty"`
}

// Macros are daily macronutrient targets in grams.
type Macros struct {
	ProteinGrams float64 `json:"protein_grams,omitempty"`
	CarbsGrams   float64 `json:"carbs_grams,omitempty"`
	FatGrams     float64 `json:"fat_grams,omitempty"`
}

// Meal is one meal slot of a nutrition plan.
type Meal struct {
	Name     string   `json:"name"`
	Time     string   `json:"time,omitempty"`
	Calories int      `json:"calories,omitempty"`
	Foods    []string `json:"foods,omitempty"`
}

// Recommendations is the coaching recommendations payload.
type Recommendations struct {
	Summary string           `json:"summary,omitempty"`
	Items   []Recommendation `json:"recommendations"`
}

// Recommendation is a single coaching suggestion.
type Recommendation struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// ChatReply is the chat workflow payload. Chat replies are free text.
type ChatReply struct {
	Reply    string `json:"reply"`
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}
