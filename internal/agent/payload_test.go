package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validWorkout = `{"name":"Starter","workouts":[{"name":"Full body","exercises":[{"name":"Squat","sets":3,"reps":"8-12"}]}]}`

func TestParsePayload_Strict(t *testing.T) {
	doc, err := ParsePayload("  "+validWorkout+"\n", WorkoutPlanSchema)
	require.NoError(t, err)
	assert.JSONEq(t, validWorkout, string(doc))
}

func TestParsePayload_SalvagesFencedReply(t *testing.T) {
	reply := "Here is your plan:\n```json\n" + validWorkout + "\n```\nEnjoy!"
	doc, err := ParsePayload(reply, WorkoutPlanSchema)
	require.NoError(t, err)
	assert.JSONEq(t, validWorkout, string(doc))
}

func TestParsePayload_SchemaViolation(t *testing.T) {
	_, err := ParsePayload(`{"name":"Starter"}`, WorkoutPlanSchema)
	require.ErrorIs(t, err, ErrInvalidPayload)
	assert.Contains(t, err.Error(), "workouts")
}

func TestParsePayload_NoObject(t *testing.T) {
	_, err := ParsePayload("Sorry, I can't help with that.", WorkoutPlanSchema)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestParsePayload_NilSchemaOnlyRequiresObject(t *testing.T) {
	doc, err := ParsePayload(`{"anything":true}`, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"anything":true}`, string(doc))
}

func TestSalvage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"prose around", `sure! {"a":{"b":2}} done`, `{"a":{"b":2}}`, true},
		{"braces in strings", `x {"a":"}{","b":"\"}"} y`, `{"a":"}{","b":"\"}"}`, true},
		{"skips invalid first candidate", `{not json} then {"a":1}`, `{"a":1}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"none", `no json here`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Salvage(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddedSchemasAcceptExamples(t *testing.T) {
	require.NoError(t, NutritionPlanSchema.Validate([]byte(
		`{"name":"Cut","daily_calories":2100,"macros":{"protein_grams":160},"meals":[{"name":"Breakfast","foods":["oats"]}]}`)))
	require.NoError(t, RecommendationsSchema.Validate([]byte(
		`{"recommendations":[{"category":"recovery","title":"Sleep 8h","priority":"high"}]}`)))
	assert.Error(t, RecommendationsSchema.Validate([]byte(
		`{"recommendations":[{"category":"astrology","title":"x"}]}`)))
}
