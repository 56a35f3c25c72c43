package qlik

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestFormatApps(t *testing.T) {
	raw := []RawApp{
		{
			ID:           "a1",
			Name:         "Sales",
			Published:    true,
			FileSize:     1024,
			Owner:        &namedRef{ID: "u1", Name: "alice"},
			Stream:       &namedRef{ID: "s1", Name: "Finance"},
			Tags:         []namedRef{{Name: "prod"}, {Name: "daily"}},
			CreatedDate:  "2024-01-01T00:00:00.000Z",
			ModifiedDate: "2024-02-01T00:00:00.000Z",
		},
		{ID: "a2", Name: "Scratch"},
	}

	want := []App{
		{
			ID:        "a1",
			Name:      "Sales",
			Published: true,
			FileSize:  1024,
			Owner:     "alice",
			Stream:    "Finance",
			Tags:      []string{"prod", "daily"},
			Created:   "2024-01-01T00:00:00.000Z",
			Modified:  "2024-02-01T00:00:00.000Z",
		},
		{ID: "a2", Name: "Scratch", Owner: "Unknown", Stream: "Personal", Tags: []string{}},
	}

	if diff := cmp.Diff(want, FormatApps(raw)); diff != "" {
		t.Errorf("FormatApps mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatTasksFillsDefaults(t *testing.T) {
	got := FormatTasks([]RawTask{{ID: "t1", App: &namedRef{ID: "a1", Name: "Sales"}, Enabled: true}})

	want := []Task{{
		ID:                  "t1",
		Name:                "Unknown",
		TaskType:            "Unknown",
		Enabled:             true,
		App:                 TaskApp{ID: "a1", Name: "Sales"},
		LastExecutionResult: map[string]interface{}{},
		Operational:         map[string]interface{}{},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatTasks mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatExecutionResults(t *testing.T) {
	raw := []RawExecutionResult{
		{
			ID:        "old",
			TaskName:  "Reload Sales",
			Status:    float64(7),
			StartTime: "2024-03-01T10:00:00.000Z",
			StopTime:  "2024-03-01T10:00:01.500Z",
			Details: []RawResultDetail{
				{DetailType: "ScriptLogEntry", Timestamp: "t1", Level: "Info", Message: "loading"},
				{DetailType: float64(2), Timestamp: "t2", Message: "field not found"},
				{DetailType: "Other", Message: "ignored"},
			},
		},
		{
			ID:        "new",
			StartTime: "2024-03-02T10:00:00.000Z",
		},
	}

	got := FormatExecutionResults("task-1", raw)

	want := []ExecutionLog{
		{
			ID:                "new",
			TaskID:            "task-1",
			TaskName:          "Unknown",
			Status:            "Unknown",
			StartTime:         "2024-03-02T10:00:00.000Z",
			DurationFormatted: "Unknown",
			ScriptLog:         []ScriptLogEntry{},
			ErrorMessages:     []string{},
		},
		{
			ID:                "old",
			TaskID:            "task-1",
			TaskName:          "Reload Sales",
			Status:            float64(7),
			StartTime:         "2024-03-01T10:00:00.000Z",
			StopTime:          "2024-03-01T10:00:01.500Z",
			DurationMS:        1500,
			DurationFormatted: "1.50s",
			ScriptLog:         []ScriptLogEntry{{Timestamp: "t1", Level: "Info", Message: "loading"}},
			ErrorMessages:     []string{"field not found"},
			HasErrors:         true,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatExecutionResults mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutionDuration(t *testing.T) {
	_, ok := executionDuration("", "2024-03-01T10:00:00Z")
	assert.False(t, ok)
	_, ok = executionDuration("garbage", "2024-03-01T10:00:00Z")
	assert.False(t, ok)

	d, ok := executionDuration("2024-03-01T10:00:00Z", "2024-03-01T10:01:00Z")
	assert.True(t, ok)
	assert.Equal(t, int64(60000), d.Milliseconds())
}
