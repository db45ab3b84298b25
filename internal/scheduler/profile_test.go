package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func profileWithEnv(env map[string]any) *JobProfile {
	return &JobProfile{Data: map[string]any{
		"tester_container_config": map[string]any{"environment": env},
	}}
}

func TestPostRunWait(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   time.Duration
		wantOK bool
	}{
		{"integer string", "7200", 2 * time.Hour, true},
		{"padded string", " 60 ", time.Minute, true},
		{"float string", "3600.0", time.Hour, true},
		{"json number", json.Number("1800"), 30 * time.Minute, true},
		{"json float number", json.Number("3600.0"), time.Hour, true},
		{"float64", float64(120), 2 * time.Minute, true},
		{"zero", "0", 0, true},
		{"huge string clamps", "9223372036854775807", MaxPostRunWait, true},
		{"huge number clamps", json.Number("1e30"), MaxPostRunWait, true},
		{"fractional", "3600.5", 0, false},
		{"negative", "-5", 0, false},
		{"not a number", "soon", 0, false},
		{"NaN", "NaN", 0, false},
		{"wrong type", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wait, ok := profileWithEnv(map[string]any{"wait_time_post_success": tt.value}).PostRunWait(true)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, wait)
		})
	}
}

func TestPostRunWait_SelectsByOutcome(t *testing.T) {
	p := profileWithEnv(map[string]any{
		"wait_time_post_success": "100",
		"wait_time_post_failure": "5",
	})

	wait, ok := p.PostRunWait(true)
	assert.True(t, ok)
	assert.Equal(t, 100*time.Second, wait)

	wait, ok = p.PostRunWait(false)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, wait)
}

func TestPostRunWait_Missing(t *testing.T) {
	_, ok := (&JobProfile{Data: map[string]any{}}).PostRunWait(false)
	assert.False(t, ok)

	_, ok = profileWithEnv(nil).PostRunWait(false)
	assert.False(t, ok)
}
