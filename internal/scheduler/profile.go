package scheduler

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	StageCompleted = "TASK_COMPLETED"
	StageKilled    = "TASK_KILLED"
)

// JobProfile is a stored test-execution configuration. Data is the complete
// blob as returned by the service so fields this package does not know about
// survive a read-modify-write cycle.
type JobProfile struct {
	ID   string
	Data map[string]any
}

// OverrideSDKs returns sdk_installation_options.override_sdks, or "" when unset.
func (p *JobProfile) OverrideSDKs() string {
	opts, _ := p.Data["sdk_installation_options"].(map[string]any)
	v, _ := opts["override_sdks"].(string)
	return v
}

// SetOverrideSDKs pins the SDK requirement installed by the profile's tests.
func (p *JobProfile) SetOverrideSDKs(requirement string) {
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	opts, ok := p.Data["sdk_installation_options"].(map[string]any)
	if !ok {
		opts = map[string]any{}
		p.Data["sdk_installation_options"] = opts
	}
	opts["override_sdks"] = requirement
}

// MaxPostRunWait caps the configured post-run wait.
const MaxPostRunWait = 30 * 24 * time.Hour

// PostRunWait returns the wait configured under
// tester_container_config.environment for a passed or failed run. Whole
// numbers are accepted as integers, floats or strings ("3600", "3600.0").
// ok is false when the setting is absent, negative or fractional; values
// above MaxPostRunWait are clamped.
func (p *JobProfile) PostRunWait(passed bool) (wait time.Duration, ok bool) {
	key := "wait_time_post_failure"
	if passed {
		key = "wait_time_post_success"
	}

	tcc, _ := p.Data["tester_container_config"].(map[string]any)
	env, _ := tcc["environment"].(map[string]any)

	secs, ok := wholeSeconds(env[key])
	if !ok {
		return 0, false
	}
	if secs > MaxPostRunWait.Seconds() {
		return MaxPostRunWait, true
	}
	return time.Duration(secs) * time.Second, true
}

// wholeSeconds reads a non-negative whole number from a decoded JSON value.
func wholeSeconds(v any) (float64, bool) {
	var f float64
	switch v := v.(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = v
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}

	if math.IsNaN(f) || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return f, true
}

// Task is one triggered execution of a job profile.
type Task struct {
	ID     string
	Stages []string
	// Counted is false when the service reported no test_result_count.
	Counted   bool
	Total     int
	Succeeded int
}

// Terminal reports whether the task reached a completed or killed stage.
func (t *Task) Terminal() bool {
	for _, s := range t.Stages {
		if s == StageCompleted || s == StageKilled {
			return true
		}
	}
	return false
}

// Passed reports whether every test succeeded. More successes than tests is a
// data anomaly and does not pass.
func (t *Task) Passed() bool {
	return t.Counted && t.Succeeded == t.Total
}

// parseStages accepts the stage list either as strings, as objects carrying a
// name or stage field, or as an object keyed by stage.
func parseStages(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names
	}

	var objs []map[string]any
	if err := json.Unmarshal(raw, &objs); err == nil {
		names = make([]string, 0, len(objs))
		for _, o := range objs {
			for _, k := range []string{"stage", "name"} {
				if s, ok := o[k].(string); ok {
					names = append(names, s)
					break
				}
			}
		}
		return names
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err == nil {
		names = make([]string, 0, len(keyed))
		for k := range keyed {
			names = append(names, k)
		}
		return names
	}

	return nil
}
