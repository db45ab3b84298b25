package qualifier

import (
	"sync"
	"time"

	"github.com/kiranshivaraju/sdkqual/pkg/models"
)

// State names the step the loop is currently in.
type State string

const (
	StateIdle           State = "idle"
	StateResolveProfile State = "resolve_profile"
	StateFetchVersion   State = "fetch_version"
	StateUpdateProfile  State = "update_profile"
	StateTrigger        State = "trigger"
	StatePoll           State = "poll"
	StateEvaluate       State = "evaluate"
	StatePublish        State = "publish"
	StateRecord         State = "record"
	StateWait           State = "wait"
	StateStopped        State = "stopped"
)

// Status is a point-in-time snapshot of the loop.
type Status struct {
	State        State       `json:"state"`
	Iteration    int         `json:"iteration"`
	JobProfile   string      `json:"job_profile"`
	JobProfileID string      `json:"job_profile_id,omitempty"`
	Namespace    string      `json:"namespace"`
	Branch       string      `json:"branch"`
	V4Version    string      `json:"v4_version"`
	Package      string      `json:"package"`
	TaskID       string      `json:"task_id,omitempty"`
	WaitUntil    *time.Time  `json:"wait_until,omitempty"`
	LastRun      *models.Run `json:"last_run,omitempty"`
}

// statusBox guards the snapshot read by the status API.
type statusBox struct {
	mu sync.RWMutex
	s  Status
}

func (b *statusBox) get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.s
	if s.LastRun != nil {
		run := *s.LastRun
		s.LastRun = &run
	}
	return s
}

func (b *statusBox) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
}
