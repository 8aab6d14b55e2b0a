package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle     Role = "IDLE"
	RolePlanning Role = "PLANNING"
	RoleEditing  Role = "EDITING"
)

// Status is a point-in-time copy of what the process is doing and what it
// has done since start.
type Status struct {
	Role          Role
	Task          string
	InFlight      int
	Subject       string // conversation or saved plan last worked on
	LastHeartbeat time.Time

	Plans       int // plans saved
	StepEdits   int
	PromptEdits int
	FailedEdits int
	Rejections  int // policy denials and validation failures
	Tokens      int
}

type tracker struct {
	mu sync.RWMutex
	st Status
}

var globalStatus = &tracker{st: Status{Role: RoleIdle, LastHeartbeat: time.Now()}}

// SetStatus updates the global role and task.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.st.Role = role
	globalStatus.st.Task = task
}

// SetSubject names the conversation or plan shown on the status line.
func SetSubject(subject string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.st.Subject = subject
}

// Begin records the start of a planning request and returns the func that
// records its end.
func Begin(role Role, task string) func() {
	return globalStatus.begin(role, task)
}

func (t *tracker) begin(role Role, task string) func() {
	t.mu.Lock()
	t.st.InFlight++
	t.st.Role = role
	t.st.Task = task
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.st.InFlight--
		if t.st.InFlight <= 0 {
			t.st.InFlight = 0
			t.st.Role = RoleIdle
			t.st.Task = ""
		}
	}
}

// record folds a logged event into the counters.
func (t *tracker) record(evt Event) {
	failed := false
	if d, ok := evt.Data.(map[string]string); ok {
		_, hasErr := d["error"]
		failed = hasErr || d["effect"] == "deny"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch evt.Type {
	case EventTypePlanSaved:
		t.st.Plans++
	case EventTypeStepEdit, EventTypePromptEdit:
		switch {
		case failed:
			t.st.FailedEdits++
		case evt.Type == EventTypeStepEdit:
			t.st.StepEdits++
		default:
			t.st.PromptEdits++
		}
	case EventTypePolicyCheck, EventTypeValidation:
		if failed {
			t.st.Rejections++
		}
	case EventTypeCost:
		if d, ok := evt.Data.(map[string]any); ok {
			if n, ok := d["total_tokens"].(int); ok {
				t.st.Tokens += n
			}
		}
	case EventTypeHeartbeat:
		t.st.LastHeartbeat = evt.Timestamp
	}
}

func (t *tracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st
}

// Snapshot returns a copy of the global status.
func Snapshot() Status {
	return globalStatus.snapshot()
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.st.LastHeartbeat = time.Now()
}
