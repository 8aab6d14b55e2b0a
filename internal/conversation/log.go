package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/planbench/internal/plan"
)

// State is the lifecycle position of a conversation.
type State string

const (
	StateEmpty       State = "empty"
	StateAwaiting    State = "awaiting_response"
	StateHasMessages State = "has_messages"
)

// Log is the ordered message list of one conversation. Entries are never
// changed after they are appended; only loading placeholders are removed.
type Log struct {
	mu       sync.RWMutex
	id       string
	messages []Message
	now      func() time.Time
}

// New starts an empty conversation with a fresh id.
func New() *Log {
	return &Log{id: uuid.NewString(), now: time.Now}
}

// Load rebuilds a conversation from persisted messages, keeping their order.
// Messages without an id get one.
func Load(id string, messages []Message) *Log {
	l := &Log{id: id, now: time.Now}
	for _, m := range messages {
		l.appendLocked(m)
	}
	return l
}

func (l *Log) ID() string {
	return l.id
}

// Append adds a message at the end of the log, assigning an id and a
// timestamp when they are missing, and returns the stored message.
func (l *Log) Append(m Message) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(m)
}

func (l *Log) appendLocked(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = l.now()
	}
	l.messages = append(l.messages, m)
	return m
}

// RemoveLoadingPlaceholders drops every loading message and keeps the
// relative order of the rest.
func (l *Log) RemoveLoadingPlaceholders() {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.messages[:0]
	for _, m := range l.messages {
		if m.Type != TypeLoading {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(l.messages); i++ {
		l.messages[i] = Message{}
	}
	l.messages = kept
}

// Messages returns a copy of the log.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// SelectPlan returns the plan pinned by the plan message with the given id.
func (l *Log) SelectPlan(messageID string) (plan.Plan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.messages {
		if m.ID == messageID && m.Type == TypePlan && m.PlanData != nil {
			return m.PlanData.RawPlan, true
		}
	}
	return plan.Plan{}, false
}

// LastPlan returns the plan of the most recent plan message.
func (l *Log) LastPlan() (plan.Plan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.messages) - 1; i >= 0; i-- {
		m := l.messages[i]
		if m.Type == TypePlan && m.PlanData != nil {
			return m.PlanData.RawPlan, true
		}
	}
	return plan.Plan{}, false
}

func (l *Log) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return StateEmpty
	}
	for _, m := range l.messages {
		if m.Type == TypeLoading {
			return StateAwaiting
		}
	}
	return StateHasMessages
}
