package render

import (
	"errors"
	"strings"
	"sync"

	"github.com/rahul/planbench/internal/plan"
)

// EditState is the position of an inline summary edit.
type EditState string

const (
	EditIdle       EditState = "idle"
	EditEditing    EditState = "editing"
	EditSubmitting EditState = "submitting"
)

var ErrNotEditing = errors.New("summary is not being edited")

// Edit is a committed summary change ready to be sent as an edit-step
// request.
type Edit struct {
	StepID    string
	Original  string
	Requested string
}

// SummaryEdit tracks in-place editing of one step summary. Changes are
// never applied locally; a commit only produces the request to submit.
type SummaryEdit struct {
	mu       sync.Mutex
	stepID   string
	original string
	draft    string
	state    EditState
}

// BeginEdit opens an edit on the step's current summary.
func BeginEdit(s plan.Step) *SummaryEdit {
	return &SummaryEdit{
		stepID:   s.StepID(),
		original: s.Summary(),
		draft:    s.Summary(),
		state:    EditEditing,
	}
}

func (e *SummaryEdit) State() EditState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *SummaryEdit) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

func (e *SummaryEdit) SetDraft(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EditEditing {
		return ErrNotEditing
	}
	e.draft = text
	return nil
}

// Cancel reverts the draft (Escape).
func (e *SummaryEdit) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EditEditing {
		e.draft = e.original
		e.state = EditIdle
	}
}

// Commit ends editing (blur or Enter). An empty or unchanged draft reverts
// and reports false; otherwise the edit moves to submitting and further
// changes are refused until Resolve.
func (e *SummaryEdit) Commit() (Edit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EditEditing {
		return Edit{}, false
	}
	requested := strings.TrimSpace(e.draft)
	if requested == "" || requested == e.original {
		e.draft = e.original
		e.state = EditIdle
		return Edit{}, false
	}
	e.state = EditSubmitting
	return Edit{StepID: e.stepID, Original: e.original, Requested: requested}, true
}

// Resolve marks the submitted request as finished.
func (e *SummaryEdit) Resolve() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = EditIdle
}
