package workbench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/plan"
	"github.com/rahul/planbench/internal/planclient"
)

var (
	ErrNoActivePlan    = errors.New("no plan is displayed")
	ErrEditInFlight    = errors.New("an edit of this step is already in progress")
	ErrUnknownMessage  = errors.New("no plan message with that id")
	ErrNotConversation = errors.New("not in conversation mode")
)

// EditError carries the human-readable reason a mutation failed.
type EditError struct {
	Message string
	Err     error
}

func (e *EditError) Error() string { return e.Message }
func (e *EditError) Unwrap() error { return e.Err }

// Backend is the planning service as seen by the workbench.
type Backend interface {
	EditPlanStep(ctx context.Context, req api.EditStepRequest) (*api.EditStepResponse, error)
	UpdateStepPrompt(ctx context.Context, req api.UpdatePromptRequest) (plan.Plan, error)
	ProcessMessage(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)

	GetAllPlans(ctx context.Context) ([]api.SavedPlan, error)
	GetPlan(ctx context.Context, name string) (*api.SavedPlan, error)
	SavePlan(ctx context.Context, name string, raw plan.Plan) error
	DeletePlan(ctx context.Context, name string) error

	GetAllConversations(ctx context.Context) ([]api.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) ([]conversation.Message, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Mode says who owns the displayed plan. The two modes are exclusive.
type Mode string

const (
	ModeConversation Mode = "conversation"
	ModeSavedPlan    Mode = "saved_plan"
)

// Patient is the record context sent with every chat turn.
type Patient struct {
	MRN     string
	CSN     string
	Dataset string
}

// Workbench owns one displayed plan and its conversation. Plans are never
// patched locally: every successful mutation replaces the whole tree with
// the one returned by the service, and a failed one leaves it untouched.
type Workbench struct {
	mu       sync.Mutex
	backend  Backend
	logger   *observability.Logger
	patient  Patient
	mode     Mode
	log      *conversation.Log
	planName string
	active   *plan.Plan
	inflight map[string]bool

	// OnPlanUpdate is called after the displayed plan is replaced.
	OnPlanUpdate func(plan.Plan)
}

func New(backend Backend, logger *observability.Logger, patient Patient) *Workbench {
	return &Workbench{
		backend:  backend,
		logger:   logger,
		patient:  patient,
		mode:     ModeConversation,
		log:      conversation.New(),
		inflight: make(map[string]bool),
	}
}

// view is a snapshot of what the workbench showed when a request started.
// Responses that arrive after the user moved elsewhere are dropped.
type view struct {
	mode     Mode
	log      *conversation.Log
	planName string
	plan     plan.Plan
}

func (w *Workbench) snapshotLocked() view {
	v := view{mode: w.mode, log: w.log, planName: w.planName}
	if w.active != nil {
		v.plan = *w.active
	}
	return v
}

func (w *Workbench) currentLocked(v view) bool {
	return w.mode == v.mode && w.log == v.log && w.planName == v.planName
}

// setPlanLocked replaces the displayed plan and returns the callback to run
// once the lock is released.
func (w *Workbench) setPlanLocked(p plan.Plan) func() {
	w.active = &p
	if err := plan.Validate(p); err != nil {
		w.logger.LogValidation(w.log.ID(), err)
		log.Printf("[Workbench] plan failed validation: %v", err)
	}
	cb := w.OnPlanUpdate
	return func() {
		if cb != nil {
			cb(p)
		}
	}
}

func (w *Workbench) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// PlanName is the saved plan being displayed, if any.
func (w *Workbench) PlanName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.planName
}

func (w *Workbench) Log() *conversation.Log {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.log
}

// ActivePlan returns the displayed plan.
func (w *Workbench) ActivePlan() (plan.Plan, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return plan.Plan{}, false
	}
	return *w.active, true
}

// Busy reports whether a step or prompt edit for stepID is in flight.
func (w *Workbench) Busy(stepID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight[stepKey(stepID)] || w.inflight[promptKey(stepID)]
}

func stepKey(id string) string   { return "step:" + id }
func promptKey(id string) string { return "prompt:" + id }

// acquire marks key as in flight. Mutual exclusion is per control, not
// global: other steps can be edited concurrently.
func (w *Workbench) acquireLocked(key string) (func(), error) {
	if w.inflight[key] {
		return nil, ErrEditInFlight
	}
	w.inflight[key] = true
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.inflight, key)
	}, nil
}

// EditStep asks the service to rewrite one step from an edited summary.
// On success the returned plan replaces the displayed one and, in
// conversation mode, one plan message is appended. On failure an error
// entry is appended and the displayed plan is left as it was.
func (w *Workbench) EditStep(ctx context.Context, stepID, original, requested string) error {
	w.mu.Lock()
	if w.active == nil {
		w.mu.Unlock()
		return ErrNoActivePlan
	}
	if plan.FindStep(w.active.Steps, stepID) == nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", plan.ErrStepNotFound, stepID)
	}
	release, err := w.acquireLocked(stepKey(stepID))
	if err != nil {
		w.mu.Unlock()
		return err
	}
	v := w.snapshotLocked()
	w.mu.Unlock()
	defer release()

	resp, err := w.backend.EditPlanStep(ctx, api.EditStepRequest{
		Prompt:           editPrompt(stepID, original, requested),
		RawPlan:          v.plan,
		StepID:           stepID,
		OriginalSummary:  original,
		RequestedSummary: requested,
	})
	w.logger.LogStepEdit(v.log.ID(), stepID, original, requested, err)

	if err != nil {
		log.Printf("[Workbench] edit of step %s failed: %v", stepID, err)
		if v.mode == ModeConversation {
			v.log.Append(conversation.Error(fmt.Sprintf("Could not update step %q: %s", original, planclient.Message(err))))
		}
		return fmt.Errorf("edit step %s: %w", stepID, err)
	}

	w.mu.Lock()
	if !w.currentLocked(v) {
		w.mu.Unlock()
		log.Printf("[Workbench] dropping edit of step %s: view changed", stepID)
		return nil
	}
	notify := w.setPlanLocked(resp.PlanData.RawPlan)
	if v.mode == ModeConversation {
		text := fmt.Sprintf("Edited step %q → %q\n\n%s", original, requested, resp.Message)
		v.log.Append(conversation.PlanMessage(text, resp.PlanData.RawPlan))
	}
	w.mu.Unlock()
	notify()
	return nil
}

func editPrompt(stepID, original, requested string) string {
	return fmt.Sprintf("Update step %s. Current description: %q. Requested description: %q. Regenerate whatever the new description implies and leave the other steps unchanged.", stepID, original, requested)
}

// EditPrompt replaces the structured prompt of a step through the service.
// Errors are returned to the caller so the editor can show them and stay
// open. In saved-plan mode the result is written back under the same name.
func (w *Workbench) EditPrompt(ctx context.Context, stepID string, prompt plan.Prompt) error {
	w.mu.Lock()
	if w.active == nil {
		w.mu.Unlock()
		return ErrNoActivePlan
	}
	if plan.FindStep(w.active.Steps, stepID) == nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", plan.ErrStepNotFound, stepID)
	}
	release, err := w.acquireLocked(promptKey(stepID))
	if err != nil {
		w.mu.Unlock()
		return err
	}
	v := w.snapshotLocked()
	w.mu.Unlock()
	defer release()

	updated, err := w.backend.UpdateStepPrompt(ctx, api.UpdatePromptRequest{
		RawPlan:        v.plan,
		StepID:         stepID,
		NewPromptValue: prompt,
	})
	w.logger.LogPromptEdit(v.log.ID(), stepID, err)
	if err != nil {
		log.Printf("[Workbench] prompt edit of step %s failed: %v", stepID, err)
		return &EditError{Message: planclient.Message(err), Err: err}
	}

	w.mu.Lock()
	if !w.currentLocked(v) {
		w.mu.Unlock()
		log.Printf("[Workbench] dropping prompt edit of step %s: view changed", stepID)
		return nil
	}
	notify := w.setPlanLocked(updated)
	if v.mode == ModeConversation {
		v.log.Append(conversation.PlanMessage(fmt.Sprintf("Updated the prompt of step %s.", stepID), updated))
	}
	w.mu.Unlock()
	notify()

	if v.mode == ModeSavedPlan {
		if err := w.backend.SavePlan(ctx, v.planName, updated); err != nil {
			return &EditError{
				Message: fmt.Sprintf("prompt updated but saving %q failed: %s", v.planName, planclient.Message(err)),
				Err:     err,
			}
		}
		w.logger.LogPlanSaved(v.planName, plan.Count(updated.Steps))
	}
	return nil
}

// SendMessage sends a chat turn to the planning agent. A workflow response
// becomes a plan message and the displayed plan.
func (w *Workbench) SendMessage(ctx context.Context, text string) (conversation.Message, error) {
	w.mu.Lock()
	if w.mode != ModeConversation {
		w.startConversationLocked()
	}
	v := w.snapshotLocked()
	patient := w.patient
	w.mu.Unlock()

	v.log.Append(conversation.User(text))
	v.log.Append(conversation.Loading())
	w.logger.LogMessage("", v.log.ID(), "user", text)

	resp, err := w.backend.ProcessMessage(ctx, api.ChatRequest{
		Text:           text,
		ConversationID: v.log.ID(),
		MRN:            patient.MRN,
		CSN:            patient.CSN,
		Dataset:        patient.Dataset,
	})
	v.log.RemoveLoadingPlaceholders()
	if err != nil {
		log.Printf("[Workbench] message failed: %v", err)
		msg := v.log.Append(conversation.Error("Sorry, something went wrong: " + planclient.Message(err)))
		return msg, err
	}

	if resp.ResponseType != api.ResponseWorkflow || resp.WorkflowData == nil {
		msg := v.log.Append(conversation.Assistant(resp.Message))
		w.logger.LogMessage("", v.log.ID(), "assistant", resp.Message)
		return msg, nil
	}

	msg := v.log.Append(conversation.PlanMessage(resp.Message, resp.WorkflowData.RawPlan))
	w.logger.LogMessage("", v.log.ID(), "plan", resp.Message)

	w.mu.Lock()
	if !w.currentLocked(v) {
		w.mu.Unlock()
		return msg, nil
	}
	notify := w.setPlanLocked(resp.WorkflowData.RawPlan)
	w.mu.Unlock()
	notify()
	return msg, nil
}

// SelectPlanMessage displays the plan pinned by an earlier plan message.
func (w *Workbench) SelectPlanMessage(messageID string) (plan.Plan, error) {
	w.mu.Lock()
	if w.mode != ModeConversation {
		w.mu.Unlock()
		return plan.Plan{}, ErrNotConversation
	}
	p, ok := w.log.SelectPlan(messageID)
	if !ok {
		w.mu.Unlock()
		return plan.Plan{}, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	notify := w.setPlanLocked(p)
	w.mu.Unlock()
	notify()
	return p, nil
}

// NewConversation resets to an empty conversation with a fresh id.
func (w *Workbench) NewConversation() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startConversationLocked()
	return w.log.ID()
}

func (w *Workbench) startConversationLocked() {
	w.mode = ModeConversation
	w.log = conversation.New()
	w.planName = ""
	w.active = nil
}

// OpenConversation loads a persisted conversation verbatim and displays its
// last plan, if any.
func (w *Workbench) OpenConversation(ctx context.Context, id string) error {
	msgs, err := w.backend.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	l := conversation.Load(id, msgs)

	w.mu.Lock()
	w.mode = ModeConversation
	w.log = l
	w.planName = ""
	w.active = nil
	notify := func() {}
	if p, ok := l.LastPlan(); ok {
		notify = w.setPlanLocked(p)
	}
	w.mu.Unlock()
	notify()
	return nil
}

func (w *Workbench) Conversations(ctx context.Context) ([]api.ConversationSummary, error) {
	return w.backend.GetAllConversations(ctx)
}

// DeleteConversation removes a conversation; deleting the open one starts
// a new conversation.
func (w *Workbench) DeleteConversation(ctx context.Context, id string) error {
	if err := w.backend.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == ModeConversation && w.log.ID() == id {
		w.startConversationLocked()
	}
	return nil
}

// SetPatient changes the record context of later chat turns.
func (w *Workbench) SetPatient(p Patient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patient = p
}
