package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/plan"
	"github.com/rahul/planbench/internal/planclient"
	"github.com/rahul/planbench/internal/render"
	"github.com/rahul/planbench/internal/workbench"
)

const helpText = `Describe the analysis you want and I will propose a plan.

/show                     show the current plan
/expand <id>[.field]      toggle step details or a truncated input
/edit <id> [summary]      change a step summary (without summary: send it next)
/cancel                   abandon a summary edit
/prompt <id> <json>       set a step's prompt {"system_prompt","user_prompt","examples"}
/history                  list this conversation's messages
/select <message-id>      show the plan of an earlier message
/new                      start a new conversation
/conversations            list conversations
/open <id>                reopen a conversation
/delete_conversation <id> delete a conversation
/plans                    list saved plans
/load <name>              show a saved plan
/save <name>              save the current plan under a new name
/overwrite <name>         overwrite an existing saved plan
/delete <name>            delete a saved plan
/patient <mrn> [csn] [dataset]  set the record context`

const previewLength = 60

// session is the state of one chat: its workbench, what is expanded and a
// pending summary edit.
type session struct {
	mu   sync.Mutex
	wb   *workbench.Workbench
	view *render.View
	edit *render.SummaryEdit
}

// Dispatcher routes chat messages to one workbench per chat id.
type Dispatcher struct {
	Backend  workbench.Backend
	Logger   *observability.Logger
	Policies render.Policies
	Patient  workbench.Patient
	// Timeout bounds every request a chat message triggers. Zero means no
	// limit beyond the caller's context.
	Timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewDispatcher(backend workbench.Backend, logger *observability.Logger, policies render.Policies, patient workbench.Patient) *Dispatcher {
	return &Dispatcher{
		Backend:  backend,
		Logger:   logger,
		Policies: policies,
		Patient:  patient,
		sessions: make(map[string]*session),
	}
}

func (d *Dispatcher) session(chatID string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[chatID]
	if !ok {
		s = &session{
			wb:   workbench.New(d.Backend, d.Logger, d.Patient),
			view: render.NewView(),
		}
		s.wb.OnPlanUpdate = func(p plan.Plan) {
			log.Printf("[Gateway] chat %s: plan replaced (%d steps)", chatID, plan.Count(p.Steps))
		}
		d.sessions[chatID] = s
	}
	return s
}

// Handle runs a command or sends the text to the planning agent.
func (d *Dispatcher) Handle(ctx context.Context, chatID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	s := d.session(chatID)
	defer func() { observability.SetSubject(subject(chatID, s)) }()

	if !strings.HasPrefix(text, "/") {
		if e := s.pendingEdit(); e != nil {
			if err := e.SetDraft(text); err != nil {
				return err.Error()
			}
			return d.submitEdit(ctx, s, e)
		}
		return d.chat(ctx, s, text)
	}

	d.Logger.LogMessage(chatID, s.wb.Log().ID(), "command", text)
	cmd, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)
	// telegram group commands arrive as /cmd@botname
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start", "/help":
		return helpText
	case "/show":
		return d.show(s)
	case "/expand":
		return d.expand(s, args)
	case "/edit":
		return d.beginEdit(ctx, s, args)
	case "/cancel":
		if e := s.takeEdit(); e != nil {
			e.Cancel()
			return "Edit cancelled."
		}
		return "Nothing to cancel."
	case "/prompt":
		return d.setPrompt(ctx, s, args)
	case "/history":
		return history(s.wb.Log())
	case "/select":
		if _, err := s.wb.SelectPlanMessage(args); err != nil {
			return failure(err)
		}
		s.view.Reset()
		return d.show(s)
	case "/new":
		id := s.wb.NewConversation()
		s.view.Reset()
		s.takeEdit()
		return "New conversation " + id
	case "/conversations":
		return d.conversations(ctx, s)
	case "/open":
		if err := s.wb.OpenConversation(ctx, args); err != nil {
			return failure(err)
		}
		s.view.Reset()
		s.takeEdit()
		return history(s.wb.Log()) + "\n\n" + d.show(s)
	case "/delete_conversation":
		if err := s.wb.DeleteConversation(ctx, args); err != nil {
			return failure(err)
		}
		return "Conversation deleted."
	case "/plans":
		return d.plans(ctx, s)
	case "/load":
		if _, err := s.wb.LoadPlan(ctx, args); err != nil {
			return failure(err)
		}
		s.view.Reset()
		s.takeEdit()
		return fmt.Sprintf("Loaded %q.\n\n%s", s.wb.PlanName(), d.show(s))
	case "/save":
		return d.save(ctx, s, workbench.SaveNew, args)
	case "/overwrite":
		return d.save(ctx, s, workbench.SaveOverwrite, args)
	case "/delete":
		if err := s.wb.DeletePlan(ctx, args); err != nil {
			return failure(err)
		}
		return fmt.Sprintf("Deleted %q.", args)
	case "/patient":
		return d.setPatient(s, args)
	}
	return "Unknown command. Send /help for the list."
}

func (s *session) pendingEdit() *render.SummaryEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit != nil && s.edit.State() == render.EditEditing {
		return s.edit
	}
	return nil
}

func (s *session) takeEdit() *render.SummaryEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.edit
	s.edit = nil
	if e != nil && e.State() != render.EditEditing {
		return nil
	}
	return e
}

func (d *Dispatcher) renderer(s *session) *render.Renderer {
	return render.NewRenderer(d.Policies, s.view)
}

func (d *Dispatcher) show(s *session) string {
	p, ok := s.wb.ActivePlan()
	if !ok {
		return "No plan yet."
	}
	header := "Plan"
	if s.wb.Mode() == workbench.ModeSavedPlan {
		header = fmt.Sprintf("Saved plan %q", s.wb.PlanName())
	}
	return header + ":\n" + d.renderer(s).Render(p)
}

func (d *Dispatcher) expand(s *session, key string) string {
	if key == "" {
		return "Usage: /expand <step-id>[.field]"
	}
	p, ok := s.wb.ActivePlan()
	if !ok {
		return "No plan yet."
	}
	stepID, _, _ := strings.Cut(key, ".")
	if plan.FindStep(p.Steps, stepID) == nil {
		return fmt.Sprintf("No step %s in the current plan.", stepID)
	}
	s.view.Toggle(key)
	return d.show(s)
}

// subject names what a chat is working on, for the status line.
func subject(chatID string, s *session) string {
	if s.wb.Mode() == workbench.ModeSavedPlan {
		return fmt.Sprintf("chat %s: plan %s", chatID, s.wb.PlanName())
	}
	return fmt.Sprintf("chat %s: conversation %s", chatID, s.wb.Log().ID())
}

func (d *Dispatcher) chat(ctx context.Context, s *session, text string) string {
	done := observability.Begin(observability.RolePlanning, text)
	defer done()

	msg, err := s.wb.SendMessage(ctx, text)
	if err != nil || msg.Type != conversation.TypePlan {
		return render.Clean(msg.Text())
	}
	s.view.Reset()
	return render.Clean(msg.Message) + "\n\n" + d.show(s)
}

func (d *Dispatcher) beginEdit(ctx context.Context, s *session, args string) string {
	stepID, summary, _ := strings.Cut(args, " ")
	if stepID == "" {
		return "Usage: /edit <step-id> [new summary]"
	}
	p, ok := s.wb.ActivePlan()
	if !ok {
		return "No plan yet."
	}
	step := plan.FindStep(p.Steps, stepID)
	if step == nil {
		return fmt.Sprintf("No step %s in the current plan.", stepID)
	}
	if s.wb.Busy(stepID) {
		return fmt.Sprintf("Step %s is still being updated.", stepID)
	}

	e := render.BeginEdit(step)
	if strings.TrimSpace(summary) == "" {
		s.mu.Lock()
		s.edit = e
		s.mu.Unlock()
		return fmt.Sprintf("Editing %s: %q\nSend the new summary, or /cancel.", stepID, step.Summary())
	}
	if err := e.SetDraft(summary); err != nil {
		return err.Error()
	}
	return d.submitEdit(ctx, s, e)
}

func (d *Dispatcher) submitEdit(ctx context.Context, s *session, e *render.SummaryEdit) string {
	s.mu.Lock()
	if s.edit == e {
		s.edit = nil
	}
	s.mu.Unlock()

	edit, ok := e.Commit()
	if !ok {
		return "Summary unchanged."
	}
	defer e.Resolve()

	done := observability.Begin(observability.RoleEditing, "step "+edit.StepID)
	defer done()

	if err := s.wb.EditStep(ctx, edit.StepID, edit.Original, edit.Requested); err != nil {
		return "Could not update the step: " + failure(err)
	}
	var note string
	if msgs := s.wb.Log().Messages(); s.wb.Mode() == workbench.ModeConversation && len(msgs) > 0 {
		note = render.Clean(msgs[len(msgs)-1].Text()) + "\n\n"
	}
	return note + d.show(s)
}

func (d *Dispatcher) setPrompt(ctx context.Context, s *session, args string) string {
	stepID, raw, _ := strings.Cut(args, " ")
	if stepID == "" || strings.TrimSpace(raw) == "" {
		return `Usage: /prompt <step-id> {"system_prompt": "...", "user_prompt": "...", "examples": [{"input": "...", "output": "..."}]}`
	}
	var p plan.Prompt
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "Prompt must be a JSON object: " + err.Error()
	}
	done := observability.Begin(observability.RoleEditing, "prompt "+stepID)
	defer done()

	if err := s.wb.EditPrompt(ctx, stepID, p); err != nil {
		return "Could not update the prompt: " + failure(err)
	}
	reply := "Prompt updated."
	if s.wb.Mode() == workbench.ModeSavedPlan {
		reply = fmt.Sprintf("Prompt updated and %q saved.", s.wb.PlanName())
	}
	return reply + "\n\n" + d.show(s)
}

func (d *Dispatcher) conversations(ctx context.Context, s *session) string {
	convs, err := s.wb.Conversations(ctx)
	if err != nil {
		return failure(err)
	}
	if len(convs) == 0 {
		return "No conversations yet."
	}
	var b strings.Builder
	b.WriteString("Conversations:")
	current := s.wb.Log().ID()
	for _, c := range convs {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "\n%s %s  %s  %s", marker, c.ID, c.UpdatedAt.Format("2006-01-02 15:04"), render.Clean(title))
	}
	return b.String()
}

func (d *Dispatcher) plans(ctx context.Context, s *session) string {
	plans, err := s.wb.Plans(ctx)
	if err != nil {
		return failure(err)
	}
	if len(plans) == 0 {
		return "No saved plans."
	}
	var b strings.Builder
	b.WriteString("Saved plans:")
	for _, sp := range plans {
		fmt.Fprintf(&b, "\n- %s (%d steps, %s)", sp.PlanName, plan.Count(sp.RawPlan.Steps), sp.CreatedDate.Format("2006-01-02"))
	}
	return b.String()
}

func (d *Dispatcher) save(ctx context.Context, s *session, mode workbench.SaveMode, name string) string {
	if name == "" {
		return fmt.Sprintf("Usage: /%s <name>", map[workbench.SaveMode]string{workbench.SaveNew: "save", workbench.SaveOverwrite: "overwrite"}[mode])
	}
	stored, err := s.wb.SavePlan(ctx, mode, name)
	if err != nil {
		if errors.Is(err, workbench.ErrUnknownPlan) {
			return failure(err) + ". Use /plans to see existing names."
		}
		return failure(err)
	}
	return fmt.Sprintf("Saved as %q.", stored)
}

func (d *Dispatcher) setPatient(s *session, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Usage: /patient <mrn> [csn] [dataset]"
	}
	p := d.Patient
	p.MRN = fields[0]
	if len(fields) > 1 {
		p.CSN = fields[1]
	}
	if len(fields) > 2 {
		p.Dataset = fields[2]
	}
	s.wb.SetPatient(p)
	return fmt.Sprintf("Record context: MRN %s, CSN %s, dataset %s.", p.MRN, p.CSN, p.Dataset)
}

func history(l *conversation.Log) string {
	msgs := l.Messages()
	if len(msgs) == 0 {
		return "Conversation " + l.ID() + " is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s:", l.ID())
	for _, m := range msgs {
		text := render.Clean(m.Text())
		if first, _, ok := strings.Cut(text, "\n"); ok {
			text = first
		}
		if r := []rune(text); len(r) > previewLength {
			text = string(r[:previewLength]) + "…"
		}
		kind := string(m.Type)
		if m.IsError {
			kind = "error"
		}
		fmt.Fprintf(&b, "\n%s [%s] %s", m.ID, kind, text)
	}
	return b.String()
}

func failure(err error) string {
	return planclient.Message(err)
}
