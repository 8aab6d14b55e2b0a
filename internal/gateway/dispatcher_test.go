package gateway

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/plan"
	"github.com/rahul/planbench/internal/planclient"
	"github.com/rahul/planbench/internal/render"
	"github.com/rahul/planbench/internal/workbench"
)

// memBackend is an in-memory planning service. Step edits copy the
// requested summary into the step.
type memBackend struct {
	mu        sync.Mutex
	chatPlan  plan.Plan
	edits     []api.EditStepRequest
	prompts   []api.UpdatePromptRequest
	chats     []api.ChatRequest
	deadlines []time.Time
	plans     map[string]api.SavedPlan
	convs     map[string][]conversation.Message
	saveCalls int
}

func newMemBackend() *memBackend {
	return &memBackend{
		chatPlan: plan.Plan{Steps: plan.Steps{&plan.ToolStep{
			Base:   plan.Base{ID: "s1", StepSummary: "Count words"},
			Tool:   "keyword_count",
			Inputs: map[string]any{"text": strings.Repeat("long note ", 20), "keywords": []any{"pain"}},
			Output: "r1",
		}}},
		plans: make(map[string]api.SavedPlan),
		convs: make(map[string][]conversation.Message),
	}
}

func (m *memBackend) EditPlanStep(ctx context.Context, req api.EditStepRequest) (*api.EditStepResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, req)
	p, err := plan.Clone(req.RawPlan)
	if err != nil {
		return nil, err
	}
	plan.FindStep(p.Steps, req.StepID).(*plan.ToolStep).StepSummary = req.RequestedSummary
	return &api.EditStepResponse{Message: "Done.", PlanData: &api.PlanData{RawPlan: p}}, nil
}

func (m *memBackend) UpdateStepPrompt(ctx context.Context, req api.UpdatePromptRequest) (plan.Plan, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, req)
	m.mu.Unlock()
	return plan.SetPrompt(req.RawPlan, req.StepID, req.NewPromptValue)
}

func (m *memBackend) ProcessMessage(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, req)
	if dl, ok := ctx.Deadline(); ok {
		m.deadlines = append(m.deadlines, dl)
	}
	if strings.HasPrefix(req.Text, "?") {
		return &api.ChatResponse{ResponseType: api.ResponseText, Message: "Just <b>text</b>."}, nil
	}
	return &api.ChatResponse{
		ResponseType: api.ResponseWorkflow,
		Message:      "Here is a plan.",
		WorkflowData: &api.WorkflowData{RawPlan: m.chatPlan},
	}, nil
}

func (m *memBackend) GetAllPlans(ctx context.Context) ([]api.SavedPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []api.SavedPlan
	for _, sp := range m.plans {
		out = append(out, sp)
	}
	return out, nil
}

func (m *memBackend) GetPlan(ctx context.Context, name string) (*api.SavedPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.plans[name]
	if !ok {
		return nil, &planclient.APIError{Status: 404, Message: "plan " + name + ": not found"}
	}
	return &sp, nil
}

func (m *memBackend) SavePlan(ctx context.Context, name string, raw plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	m.plans[name] = api.SavedPlan{PlanName: name, RawPlan: raw, CreatedDate: time.Now()}
	return nil
}

func (m *memBackend) DeletePlan(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, name)
	return nil
}

func (m *memBackend) GetAllConversations(ctx context.Context) ([]api.ConversationSummary, error) {
	return []api.ConversationSummary{{ID: "old", Title: "Earlier chat", UpdatedAt: time.Now()}}, nil
}

func (m *memBackend) GetConversation(ctx context.Context, id string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.convs[id]
	if !ok {
		return nil, &planclient.APIError{Status: 404, Message: "conversation " + id + ": not found"}
	}
	return msgs, nil
}

func (m *memBackend) DeleteConversation(ctx context.Context, id string) error {
	return nil
}

func newTestDispatcher(t *testing.T, b *memBackend) *Dispatcher {
	t.Helper()
	logger := observability.NewLoggerTo(io.Discard, t.TempDir())
	return NewDispatcher(b, logger, render.DefaultPolicies(), workbench.Patient{MRN: "1", Dataset: "demo"})
}

func TestDispatcher_ChatShowsPlan(t *testing.T) {
	b := newMemBackend()
	d := newTestDispatcher(t, b)
	ctx := context.Background()

	out := d.Handle(ctx, "chat1", "count words in notes")
	if !strings.Contains(out, "Here is a plan.") || !strings.Contains(out, "1. 🔧 Count words") {
		t.Errorf("unexpected reply:\n%s", out)
	}
	if b.chats[0].MRN != "1" || b.chats[0].ConversationID == "" {
		t.Errorf("chat request missing context: %+v", b.chats[0])
	}

	out = d.Handle(ctx, "chat1", "? what does this do")
	if out != "Just text." {
		t.Errorf("text reply should be cleaned, got %q", out)
	}

	// separate chats have separate workbenches
	if out := d.Handle(ctx, "chat2", "/show"); out != "No plan yet." {
		t.Errorf("chat2 should have no plan, got %q", out)
	}
}

func TestDispatcher_Expand(t *testing.T) {
	d := newTestDispatcher(t, newMemBackend())
	ctx := context.Background()
	d.Handle(ctx, "c", "plan please")

	out := d.Handle(ctx, "c", "/expand s1")
	if !strings.Contains(out, "id: s1") || !strings.Contains(out, "keywords: [[\"pain\"]]") {
		t.Errorf("details not shown:\n%s", out)
	}
	if !strings.Contains(out, "… (+") {
		t.Errorf("long text should be truncated:\n%s", out)
	}

	out = d.Handle(ctx, "c", "/expand s1.text")
	if strings.Contains(out, "… (+") {
		t.Errorf("expanded field should not be truncated:\n%s", out)
	}

	if out := d.Handle(ctx, "c", "/expand s9"); !strings.Contains(out, "No step s9") {
		t.Errorf("unexpected reply %q", out)
	}
}

func TestDispatcher_EditInline(t *testing.T) {
	b := newMemBackend()
	d := newTestDispatcher(t, b)
	ctx := context.Background()
	d.Handle(ctx, "c", "plan please")

	out := d.Handle(ctx, "c", "/edit s1 Count unique words")
	if !strings.Contains(out, "1. 🔧 Count unique words") {
		t.Errorf("plan not replaced:\n%s", out)
	}
	if !strings.Contains(out, "Done.") {
		t.Errorf("server message missing:\n%s", out)
	}
	if len(b.edits) != 1 || b.edits[0].OriginalSummary != "Count words" || b.edits[0].RequestedSummary != "Count unique words" {
		t.Fatalf("unexpected edit requests %+v", b.edits)
	}

	if out := d.Handle(ctx, "c", "/edit s1 Count unique words"); out != "Summary unchanged." {
		t.Errorf("unchanged summary should not be sent, got %q", out)
	}
	if len(b.edits) != 1 {
		t.Error("unchanged edit reached the backend")
	}
}

func TestDispatcher_EditTwoStep(t *testing.T) {
	b := newMemBackend()
	d := newTestDispatcher(t, b)
	ctx := context.Background()
	d.Handle(ctx, "c", "plan please")

	out := d.Handle(ctx, "c", "/edit s1")
	if !strings.Contains(out, "Send the new summary") {
		t.Fatalf("unexpected reply %q", out)
	}
	out = d.Handle(ctx, "c", "Count distinct words")
	if !strings.Contains(out, "Count distinct words") || len(b.edits) != 1 {
		t.Errorf("draft not submitted:\n%s", out)
	}

	d.Handle(ctx, "c", "/edit s1")
	if out := d.Handle(ctx, "c", "/cancel"); out != "Edit cancelled." {
		t.Errorf("unexpected reply %q", out)
	}
	d.Handle(ctx, "c", "another request")
	if len(b.edits) != 1 || len(b.chats) != 2 {
		t.Errorf("text after cancel should go to chat: edits=%d chats=%d", len(b.edits), len(b.chats))
	}
}

func TestDispatcher_SaveLoadPrompt(t *testing.T) {
	b := newMemBackend()
	d := newTestDispatcher(t, b)
	ctx := context.Background()
	d.Handle(ctx, "c", "plan please")

	if out := d.Handle(ctx, "c", "/save My Plan"); out != `Saved as "My_Plan".` {
		t.Fatalf("unexpected reply %q", out)
	}
	if out := d.Handle(ctx, "c", "/save My_Plan"); !strings.Contains(out, "already exists") {
		t.Errorf("collision should be rejected, got %q", out)
	}
	if out := d.Handle(ctx, "c", "/overwrite Nope"); !strings.Contains(out, "/plans") {
		t.Errorf("overwrite of unknown plan should hint at /plans, got %q", out)
	}
	if out := d.Handle(ctx, "c", "/plans"); !strings.Contains(out, "- My_Plan (1 steps") {
		t.Errorf("unexpected plan list %q", out)
	}

	out := d.Handle(ctx, "c", "/load My_Plan")
	if !strings.Contains(out, `Saved plan "My_Plan"`) {
		t.Errorf("unexpected reply:\n%s", out)
	}

	saves := b.saveCalls
	out = d.Handle(ctx, "c", `/prompt s1 {"system_prompt":"Extract pain.","user_prompt":"{text}"}`)
	if !strings.Contains(out, `"My_Plan" saved`) {
		t.Errorf("unexpected reply:\n%s", out)
	}
	if b.saveCalls != saves+1 {
		t.Error("prompt edit in saved-plan mode should persist the plan")
	}

	if out := d.Handle(ctx, "c", "/prompt s1 not-json"); !strings.Contains(out, "JSON object") {
		t.Errorf("unexpected reply %q", out)
	}

	d.Handle(ctx, "c", "/delete My_Plan")
	if out := d.Handle(ctx, "c", "/show"); out != "No plan yet." {
		t.Errorf("deleting the displayed plan should clear it, got %q", out)
	}
}

func TestDispatcher_HistoryAndSelect(t *testing.T) {
	b := newMemBackend()
	d := newTestDispatcher(t, b)
	ctx := context.Background()
	d.Handle(ctx, "c", "plan please")
	d.Handle(ctx, "c", "/edit s1 Count unique words")

	out := d.Handle(ctx, "c", "/history")
	lines := strings.Split(out, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 messages, got:\n%s", out)
	}
	if !strings.Contains(lines[1], "[user] plan please") || !strings.Contains(lines[2], "[plan] Here is a plan.") {
		t.Errorf("unexpected history:\n%s", out)
	}

	firstPlanID, _, _ := strings.Cut(lines[2], " ")
	out = d.Handle(ctx, "c", "/select "+firstPlanID)
	if !strings.Contains(out, "1. 🔧 Count words") {
		t.Errorf("earlier plan not displayed:\n%s", out)
	}

	if out := d.Handle(ctx, "c", "/select nope"); !strings.Contains(out, "no plan message") {
		t.Errorf("unexpected reply %q", out)
	}
}

func TestDispatcher_Conversations(t *testing.T) {
	b := newMemBackend()
	b.convs["old"] = []conversation.Message{
		{ID: "m1", Type: conversation.TypeUser, Content: "old request"},
		{ID: "m2", Type: conversation.TypePlan, Message: "old plan", PlanData: &conversation.PlanData{RawPlan: b.chatPlan}},
	}
	d := newTestDispatcher(t, b)
	ctx := context.Background()

	if out := d.Handle(ctx, "c", "/conversations"); !strings.Contains(out, "old") || !strings.Contains(out, "Earlier chat") {
		t.Errorf("unexpected list:\n%s", out)
	}

	out := d.Handle(ctx, "c", "/open old")
	if !strings.Contains(out, "m1 [user] old request") || !strings.Contains(out, "1. 🔧 Count words") {
		t.Errorf("conversation not restored:\n%s", out)
	}

	if out := d.Handle(ctx, "c", "/open missing"); !strings.Contains(out, "not found") {
		t.Errorf("unexpected reply %q", out)
	}
	if out := d.Handle(ctx, "c", "/bogus"); !strings.Contains(out, "/help") {
		t.Errorf("unexpected reply %q", out)
	}
}

func TestChunk(t *testing.T) {
	text := strings.TrimSuffix(strings.Repeat("line\n", 10), "\n")
	parts := chunk(text, 12)
	for _, p := range parts {
		if len(p) > 12 {
			t.Errorf("chunk too long: %q", p)
		}
	}
	if strings.Join(parts, "\n") != text {
		t.Errorf("chunks lost text: %q", parts)
	}

	if got := chunk("héllo", 2); strings.Join(got, "") != "héllo" {
		t.Errorf("rune split: %q", got)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	b := newMemBackend()
	d := newTestDispatcher(t, b)
	ctx := context.Background()

	d.Handle(ctx, "c", "no limit")
	if len(b.deadlines) != 0 {
		t.Fatalf("request should carry no deadline without a timeout: %v", b.deadlines)
	}

	d.Timeout = time.Minute
	start := time.Now()
	d.Handle(ctx, "c", "with limit")
	if len(b.deadlines) != 1 {
		t.Fatal("request did not carry a deadline")
	}
	if dl := b.deadlines[0]; dl.Before(start) || dl.After(time.Now().Add(time.Minute)) {
		t.Errorf("deadline %v outside the configured timeout", dl)
	}
}
