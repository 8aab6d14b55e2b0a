package planner

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/governance"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/plan"
	"github.com/rahul/planbench/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	responses []*llms.ContentResponse
	calls     [][]llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls = append(f.calls, messages)
	if len(f.responses) == 0 {
		return nil, errors.New("no more responses")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not supported")
}

type memHistory struct {
	messages map[string][]conversation.Message
}

func (m *memHistory) AddMessage(conversationID string, msg conversation.Message) error {
	if m.messages == nil {
		m.messages = make(map[string][]conversation.Message)
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return nil
}

func (m *memHistory) GetHistory(conversationID string, limit int) ([]llms.MessageContent, error) {
	var out []llms.MessageContent
	for _, msg := range m.messages[conversationID] {
		role := llms.ChatMessageTypeAI
		if msg.Type == conversation.TypeUser {
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, msg.Text()))
	}
	return out, nil
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func planResponse(arguments string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: proposePlanTool, Arguments: arguments},
		}},
	}}}
}

const validPlan = `{"message":"Counts pain mentions per note.","raw_plan":{"steps":[
	{"id":"s1","type":"loop","step_summary":"For each note","for_var":"note","in_expr":"notes","body":[
		{"id":"s2","type":"tool","step_summary":"Count pain","tool":"keyword_count","inputs":{"text":"note","keywords":["pain"]},"output":"n"}
	]}
]}}`

func newTestBrain(t *testing.T, model *fakeModel) (*Brain, *memHistory) {
	t.Helper()
	history := &memHistory{}
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyTool("note_search")
	logger := observability.NewLoggerTo(io.Discard, t.TempDir())
	return NewBrain(model, tools.Default(), history, NewPromptManager(""), policy, logger), history
}

func TestBrain_ChatText(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{textResponse("Which dataset?")}}
	b, history := newTestBrain(t, model)

	reply, err := b.Chat(context.Background(), api.ChatRequest{Text: "hello", ConversationID: "c1", MRN: "123"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Plan != nil || reply.Message != "Which dataset?" {
		t.Errorf("unexpected reply %+v", reply)
	}

	msgs := history.messages["c1"]
	if len(msgs) != 2 || msgs[0].Type != conversation.TypeUser || msgs[1].Type != conversation.TypeAssistant {
		t.Fatalf("unexpected history %+v", msgs)
	}

	system := model.calls[0][0].Parts[0].(llms.TextContent).Text
	if !strings.Contains(system, "keyword_count") || !strings.Contains(system, "MRN 123") {
		t.Errorf("system prompt missing catalog or context:\n%s", system)
	}
}

func TestBrain_ChatPlan(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{planResponse(validPlan)}}
	b, history := newTestBrain(t, model)

	reply, err := b.Chat(context.Background(), api.ChatRequest{Text: "count pain", ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Plan == nil {
		t.Fatal("expected a plan")
	}
	if plan.FindStep(reply.Plan.Steps, "s2") == nil {
		t.Error("nested step missing from plan")
	}
	msgs := history.messages["c1"]
	if len(msgs) != 2 || msgs[1].Type != conversation.TypePlan || msgs[1].Message != "Counts pain mentions per note." {
		t.Errorf("plan message not saved: %+v", msgs)
	}
}

func TestBrain_RetriesRejectedPlan(t *testing.T) {
	unknownTool := `{"message":"x","raw_plan":{"steps":[{"id":"s1","type":"tool","step_summary":"Run","tool":"shell","inputs":{}}]}}`
	model := &fakeModel{responses: []*llms.ContentResponse{planResponse(unknownTool), planResponse(validPlan)}}
	b, _ := newTestBrain(t, model)

	reply, err := b.Chat(context.Background(), api.ChatRequest{Text: "count pain", ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Plan == nil {
		t.Fatal("expected the second proposal to be accepted")
	}
	if len(model.calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(model.calls))
	}

	second := model.calls[1]
	last := second[len(second)-1]
	if last.Role != llms.ChatMessageTypeTool {
		t.Fatalf("expected tool feedback, got %s", last.Role)
	}
	resp := last.Parts[0].(llms.ToolCallResponse)
	if !strings.Contains(resp.Content, "unknown tool") {
		t.Errorf("feedback should carry the rejection reason: %s", resp.Content)
	}
}

func TestBrain_RejectsAfterAttempts(t *testing.T) {
	denied := `{"message":"x","raw_plan":{"steps":[{"id":"s1","type":"tool","step_summary":"Search","tool":"note_search","inputs":{"query":"pain"}}]}}`
	duplicate := `{"message":"x","raw_plan":{"steps":[
		{"id":"s1","type":"flag_variable","step_summary":"a","variable":"a","value":1},
		{"id":"s1","type":"flag_variable","step_summary":"b","variable":"b","value":2}]}}`
	model := &fakeModel{responses: []*llms.ContentResponse{planResponse(denied), planResponse(duplicate), planResponse(denied)}}
	b, history := newTestBrain(t, model)

	_, err := b.Chat(context.Background(), api.ChatRequest{Text: "search", ConversationID: "c1"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "restricted") {
		t.Errorf("error should carry the last reason: %v", err)
	}
	if len(history.messages["c1"]) != 0 {
		t.Error("failed turns should not be saved")
	}
}

func TestBrain_EditStep(t *testing.T) {
	current := plan.Plan{Steps: plan.Steps{
		&plan.ToolStep{Base: plan.Base{ID: "s1", StepSummary: "Count words"}, Tool: "keyword_count", Inputs: map[string]any{"text": "hi", "keywords": []any{"a"}}, Output: "r1"},
	}}
	edited := `{"message":"Now counts unique words.","raw_plan":{"steps":[
		{"id":"s1","type":"tool","step_summary":"Count unique words","tool":"keyword_count","inputs":{"text":"hi","keywords":["a"]},"output":"r1"}]}}`

	model := &fakeModel{responses: []*llms.ContentResponse{planResponse(edited)}}
	b, _ := newTestBrain(t, model)

	reply, err := b.EditStep(context.Background(), api.EditStepRequest{
		RawPlan:          current,
		StepID:           "s1",
		OriginalSummary:  "Count words",
		RequestedSummary: "Count unique words",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.FindStep(reply.Plan.Steps, "s1").Summary(); got != "Count unique words" {
		t.Errorf("summary = %q", got)
	}
	task := model.calls[0][1].Parts[0].(llms.TextContent).Text
	if !strings.Contains(task, "Requested summary: Count unique words") {
		t.Errorf("task prompt missing requested summary:\n%s", task)
	}
}

func TestBrain_EditStepUnknownStep(t *testing.T) {
	model := &fakeModel{}
	b, _ := newTestBrain(t, model)

	_, err := b.EditStep(context.Background(), api.EditStepRequest{StepID: "nope"})
	if !errors.Is(err, plan.ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}
	if len(model.calls) != 0 {
		t.Error("model should not be called for an unknown step")
	}
}

func TestBrain_EditStepTextAnswer(t *testing.T) {
	current := plan.Plan{Steps: plan.Steps{&plan.FlagStep{Base: plan.Base{ID: "s1", StepSummary: "flag"}, Variable: "x", Value: true}}}
	model := &fakeModel{responses: []*llms.ContentResponse{textResponse("I can't do that")}}
	b, _ := newTestBrain(t, model)

	_, err := b.EditStep(context.Background(), api.EditStepRequest{RawPlan: current, StepID: "s1", RequestedSummary: "?"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}
