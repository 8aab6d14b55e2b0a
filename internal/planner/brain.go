package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/governance"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/plan"
	"github.com/rahul/planbench/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

const (
	proposePlanTool = "propose_plan"
	historyLimit    = 10
	defaultAttempts = 3
)

var (
	ErrNoResponse = errors.New("planner failed to provide a plan or text response")
	ErrRejected   = errors.New("planner could not produce an acceptable plan")
)

// HistoryStore persists conversation turns and replays them as LLM context.
type HistoryStore interface {
	AddMessage(conversationID string, m conversation.Message) error
	GetHistory(conversationID string, limit int) ([]llms.MessageContent, error)
}

// Reply is the outcome of a chat turn. Plan is nil for text replies.
type Reply struct {
	Message string
	Plan    *plan.Plan
}

// Brain turns chat turns and step edits into plans through an LLM.
type Brain struct {
	Model       llms.Model
	Registry    *tools.Registry
	History     HistoryStore
	Prompts     *PromptManager
	Policy      governance.PolicyEngine
	Logger      *observability.Logger
	ModelName   string
	MaxAttempts int
}

func NewBrain(model llms.Model, registry *tools.Registry, history HistoryStore, prompts *PromptManager, policy governance.PolicyEngine, logger *observability.Logger) *Brain {
	return &Brain{
		Model:       model,
		Registry:    registry,
		History:     history,
		Prompts:     prompts,
		Policy:      policy,
		Logger:      logger,
		MaxAttempts: defaultAttempts,
	}
}

// Chat answers one user turn of a conversation. The exchange is saved to
// history once the model has answered.
func (b *Brain) Chat(ctx context.Context, req api.ChatRequest) (Reply, error) {
	systemPrompt, err := b.Prompts.GetPlannerPrompt()
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load planner prompt: %w", err)
	}
	systemPrompt = b.withCatalog(systemPrompt)
	if ctxLine := patientContext(req); ctxLine != "" {
		systemPrompt += "\n\n## Current context\n" + ctxLine
	}

	history, err := b.History.GetHistory(req.ConversationID, historyLimit)
	if err != nil {
		log.Printf("Warning: Failed to load history for %s: %v", req.ConversationID, err)
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt)}
	messages = append(messages, history...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Text))

	reply, err := b.generate(ctx, req.ConversationID, messages)
	if err != nil {
		return Reply{}, err
	}

	b.save(req.ConversationID, conversation.User(req.Text))
	if reply.Plan != nil {
		b.save(req.ConversationID, conversation.PlanMessage(reply.Message, *reply.Plan))
	} else {
		b.save(req.ConversationID, conversation.Assistant(reply.Message))
	}
	return reply, nil
}

// EditStep regenerates a plan after a step summary change. The step must
// exist in the submitted plan.
func (b *Brain) EditStep(ctx context.Context, req api.EditStepRequest) (Reply, error) {
	if plan.FindStep(req.RawPlan.Steps, req.StepID) == nil {
		return Reply{}, fmt.Errorf("%w: %s", plan.ErrStepNotFound, req.StepID)
	}

	systemPrompt, err := b.Prompts.GetEditPrompt()
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load edit prompt: %w", err)
	}
	systemPrompt = b.withCatalog(systemPrompt)

	current, err := json.MarshalIndent(req.RawPlan, "", "  ")
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode plan: %w", err)
	}
	var task strings.Builder
	fmt.Fprintf(&task, "Current plan:\n%s\n\n", current)
	fmt.Fprintf(&task, "Step to change: %s\n", req.StepID)
	if req.OriginalSummary != "" {
		fmt.Fprintf(&task, "Original summary: %s\n", req.OriginalSummary)
	}
	fmt.Fprintf(&task, "Requested summary: %s\n", req.RequestedSummary)
	if req.Prompt != "" {
		fmt.Fprintf(&task, "\nReviewer note: %s\n", req.Prompt)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, task.String()),
	}

	reply, err := b.generate(ctx, "", messages)
	if err != nil {
		return Reply{}, err
	}
	if reply.Plan == nil {
		return Reply{}, fmt.Errorf("%w: model answered without a plan: %s", ErrRejected, reply.Message)
	}
	return reply, nil
}

func (b *Brain) withCatalog(prompt string) string {
	return fmt.Sprintf("%s\n\n## Available Tools:\n%s", prompt, b.Registry.Describe())
}

func patientContext(req api.ChatRequest) string {
	var parts []string
	if req.Dataset != "" {
		parts = append(parts, "dataset "+req.Dataset)
	}
	if req.MRN != "" {
		parts = append(parts, "MRN "+req.MRN)
	}
	if req.CSN != "" {
		parts = append(parts, "encounter CSN "+req.CSN)
	}
	return strings.Join(parts, ", ")
}

func (b *Brain) save(conversationID string, m conversation.Message) {
	if err := b.History.AddMessage(conversationID, m); err != nil {
		log.Printf("Error saving %s message to %s: %v", m.Type, conversationID, err)
	}
}

// generate asks the model for a plan or a text answer. Rejected plans are
// sent back to the model with the reason until MaxAttempts is reached.
func (b *Brain) generate(ctx context.Context, conversationID string, messages []llms.MessageContent) (Reply, error) {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var lastReason string
	for i := 0; i < attempts; i++ {
		resp, err := b.Model.GenerateContent(ctx, messages, llms.WithTools(plannerTools()))
		if err != nil {
			return Reply{}, err
		}
		if len(resp.Choices) == 0 {
			return Reply{}, ErrNoResponse
		}
		choice := resp.Choices[0]
		b.Logger.LogLLM(conversationID, lastUserText(messages), choice.Content, choice.ToolCalls)
		b.logCost(conversationID, choice)

		call := findCall(choice.ToolCalls, proposePlanTool)
		if call == nil {
			if choice.Content == "" {
				return Reply{}, ErrNoResponse
			}
			return Reply{Message: choice.Content}, nil
		}

		reply, reason := b.accept(ctx, conversationID, call.FunctionCall.Arguments)
		if reason == "" {
			return reply, nil
		}
		lastReason = reason
		log.Printf("[Planner] attempt %d rejected: %s", i+1, reason)

		messages = append(messages,
			llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: []llms.ContentPart{*call}},
			llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       call.FunctionCall.Name,
					Content:    "Rejected: " + reason,
				}},
			},
		)
	}
	return Reply{}, fmt.Errorf("%w: %s", ErrRejected, lastReason)
}

// accept parses and vets proposed plan arguments. A non-empty reason means
// the plan was rejected.
func (b *Brain) accept(ctx context.Context, conversationID, arguments string) (Reply, string) {
	var args struct {
		Message string          `json:"message"`
		RawPlan json.RawMessage `json:"raw_plan"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return Reply{}, fmt.Sprintf("arguments are not valid JSON: %v", err)
	}
	if len(args.RawPlan) == 0 {
		return Reply{}, "raw_plan is missing"
	}
	p, err := plan.Parse(args.RawPlan)
	if err != nil {
		return Reply{}, fmt.Sprintf("raw_plan is malformed: %v", err)
	}
	if len(p.Steps) == 0 {
		return Reply{}, "raw_plan has no steps"
	}
	if err := plan.Validate(p); err != nil {
		b.Logger.LogValidation(conversationID, err)
		return Reply{}, err.Error()
	}

	var problems []string
	plan.Walk(p.Steps, func(s plan.Step, _ int) bool {
		if t, ok := s.(*plan.ToolStep); ok {
			if err := b.Registry.CheckStep(t); err != nil {
				problems = append(problems, err.Error())
			}
		}
		return true
	})
	if len(problems) > 0 {
		return Reply{}, strings.Join(problems, "; ")
	}

	if b.Policy != nil {
		res, err := governance.EvaluatePlan(ctx, b.Policy, conversationID, p)
		if err != nil {
			return Reply{}, fmt.Sprintf("policy check failed: %v", err)
		}
		if res.Effect == governance.EffectDeny {
			b.Logger.LogPolicyCheck(conversationID, res.Tool, string(res.Effect), res.Reason)
			return Reply{}, fmt.Sprintf("step %s: %s", res.StepID, res.Reason)
		}
	}

	msg := args.Message
	if msg == "" {
		msg = fmt.Sprintf("Proposed a plan with %d steps.", plan.Count(p.Steps))
	}
	return Reply{Message: msg, Plan: &p}, ""
}

func (b *Brain) logCost(conversationID string, choice *llms.ContentChoice) {
	prompt, _ := choice.GenerationInfo["PromptTokens"].(int)
	completion, _ := choice.GenerationInfo["CompletionTokens"].(int)
	if prompt == 0 && completion == 0 {
		return
	}
	b.Logger.LogCost(conversationID, prompt, completion, b.ModelName)
}

func findCall(calls []llms.ToolCall, name string) *llms.ToolCall {
	for i := range calls {
		if calls[i].FunctionCall != nil && calls[i].FunctionCall.Name == name {
			return &calls[i]
		}
	}
	return nil
}

func lastUserText(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range messages[i].Parts {
			if t, ok := part.(llms.TextContent); ok {
				return t.Text
			}
		}
	}
	return ""
}

func plannerTools() []llms.Tool {
	step := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":           map[string]any{"type": "string"},
			"type":         map[string]any{"type": "string", "enum": []string{"tool", "if", "loop", "flag_variable"}},
			"step_summary": map[string]any{"type": "string"},
		},
		"required":             []string{"id", "type", "step_summary"},
		"additionalProperties": true,
	}
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        proposePlanTool,
				Description: "Submit a complete workflow plan together with a short explanation for the reviewer.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"message": map[string]any{
							"type":        "string",
							"description": "Explanation of the plan or of the change.",
						},
						"raw_plan": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"steps": map[string]any{
									"type":  "array",
									"items": step,
								},
							},
							"required": []string{"steps"},
						},
					},
					"required": []string{"message", "raw_plan"},
				},
			},
		},
	}
}
