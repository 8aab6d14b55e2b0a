// Package api holds the JSON bodies exchanged with the planning service.
package api

import (
	"time"

	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/plan"
)

const (
	PathEditStep      = "/api/plan/edit-step"
	PathUpdatePrompt  = "/api/plan/update-step-prompt"
	PathChat          = "/api/chat"
	PathPlans         = "/api/plans"
	PathConversations = "/api/conversations"
)

// Response types of a chat turn.
const (
	ResponseText     = "text"
	ResponseWorkflow = "workflow"
)

type EditStepRequest struct {
	Prompt           string    `json:"prompt"`
	RawPlan          plan.Plan `json:"raw_plan"`
	StepID           string    `json:"step_id"`
	OriginalSummary  string    `json:"original_summary,omitempty"`
	RequestedSummary string    `json:"requested_summary"`
}

type PlanData struct {
	RawPlan       plan.Plan `json:"raw_plan"`
	FormattedPlan string    `json:"formatted_plan,omitempty"`
}

type EditStepResponse struct {
	Message  string    `json:"message"`
	PlanData *PlanData `json:"plan_data"`
}

type UpdatePromptRequest struct {
	RawPlan        plan.Plan   `json:"raw_plan"`
	StepID         string      `json:"step_id"`
	NewPromptValue plan.Prompt `json:"new_prompt_value"`
}

type UpdatePromptResponse struct {
	RawPlan       *plan.Plan `json:"raw_plan"`
	FormattedPlan string     `json:"formatted_plan,omitempty"`
}

type ChatRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	MRN            string `json:"mrn,omitempty"`
	CSN            string `json:"csn,omitempty"`
	Dataset        string `json:"dataset,omitempty"`
}

type WorkflowData struct {
	RawPlan plan.Plan `json:"raw_plan"`
}

type ChatResponse struct {
	ResponseType string        `json:"response_type"`
	Message      string        `json:"message"`
	WorkflowData *WorkflowData `json:"workflow_data,omitempty"`
}

type SavedPlan struct {
	PlanName    string    `json:"plan_name"`
	RawPlan     plan.Plan `json:"raw_plan"`
	CreatedDate time.Time `json:"created_date"`
}

type SavePlanRequest struct {
	PlanName string    `json:"plan_name"`
	RawPlan  plan.Plan `json:"raw_plan"`
}

type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConversationResponse struct {
	ID       string                 `json:"id"`
	Messages []conversation.Message `json:"messages"`
}

// ErrorBody is the error shape returned by the service.
type ErrorBody struct {
	Detail any `json:"detail"`
}
