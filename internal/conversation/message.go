package conversation

import (
	"time"

	"github.com/rahul/planbench/internal/plan"
)

// Type discriminates conversation messages.
type Type string

const (
	TypeUser      Type = "user"
	TypeAssistant Type = "assistant"
	TypePlan      Type = "plan"
	TypeLoading   Type = "loading"
)

// PlanData is the plan snapshot pinned by a plan message.
type PlanData struct {
	RawPlan plan.Plan `json:"raw_plan"`
}

// Message is one entry of a conversation log. Content holds the text of
// user and assistant messages; plan messages carry Message (assistant
// commentary) and PlanData.
type Message struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	PlanData  *PlanData `json:"planData,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func User(text string) Message {
	return Message{Type: TypeUser, Content: text}
}

func Assistant(text string) Message {
	return Message{Type: TypeAssistant, Content: text}
}

// Error is an assistant message reporting a failed operation.
func Error(text string) Message {
	return Message{Type: TypeAssistant, Content: text, IsError: true}
}

func PlanMessage(commentary string, p plan.Plan) Message {
	return Message{Type: TypePlan, Message: commentary, PlanData: &PlanData{RawPlan: p}}
}

func Loading() Message {
	return Message{Type: TypeLoading}
}

// Text returns the human-readable text of the message.
func (m Message) Text() string {
	if m.Type == TypePlan {
		return m.Message
	}
	return m.Content
}
