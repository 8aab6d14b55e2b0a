package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeMessage     EventType = "message"
	EventTypeStepEdit    EventType = "step_edit"
	EventTypePromptEdit  EventType = "prompt_edit"
	EventTypePlanSaved   EventType = "plan_saved"
	EventTypePlanDeleted EventType = "plan_deleted"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeValidation  EventType = "validation"
	EventTypeCost        EventType = "cost"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type           EventType `json:"type"`
	ChatID         string    `json:"chat_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Data           any       `json:"data"`
	Timestamp      time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
	status     *tracker
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
		status:     globalStatus,
	}
}

// NewLoggerTo writes events to w and LLM transcripts under dir.
func NewLoggerTo(w io.Writer, dir string) *Logger {
	l := NewLogger()
	l.out = w
	l.llmLogPath = filepath.Join(dir, "llm.jsonl")
	return l
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if l.status != nil {
		l.status.record(evt)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Fprintf(l.out, "{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogMessage(chatID, conversationID, role, text string) {
	l.Log(Event{
		Type:           EventTypeMessage,
		ChatID:         chatID,
		ConversationID: conversationID,
		Data: map[string]string{
			"role": role,
			"text": text,
		},
	})
}

func (l *Logger) LogStepEdit(conversationID, stepID, from, to string, err error) {
	data := map[string]string{
		"step_id": stepID,
		"from":    from,
		"to":      to,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{Type: EventTypeStepEdit, ConversationID: conversationID, Data: data})
}

func (l *Logger) LogPromptEdit(conversationID, stepID string, err error) {
	data := map[string]string{"step_id": stepID}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{Type: EventTypePromptEdit, ConversationID: conversationID, Data: data})
}

func (l *Logger) LogPlanSaved(name string, steps int) {
	l.Log(Event{
		Type: EventTypePlanSaved,
		Data: map[string]any{"plan_name": name, "steps": steps},
	})
}

func (l *Logger) LogPlanDeleted(name string) {
	l.Log(Event{
		Type: EventTypePlanDeleted,
		Data: map[string]string{"plan_name": name},
	})
}

func (l *Logger) LogPolicyCheck(conversationID, tool, effect, reason string) {
	l.Log(Event{
		Type:           EventTypePolicyCheck,
		ConversationID: conversationID,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogValidation(conversationID string, err error) {
	l.Log(Event{
		Type:           EventTypeValidation,
		ConversationID: conversationID,
		Data:           map[string]string{"error": err.Error()},
	})
}

func (l *Logger) LogCost(conversationID string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:           EventTypeCost,
		ConversationID: conversationID,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(conversationID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:           EventTypeLLM,
		ConversationID: conversationID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
