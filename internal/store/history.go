package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/plan"
	"github.com/tmc/langchaingo/llms"
)

var ErrNotFound = errors.New("not found")

const (
	titleLength = 60
	// fixed width so stored timestamps sort lexically
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// HistoryStore persists saved plans and conversations in sqlite.
type HistoryStore struct {
	DB  *sql.DB
	now func() time.Time
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			name TEXT PRIMARY KEY,
			raw_plan TEXT NOT NULL,
			created_date TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT,
			message TEXT,
			raw_plan TEXT,
			is_error INTEGER DEFAULT 0,
			timestamp TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db, now: time.Now}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

// SavePlan creates or replaces the plan stored under name. Last writer wins.
func (h *HistoryStore) SavePlan(name string, raw plan.Plan) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	query := `INSERT OR REPLACE INTO plans (name, raw_plan, created_date) VALUES (?, ?, ?)`
	_, err = h.DB.Exec(query, name, string(data), formatTime(h.now()))
	return err
}

func (h *HistoryStore) GetPlan(name string) (*api.SavedPlan, error) {
	query := `SELECT name, raw_plan, created_date FROM plans WHERE name = ?`
	row := h.DB.QueryRow(query, name)
	sp, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", name, ErrNotFound)
	}
	return sp, err
}

func (h *HistoryStore) ListPlans() ([]api.SavedPlan, error) {
	rows, err := h.DB.Query(`SELECT name, raw_plan, created_date FROM plans ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := []api.SavedPlan{}
	for rows.Next() {
		sp, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *sp)
	}
	return plans, rows.Err()
}

// DeletePlan removes the named plan. Deleting a missing plan is not an
// error.
func (h *HistoryStore) DeletePlan(name string) error {
	_, err := h.DB.Exec(`DELETE FROM plans WHERE name = ?`, name)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(s scanner) (*api.SavedPlan, error) {
	var name, raw, created string
	if err := s.Scan(&name, &raw, &created); err != nil {
		return nil, err
	}
	p, err := plan.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("stored plan %s is corrupt: %w", name, err)
	}
	return &api.SavedPlan{PlanName: name, RawPlan: p, CreatedDate: parseTime(created)}, nil
}

// AddMessage appends a message to a conversation, creating the
// conversation on first use.
func (h *HistoryStore) AddMessage(conversationID string, m conversation.Message) error {
	if m.Type == conversation.TypeLoading {
		return nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = h.now()
	}

	var rawPlan sql.NullString
	if m.PlanData != nil {
		data, err := json.Marshal(m.PlanData.RawPlan)
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		rawPlan = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := h.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	title := ""
	if m.Type == conversation.TypeUser {
		title = titleFrom(m.Content)
	}
	_, err = tx.Exec(`INSERT INTO conversations (id, title, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at,
		title = CASE WHEN conversations.title = '' THEN excluded.title ELSE conversations.title END`,
		conversationID, title, formatTime(m.Timestamp))
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO messages (id, conversation_id, type, content, message, raw_plan, is_error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, string(m.Type), m.Content, m.Message, rawPlan, m.IsError, formatTime(m.Timestamp))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetConversation returns the messages of a conversation in insertion order.
func (h *HistoryStore) GetConversation(id string) ([]conversation.Message, error) {
	var exists int
	err := h.DB.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}

	rows, err := h.DB.Query(`SELECT id, type, content, message, raw_plan, is_error, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []conversation.Message{}
	for rows.Next() {
		var (
			m       conversation.Message
			typ, ts string
			content sql.NullString
			message sql.NullString
			rawPlan sql.NullString
			isError bool
		)
		if err := rows.Scan(&m.ID, &typ, &content, &message, &rawPlan, &isError, &ts); err != nil {
			return nil, err
		}
		m.Type = conversation.Type(typ)
		m.Content = content.String
		m.Message = message.String
		m.IsError = isError
		m.Timestamp = parseTime(ts)
		if rawPlan.Valid {
			p, err := plan.Parse([]byte(rawPlan.String))
			if err != nil {
				return nil, fmt.Errorf("message %s has a corrupt plan: %w", m.ID, err)
			}
			m.PlanData = &conversation.PlanData{RawPlan: p}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (h *HistoryStore) ListConversations() ([]api.ConversationSummary, error) {
	rows, err := h.DB.Query(`SELECT id, title, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []api.ConversationSummary{}
	for rows.Next() {
		var c api.ConversationSummary
		var title sql.NullString
		var updated string
		if err := rows.Scan(&c.ID, &title, &updated); err != nil {
			return nil, err
		}
		c.Title = title.String
		c.UpdatedAt = parseTime(updated)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (h *HistoryStore) DeleteConversation(id string) error {
	tx, err := h.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetHistory returns the last limit user/assistant turns of a conversation
// in chronological order, ready to be sent to the model.
func (h *HistoryStore) GetHistory(conversationID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT type, content, message FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?`
	rows, err := h.DB.Query(query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var typ string
		var content, message sql.NullString
		if err := rows.Scan(&typ, &content, &message); err != nil {
			return nil, err
		}

		// Convert message type to llms.ChatMessageType
		var msgRole llms.ChatMessageType
		text := content.String
		switch conversation.Type(typ) {
		case conversation.TypeUser:
			msgRole = llms.ChatMessageTypeHuman
		case conversation.TypePlan:
			msgRole = llms.ChatMessageTypeAI
			text = message.String
		default:
			msgRole = llms.ChatMessageTypeAI
		}
		if text == "" {
			continue
		}

		history = append(history, llms.MessageContent{
			Role: msgRole,
			Parts: []llms.ContentPart{
				llms.TextPart(text),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

func titleFrom(text string) string {
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > titleLength {
		return string(r[:titleLength-3]) + "..."
	}
	return text
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
