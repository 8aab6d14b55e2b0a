package planclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/plan"
)

// Client talks to the planning service over HTTP/JSON.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

// EditPlanStep asks the service to regenerate one step from a new summary.
func (c *Client) EditPlanStep(ctx context.Context, req api.EditStepRequest) (*api.EditStepResponse, error) {
	var resp api.EditStepResponse
	if err := c.do(ctx, http.MethodPost, api.PathEditStep, req, &resp); err != nil {
		return nil, err
	}
	if resp.PlanData == nil {
		return nil, fmt.Errorf("edit step: response has no plan_data")
	}
	return &resp, nil
}

// UpdateStepPrompt replaces the structured prompt of one step.
func (c *Client) UpdateStepPrompt(ctx context.Context, req api.UpdatePromptRequest) (plan.Plan, error) {
	var resp api.UpdatePromptResponse
	if err := c.do(ctx, http.MethodPost, api.PathUpdatePrompt, req, &resp); err != nil {
		return plan.Plan{}, err
	}
	if resp.RawPlan == nil {
		return plan.Plan{}, fmt.Errorf("update step prompt: response has no raw_plan")
	}
	return *resp.RawPlan, nil
}

// ProcessMessage sends one chat turn to the planning agent.
func (c *Client) ProcessMessage(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	var resp api.ChatResponse
	if err := c.do(ctx, http.MethodPost, api.PathChat, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetAllPlans(ctx context.Context) ([]api.SavedPlan, error) {
	var plans []api.SavedPlan
	if err := c.do(ctx, http.MethodGet, api.PathPlans, nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func (c *Client) GetPlan(ctx context.Context, name string) (*api.SavedPlan, error) {
	var p api.SavedPlan
	if err := c.do(ctx, http.MethodGet, api.PathPlans+"/"+url.PathEscape(name), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SavePlan(ctx context.Context, name string, raw plan.Plan) error {
	req := api.SavePlanRequest{PlanName: name, RawPlan: raw}
	return c.do(ctx, http.MethodPost, api.PathPlans, req, nil)
}

func (c *Client) DeletePlan(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, api.PathPlans+"/"+url.PathEscape(name), nil, nil)
}

func (c *Client) GetAllConversations(ctx context.Context) ([]api.ConversationSummary, error) {
	var convs []api.ConversationSummary
	if err := c.do(ctx, http.MethodGet, api.PathConversations, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) ([]conversation.Message, error) {
	var resp api.ConversationResponse
	if err := c.do(ctx, http.MethodGet, api.PathConversations+"/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, api.PathConversations+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
