// Package server exposes the planning backend over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/conversation"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/plan"
	"github.com/rahul/planbench/internal/planner"
	"github.com/rahul/planbench/internal/render"
	"github.com/rahul/planbench/internal/store"
)

const maxBodyBytes = 1 << 20

// Planner generates plans from chat turns and step edits.
type Planner interface {
	Chat(ctx context.Context, req api.ChatRequest) (planner.Reply, error)
	EditStep(ctx context.Context, req api.EditStepRequest) (planner.Reply, error)
}

// Store persists saved plans and conversations.
type Store interface {
	SavePlan(name string, raw plan.Plan) error
	GetPlan(name string) (*api.SavedPlan, error)
	ListPlans() ([]api.SavedPlan, error)
	DeletePlan(name string) error
	GetConversation(id string) ([]conversation.Message, error)
	ListConversations() ([]api.ConversationSummary, error)
	DeleteConversation(id string) error
}

type Server struct {
	Planner Planner
	Store   Store
	Logger  *observability.Logger
	mux     *http.ServeMux
}

func New(p Planner, s Store, logger *observability.Logger) *Server {
	srv := &Server{Planner: p, Store: s, Logger: logger, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST "+api.PathEditStep, s.handleEditStep)
	s.mux.HandleFunc("POST "+api.PathUpdatePrompt, s.handleUpdatePrompt)
	s.mux.HandleFunc("POST "+api.PathChat, s.handleChat)
	s.mux.HandleFunc("GET "+api.PathPlans, s.handleListPlans)
	s.mux.HandleFunc("POST "+api.PathPlans, s.handleSavePlan)
	s.mux.HandleFunc("GET "+api.PathPlans+"/{name}", s.handleGetPlan)
	s.mux.HandleFunc("DELETE "+api.PathPlans+"/{name}", s.handleDeletePlan)
	s.mux.HandleFunc("GET "+api.PathConversations, s.handleListConversations)
	s.mux.HandleFunc("GET "+api.PathConversations+"/{id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE "+api.PathConversations+"/{id}", s.handleDeleteConversation)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Planning service listening on %s", addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleEditStep(w http.ResponseWriter, r *http.Request) {
	var req api.EditStepRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StepID == "" || req.RequestedSummary == "" {
		writeError(w, http.StatusBadRequest, "step_id and requested_summary are required")
		return
	}

	done := observability.Begin(observability.RoleEditing, "edit "+req.StepID)
	defer done()

	reply, err := s.Planner.EditStep(r.Context(), req)
	s.Logger.LogStepEdit("", req.StepID, req.OriginalSummary, req.RequestedSummary, err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EditStepResponse{
		Message: reply.Message,
		PlanData: &api.PlanData{
			RawPlan:       *reply.Plan,
			FormattedPlan: render.Format(*reply.Plan),
		},
	})
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req api.UpdatePromptRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StepID == "" {
		writeError(w, http.StatusBadRequest, "step_id is required")
		return
	}

	updated, err := plan.SetPrompt(req.RawPlan, req.StepID, req.NewPromptValue)
	s.Logger.LogPromptEdit("", req.StepID, err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.UpdatePromptResponse{
		RawPlan:       &updated,
		FormattedPlan: render.Format(updated),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	done := observability.Begin(observability.RolePlanning, req.Text)
	defer done()
	observability.SetSubject("conversation " + req.ConversationID)

	s.Logger.LogMessage("", req.ConversationID, "user", req.Text)
	reply, err := s.Planner.Chat(r.Context(), req)
	if err != nil {
		log.Printf("Error planning for %s: %v", req.ConversationID, err)
		writeFailure(w, err)
		return
	}
	s.Logger.LogMessage("", req.ConversationID, "assistant", reply.Message)

	resp := api.ChatResponse{ResponseType: api.ResponseText, Message: reply.Message}
	if reply.Plan != nil {
		resp.ResponseType = api.ResponseWorkflow
		resp.WorkflowData = &api.WorkflowData{RawPlan: *reply.Plan}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.Store.ListPlans()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	var req api.SavePlanRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PlanName == "" {
		writeError(w, http.StatusBadRequest, "plan_name is required")
		return
	}
	if err := plan.Validate(req.RawPlan); err != nil {
		s.Logger.LogValidation("", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.Store.SavePlan(req.PlanName, req.RawPlan); err != nil {
		writeFailure(w, err)
		return
	}
	s.Logger.LogPlanSaved(req.PlanName, plan.Count(req.RawPlan.Steps))
	writeJSON(w, http.StatusOK, map[string]string{"plan_name": req.PlanName})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	sp, err := s.Store.GetPlan(r.PathValue("name"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Store.DeletePlan(name); err != nil {
		writeFailure(w, err)
		return
	}
	s.Logger.LogPlanDeleted(name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.Store.ListConversations()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.Store.GetConversation(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ConversationResponse{ID: id, Messages: msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteConversation(r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeFailure maps domain errors to status codes.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, plan.ErrStepNotFound):
		status = http.StatusNotFound
	case errors.Is(err, plan.ErrNotToolStep):
		status = http.StatusBadRequest
	case errors.Is(err, planner.ErrRejected), errors.Is(err, planner.ErrNoResponse):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorBody{Detail: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
