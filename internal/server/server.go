// Package server exposes the assistant over HTTP for the ERP frontend:
// chat, feedback, document analysis and conversation history. The
// frontend proxy is trusted to authenticate users and forwards identity
// in headers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/cfreitas/erpagent/internal/config"
	"github.com/cfreitas/erpagent/internal/model"
	"github.com/cfreitas/erpagent/internal/orchestrator"
	"github.com/cfreitas/erpagent/internal/store"
)

// Service is the orchestrator surface the server depends on.
type Service interface {
	HandleMessage(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error)
	AnalyzeDocument(ctx context.Context, req orchestrator.AnalyzeRequest) (*orchestrator.ChatResponse, error)
	Feedback(ctx context.Context, messageID, feedback string) error
	History(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

type Server struct {
	cfg      *config.Settings
	svc      Service
	limiters *limiterPool
	router   *mux.Router
}

func New(cfg *config.Settings, svc Service) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		limiters: newLimiterPool(cfg.Server.RateRPS, cfg.Server.RateBurst),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return withRecovery(withLogging(s.router))
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.withIdentity, s.withRateLimit)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", s.handleHistory).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

type chatRequest struct {
	Message        string             `json:"message"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Context        model.PageContext  `json:"context"`
	Files          []model.Attachment `json:"files,omitempty"`
}

type chatResponse struct {
	ConversationID string                          `json:"conversation_id"`
	MessageID      string                          `json:"message_id,omitempty"`
	Text           string                          `json:"text"`
	Confidence     *float64                        `json:"confidence,omitempty"`
	FunctionCall   *model.FunctionCall             `json:"function_call,omitempty"`
	FunctionResult map[string]any                  `json:"function_result,omitempty"`
	Functions      []orchestrator.FunctionExchange `json:"functions,omitempty"`
	Citations      []model.Citation                `json:"citations,omitempty"`
	Error          string                          `json:"error,omitempty"`
}

func toChatResponse(resp *orchestrator.ChatResponse) chatResponse {
	out := chatResponse{
		ConversationID: resp.ConversationID,
		MessageID:      resp.MessageID,
		Text:           resp.Text,
		Confidence:     resp.Confidence,
		Functions:      resp.Functions,
		Citations:      resp.Citations,
		Error:          resp.Error,
	}
	if n := len(resp.Functions); n > 0 {
		last := resp.Functions[n-1]
		out.FunctionCall = &last.Call
		out.FunctionResult = last.Result
	}
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, roles := identity(r)
	resp, err := s.svc.HandleMessage(r.Context(), orchestrator.ChatRequest{
		User:           user,
		Roles:          roles,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Context:        req.Context,
		Files:          req.Files,
	})
	if err != nil {
		s.writeServiceError(w, err)
		chatRequestsTotal.WithLabelValues("rejected").Inc()
		return
	}

	status := "ok"
	if resp.Error != "" {
		status = "error"
	}
	chatRequestsTotal.WithLabelValues(status).Inc()
	writeJSON(w, http.StatusOK, toChatResponse(resp))
}

type analyzeRequest struct {
	Doctype string `json:"doctype"`
	Docname string `json:"docname"`
	Prompt  string `json:"prompt"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, roles := identity(r)
	resp, err := s.svc.AnalyzeDocument(r.Context(), orchestrator.AnalyzeRequest{
		User:    user,
		Roles:   roles,
		Doctype: req.Doctype,
		Docname: req.Docname,
		Prompt:  req.Prompt,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(resp))
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Feedback  string `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.svc.Feedback(r.Context(), req.MessageID, req.Feedback); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.svc.History(r.Context(), conversationID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

// writeServiceError maps orchestrator errors onto status codes without
// leaking internals.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		log.WithError(err).Error("server: request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("server: encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
