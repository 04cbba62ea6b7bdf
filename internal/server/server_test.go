package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfreitas/erpagent/internal/config"
	"github.com/cfreitas/erpagent/internal/model"
	"github.com/cfreitas/erpagent/internal/orchestrator"
	"github.com/cfreitas/erpagent/internal/store"
)

type fakeService struct {
	chatResp    *orchestrator.ChatResponse
	chatErr     error
	chatReq     orchestrator.ChatRequest
	analyzeResp *orchestrator.ChatResponse
	analyzeErr  error
	feedbackErr error
	history     []model.Message
	historyErr  error
}

func (f *fakeService) HandleMessage(_ context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	f.chatReq = req
	return f.chatResp, f.chatErr
}

func (f *fakeService) AnalyzeDocument(context.Context, orchestrator.AnalyzeRequest) (*orchestrator.ChatResponse, error) {
	return f.analyzeResp, f.analyzeErr
}

func (f *fakeService) Feedback(context.Context, string, string) error {
	return f.feedbackErr
}

func (f *fakeService) History(context.Context, string, int) ([]model.Message, error) {
	return f.history, f.historyErr
}

func newTestServer(svc Service, mutate ...func(*config.Settings)) *Server {
	cfg := config.Default()
	cfg.Server.RateRPS = 1000
	cfg.Server.RateBurst = 1000
	for _, m := range mutate {
		m(cfg)
	}
	return New(cfg, svc)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var aliceHeaders = map[string]string{
	"X-Erp-User":  "alice@example.com",
	"X-Erp-Roles": "Sales User, Employee",
}

func TestChatRequiresIdentity(t *testing.T) {
	srv := newTestServer(&fakeService{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatEnforcesRequiredRole(t *testing.T) {
	srv := newTestServer(&fakeService{}, func(cfg *config.Settings) {
		cfg.Assistant.RequiredRole = "Assistant User"
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, aliceHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	allowed := map[string]string{
		"X-Erp-User":  "alice@example.com",
		"X-Erp-Roles": "Assistant User",
	}
	svc := &fakeService{chatResp: &orchestrator.ChatResponse{ConversationID: "c1", Text: "hello"}}
	srv = newTestServer(svc, func(cfg *config.Settings) {
		cfg.Assistant.RequiredRole = "Assistant User"
	})
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, allowed)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatContract(t *testing.T) {
	conf := 0.9
	svc := &fakeService{chatResp: &orchestrator.ChatResponse{
		ConversationID: "c1",
		MessageID:      "m1",
		Text:           "There are 85 units in stock.",
		Confidence:     &conf,
		Functions: []orchestrator.FunctionExchange{{
			Call:   model.FunctionCall{Name: "check_stock_levels", Args: map[string]any{"item_code": "WIDGET-001"}},
			Result: map[string]any{"found": true, "quantity": 85.0},
		}},
	}}
	srv := newTestServer(svc)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "how much WIDGET-001?",
		"context": map[string]any{"page": "form", "doctype": "Item", "docname": "WIDGET-001"},
	}, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "alice@example.com", svc.chatReq.User)
	assert.Equal(t, []string{"Sales User", "Employee"}, svc.chatReq.Roles)
	assert.Equal(t, "Item", svc.chatReq.Context.Doctype)

	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "c1", body.ConversationID)
	assert.Equal(t, "There are 85 units in stock.", body.Text)
	require.NotNil(t, body.Confidence)
	assert.Equal(t, 0.9, *body.Confidence)
	require.NotNil(t, body.FunctionCall)
	assert.Equal(t, "check_stock_levels", body.FunctionCall.Name)
	assert.Equal(t, 85.0, body.FunctionResult["quantity"])
}

func TestChatRejectsBadJSON(t *testing.T) {
	srv := newTestServer(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString("{nope"))
	for k, v := range aliceHeaders {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: orchestrator.ErrValidation, want: http.StatusBadRequest},
		{name: "not found", err: store.ErrNotFound, want: http.StatusNotFound},
		{name: "internal", err: errors.New("mongo down"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeService{chatErr: tc.err})
			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, aliceHeaders)
			assert.Equal(t, tc.want, rec.Code)

			if tc.want == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "mongo down")
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	svc := &fakeService{chatResp: &orchestrator.ChatResponse{ConversationID: "c1", Text: "ok"}}
	srv := newTestServer(svc, func(cfg *config.Settings) {
		cfg.Server.RateRPS = 1
		cfg.Server.RateBurst = 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, aliceHeaders)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another user has their own bucket.
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, map[string]string{
		"X-Erp-User": "bob@example.com",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	srv := newTestServer(&fakeService{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/feedback", map[string]any{
		"message_id": "m1",
		"feedback":   "positive",
	}, aliceHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(&fakeService{feedbackErr: store.ErrNotFound})
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/feedback", map[string]any{
		"message_id": "missing",
		"feedback":   "positive",
	}, aliceHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	svc := &fakeService{history: []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "hi"},
		{ID: "m2", Role: model.RoleAssistant, Content: "hello"},
	}}
	srv := newTestServer(svc)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/c1", nil, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ConversationID string          `json:"conversation_id"`
		Messages       []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "c1", body.ConversationID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "m2", body.Messages[1].ID)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	srv := newTestServer(&fakeService{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/c1?limit=abc", nil, aliceHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/c1?limit=0", nil, aliceHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	svc := &fakeService{analyzeResp: &orchestrator.ChatResponse{
		ConversationID: "c2",
		Text:           "Summary of SO-0001.",
	}}
	srv := newTestServer(svc)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/analyze", map[string]any{
		"doctype": "Sales Order",
		"docname": "SO-0001",
		"prompt":  "summarize",
	}, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Summary of SO-0001.", body.Text)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeService{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicker := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	rec := httptest.NewRecorder()
	withRecovery(panicker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
