// Package orchestrator drives a conversation turn through its states:
// build context, call the model gateway, execute any requested functions,
// feed results back, and persist every turn. Every path ends in a
// terminal response; executor and gateway failures never escape uncaught.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cfreitas/erpagent/internal/config"
	"github.com/cfreitas/erpagent/internal/erp"
	"github.com/cfreitas/erpagent/internal/executor"
	"github.com/cfreitas/erpagent/internal/fileproc"
	"github.com/cfreitas/erpagent/internal/gateway"
	"github.com/cfreitas/erpagent/internal/model"
	"github.com/cfreitas/erpagent/internal/prompt"
	"github.com/cfreitas/erpagent/internal/registry"
	"github.com/cfreitas/erpagent/internal/store"
)

// ErrValidation marks malformed caller input. The HTTP surface maps it to
// a 400; it is never retried.
var ErrValidation = errors.New("invalid request")

// ChatRequest is one inbound user message.
type ChatRequest struct {
	User           string
	Roles          []string
	Message        string
	ConversationID string
	Context        model.PageContext
	Files          []model.Attachment
}

// AnalyzeRequest asks for an analysis of a single ERP document.
type AnalyzeRequest struct {
	User    string
	Roles   []string
	Doctype string
	Docname string
	Prompt  string
}

// FunctionExchange is one executed call/result pair from the turn.
type FunctionExchange struct {
	Call   model.FunctionCall `json:"call"`
	Result map[string]any     `json:"result"`
}

// ChatResponse is the terminal outcome of a turn. Either Text or Error is
// set; function exchanges and citations accompany whichever it is.
type ChatResponse struct {
	ConversationID string
	MessageID      string
	Text           string
	Confidence     *float64
	Functions      []FunctionExchange
	Citations      []model.Citation
	Error          string
}

// Orchestrator ties the registry, executor, context builder, gateway and
// store together.
type Orchestrator struct {
	cfg     *config.Settings
	store   store.Store
	audit   store.AuditLogger
	gw      gateway.Gateway
	exec    *executor.Executor
	reg     *registry.Registry
	builder prompt.Builder
	files   *fileproc.Processor
	erp     erp.Client
	locks   conversationLocks
}

// New wires an Orchestrator. audit, files and erpClient may be nil when
// the corresponding features are off.
func New(cfg *config.Settings, st store.Store, audit store.AuditLogger, gw gateway.Gateway, exec *executor.Executor, reg *registry.Registry, files *fileproc.Processor, erpClient erp.Client) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		audit:   audit,
		gw:      gw,
		exec:    exec,
		reg:     reg,
		builder: prompt.NewBuilder(cfg.Assistant.MaxHistory),
		files:   files,
		erp:     erpClient,
	}
}

// HandleMessage runs one full conversation turn. The returned error is
// non-nil only for caller mistakes (ErrValidation) or persistence
// failures before the turn started; gateway and function failures come
// back inside the response.
func (o *Orchestrator) HandleMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if req.User == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}

	conv, err := o.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	// Turns on the same conversation are serialized; unrelated
	// conversations proceed independently.
	unlock := o.locks.lock(conv.ID)
	defer unlock()

	prior, err := o.store.History(ctx, conv.ID, o.cfg.Assistant.MaxHistory)
	if err != nil {
		return nil, err
	}
	snap := o.builder.Build(req.Context, prior)

	userMsg := o.newMessage(conv.ID, model.RoleUser, req.Message)
	userMsg.Attachments = req.Files
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	var parts []fileproc.Part
	if len(req.Files) > 0 && o.cfg.Assistant.EnableFileAnalysis && o.files != nil {
		parts = o.files.Process(ctx, req.Files)
	}

	var tools []*registry.Declaration
	if o.cfg.Assistant.EnableFunctionCalling {
		tools = o.reg.ListEnabled()
	}

	resp := &ChatResponse{ConversationID: conv.ID}
	scope := registry.Scope{User: req.User, Roles: req.Roles}

	turns := append([]model.Message{}, snap.History...)
	turns = append(turns, *userMsg)

	greq := gateway.Request{
		System:  o.cfg.Assistant.SystemInstruction,
		Context: prompt.Render(snap),
		History: snap.History,
		Message: req.Message,
		Files:   parts,
		Tools:   tools,
	}

	for hop := 0; ; hop++ {
		gresp, err := o.gw.Send(ctx, greq)
		if err != nil {
			return o.failTurn(ctx, conv.ID, resp, err), nil
		}

		if len(gresp.FunctionCalls) == 0 {
			assistant := o.newMessage(conv.ID, model.RoleAssistant, gresp.Text)
			assistant.Citations = gresp.Citations
			assistant.Confidence = gresp.Confidence
			o.persist(ctx, assistant)

			resp.MessageID = assistant.ID
			resp.Text = gresp.Text
			resp.Citations = gresp.Citations
			resp.Confidence = gresp.Confidence
			return resp, nil
		}

		if hop >= o.cfg.Assistant.MaxFunctionCalls {
			log.WithFields(log.Fields{
				"conversation": conv.ID,
				"cap":          o.cfg.Assistant.MaxFunctionCalls,
			}).Warn("orchestrator: function call loop limit exceeded")
			errMsg := o.newMessage(conv.ID, model.RoleAssistant, loopLimitText)
			errMsg.IsError = true
			o.persist(ctx, errMsg)

			resp.MessageID = errMsg.ID
			resp.Error = loopLimitText
			return resp, nil
		}

		for i, call := range gresp.FunctionCalls {
			call := call
			assistant := o.newMessage(conv.ID, model.RoleAssistant, "")
			if i == 0 {
				assistant.Content = gresp.Text
			}
			assistant.FunctionCall = &call
			o.persist(ctx, assistant)
			turns = append(turns, *assistant)

			result := o.exec.Execute(ctx, scope, call)

			// Persisted even when the caller has already gone away, so a
			// partially executed call never dangles out of history.
			fnMsg := o.newMessage(conv.ID, model.RoleFunction, "")
			fnMsg.FunctionCall = &call
			fnMsg.FunctionResult = result.Payload()
			fnMsg.IsError = !result.OK()
			o.persist(context.WithoutCancel(ctx), fnMsg)
			turns = append(turns, *fnMsg)

			resp.Functions = append(resp.Functions, FunctionExchange{Call: call, Result: result.Payload()})
		}

		// Attachment parts ride along on every hop so the follow-up
		// answer still sees the files the user asked about.
		greq = gateway.Request{
			System:  o.cfg.Assistant.SystemInstruction,
			Context: prompt.Render(snap),
			History: turns,
			Files:   parts,
			Tools:   tools,
		}
	}
}

// AnalyzeDocument fetches an ERP document, sanitizes it and runs a
// single-shot analysis turn over it (no function tools offered).
func (o *Orchestrator) AnalyzeDocument(ctx context.Context, req AnalyzeRequest) (*ChatResponse, error) {
	if req.Doctype == "" || req.Docname == "" {
		return nil, fmt.Errorf("%w: doctype and docname are required", ErrValidation)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if o.erp == nil {
		return nil, fmt.Errorf("%w: document analysis is not configured", ErrValidation)
	}

	doc, err := o.erp.GetDoc(ctx, req.Doctype, req.Docname)
	if errors.Is(err, erp.ErrNotFound) {
		return nil, fmt.Errorf("%w: document %s/%s not found", ErrValidation, req.Doctype, req.Docname)
	}
	if err != nil {
		return nil, err
	}

	snap := model.ContextSnapshot{
		Page:    model.PageForm,
		Doctype: req.Doctype,
		Docname: req.Docname,
		Fields:  prompt.SanitizeFields(doc),
	}

	conv, err := o.store.CreateConversation(ctx, req.User, fmt.Sprintf("Document analysis: %s %s", req.Doctype, req.Docname))
	if err != nil {
		return nil, err
	}

	userMsg := o.newMessage(conv.ID, model.RoleUser, req.Prompt)
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	var parts []fileproc.Part
	if o.cfg.Assistant.EnableFileAnalysis && o.files != nil {
		parts = o.files.Process(ctx, o.documentAttachments(ctx, req.Doctype, req.Docname))
	}

	resp := &ChatResponse{ConversationID: conv.ID}

	gresp, err := o.gw.Send(ctx, gateway.Request{
		System:  o.cfg.Assistant.SystemInstruction,
		Context: prompt.Render(snap),
		Message: req.Prompt,
		Files:   parts,
	})
	if err != nil {
		return o.failTurn(ctx, conv.ID, resp, err), nil
	}

	assistant := o.newMessage(conv.ID, model.RoleAssistant, gresp.Text)
	assistant.Citations = gresp.Citations
	assistant.Confidence = gresp.Confidence
	o.persist(ctx, assistant)

	if o.audit != nil {
		rec := store.AuditRecord{
			User:      req.User,
			Action:    "document_analysis",
			Doctype:   req.Doctype,
			Docname:   req.Docname,
			Outcome:   "ok",
			CreatedAt: time.Now().UTC(),
		}
		if err := o.audit.Record(ctx, rec); err != nil {
			log.WithError(err).Warn("orchestrator: audit record failed")
		}
	}

	resp.MessageID = assistant.ID
	resp.Text = gresp.Text
	resp.Citations = gresp.Citations
	resp.Confidence = gresp.Confidence
	return resp, nil
}

// Feedback records positive/negative feedback on a message. The feedback
// field is the only mutation the store permits on a persisted message.
func (o *Orchestrator) Feedback(ctx context.Context, messageID, feedback string) error {
	if messageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrValidation)
	}
	if feedback != model.FeedbackPositive && feedback != model.FeedbackNegative {
		return fmt.Errorf("%w: feedback must be %q or %q", ErrValidation, model.FeedbackPositive, model.FeedbackNegative)
	}
	return o.store.SetFeedback(ctx, messageID, feedback)
}

// History returns the recent messages of a conversation, oldest first.
func (o *Orchestrator) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if _, err := o.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return o.store.History(ctx, conversationID, limit)
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req ChatRequest) (*model.Conversation, error) {
	if req.ConversationID == "" {
		title := req.Message
		if len(title) > 60 {
			title = title[:60]
		}
		return o.store.CreateConversation(ctx, req.User, title)
	}

	conv, err := o.store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown conversation %q", ErrValidation, req.ConversationID)
	}
	return conv, err
}

// documentAttachments lists files attached to an ERP document. Failures
// degrade to "no attachments".
func (o *Orchestrator) documentAttachments(ctx context.Context, doctype, docname string) []model.Attachment {
	rows, err := o.erp.List(ctx, "File", erp.ListQuery{
		Fields: []string{"file_url", "file_name"},
		Filters: []erp.Filter{
			{Field: "attached_to_doctype", Operator: "=", Value: doctype},
			{Field: "attached_to_name", Operator: "=", Value: docname},
		},
	})
	if err != nil {
		log.WithError(err).WithField("docname", docname).Warn("orchestrator: listing attachments failed")
		return nil
	}

	out := make([]model.Attachment, 0, len(rows))
	for _, row := range rows {
		url, _ := row["file_url"].(string)
		name, _ := row["file_name"].(string)
		if url == "" {
			continue
		}
		out = append(out, model.Attachment{FileURL: url, FileName: name})
	}
	return out
}

const loopLimitText = "The assistant exceeded the allowed number of function calls for a single request. Please rephrase or narrow your question."

// failTurn converts a gateway failure into a terminal error response with
// a persisted, clearly labeled error message. Raw provider internals stay
// out of user-visible text.
func (o *Orchestrator) failTurn(ctx context.Context, conversationID string, resp *ChatResponse, err error) *ChatResponse {
	kind, _ := gateway.KindOf(err)
	log.WithError(err).WithFields(log.Fields{
		"conversation": conversationID,
		"kind":         kind,
	}).Error("orchestrator: gateway call failed")

	var text string
	switch kind {
	case gateway.KindAuth:
		text = "The assistant could not authenticate with the model provider. Please ask an administrator to verify the API key."
	case gateway.KindRateLimited:
		text = "The assistant is receiving too many requests right now. Please try again in a moment."
	case gateway.KindTimeout:
		text = "The model provider did not respond in time. Please try again."
	default:
		text = "The assistant received an unexpected reply from the model provider. Please try again."
	}

	errMsg := o.newMessage(conversationID, model.RoleAssistant, text)
	errMsg.IsError = true
	o.persist(context.WithoutCancel(ctx), errMsg)

	resp.MessageID = errMsg.ID
	resp.Error = text
	return resp
}

func (o *Orchestrator) newMessage(conversationID, role, content string) *model.Message {
	return &model.Message{
		ID:           uuid.NewString(),
		Conversation: conversationID,
		Role:         role,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}
}

// persist appends a message, logging rather than failing the turn when
// the write goes wrong: by this point the user already has an answer in
// flight.
func (o *Orchestrator) persist(ctx context.Context, msg *model.Message) {
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"conversation": msg.Conversation,
			"role":         msg.Role,
		}).Error("orchestrator: persisting message failed")
	}
}
