// Package executor validates model-proposed function calls against their
// declared schema and dispatches them to the bound handler. Every call
// produces a terminal Result; handler failures and panics are captured,
// never propagated, so a single bad function cannot abort a conversation
// turn.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/cfreitas/erpagent/internal/model"
	"github.com/cfreitas/erpagent/internal/registry"
	"github.com/cfreitas/erpagent/internal/store"
)

// Kind classifies the outcome of an execution.
type Kind string

const (
	KindOK               Kind = "ok"
	KindUnknownFunction  Kind = "unknown_function"
	KindSchemaValidation Kind = "schema_validation"
	KindPermissionDenied Kind = "permission_denied"
	KindHandlerError     Kind = "handler_error"
)

// Result is the terminal outcome of one function call. For non-OK kinds,
// Message carries a user-safe description of the failure.
type Result struct {
	Name    string
	Kind    Kind
	Data    map[string]any
	Message string
}

// OK reports whether the handler ran and returned data.
func (r Result) OK() bool { return r.Kind == KindOK }

// Payload is what gets folded back into the conversation as the
// function-role turn: the handler data on success, a structured error
// otherwise.
func (r Result) Payload() map[string]any {
	if r.OK() {
		return r.Data
	}
	return map[string]any{
		"error":   string(r.Kind),
		"message": r.Message,
	}
}

// Executor dispatches validated calls. It performs no persistence of its
// own beyond the audit trail.
type Executor struct {
	registry *registry.Registry
	audit    store.AuditLogger
}

// New creates an Executor over the given registry. audit may be nil.
func New(reg *registry.Registry, audit store.AuditLogger) *Executor {
	return &Executor{registry: reg, audit: audit}
}

// Execute runs a single function call to a terminal Result. Audit
// recording failures are logged, not surfaced: auditing must never break
// a conversation turn.
func (e *Executor) Execute(ctx context.Context, scope registry.Scope, call model.FunctionCall) Result {
	result := e.execute(ctx, scope, call)
	executionsTotal.WithLabelValues(call.Name, string(result.Kind)).Inc()

	if e.audit != nil {
		rec := store.AuditRecord{
			User:      scope.User,
			Action:    "function_call",
			Function:  call.Name,
			Args:      call.Args,
			Result:    result.Payload(),
			Outcome:   string(result.Kind),
			CreatedAt: time.Now().UTC(),
		}
		if err := e.audit.Record(ctx, rec); err != nil {
			log.WithError(err).WithField("function", call.Name).Warn("executor: audit record failed")
		}
	}

	return result
}

func (e *Executor) execute(ctx context.Context, scope registry.Scope, call model.FunctionCall) Result {
	decl, ok := e.registry.Get(call.Name)
	if !ok || !decl.Enabled {
		// Disabled functions are indistinguishable from unknown ones:
		// they are outside the enabled set the model was offered.
		return Result{
			Name:    call.Name,
			Kind:    KindUnknownFunction,
			Message: fmt.Sprintf("function %q is not available", call.Name),
		}
	}

	if decl.RequiredRole != "" && !scope.HasRole(decl.RequiredRole) {
		return Result{
			Name:    call.Name,
			Kind:    KindPermissionDenied,
			Message: fmt.Sprintf("user %q is not permitted to execute %q", scope.User, call.Name),
		}
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	if decl.Parameters != nil {
		if msg, ok := validateArgs(decl.Parameters, args); !ok {
			return Result{
				Name:    call.Name,
				Kind:    KindSchemaValidation,
				Message: msg,
			}
		}
	}

	data, err := invoke(ctx, decl.Handler, scope, args)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"function": call.Name,
			"user":     scope.User,
		}).Error("executor: handler failed")
		return Result{
			Name:    call.Name,
			Kind:    KindHandlerError,
			Message: fmt.Sprintf("function %q failed: %v", call.Name, err),
		}
	}

	return Result{Name: call.Name, Kind: KindOK, Data: data}
}

// invoke runs the handler with panic containment.
func invoke(ctx context.Context, fn registry.HandlerFunc, scope registry.Scope, args map[string]any) (data map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			data = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(ctx, scope, args)
}

// validateArgs checks args against the declaration's JSON Schema. Returns
// a joined, user-safe description of all violations on failure.
func validateArgs(schema map[string]any, args map[string]any) (string, bool) {
	res, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		// A schema that cannot be compiled is a registration defect; the
		// call is rejected rather than run unvalidated.
		return fmt.Sprintf("invalid parameter schema: %v", err), false
	}
	if res.Valid() {
		return "", true
	}

	msgs := make([]string, 0, len(res.Errors()))
	for _, verr := range res.Errors() {
		msgs = append(msgs, verr.String())
	}
	return strings.Join(msgs, "; "), false
}
