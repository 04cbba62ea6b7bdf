// Package prompt assembles the sanitized, bounded context snapshot that is
// folded into an outgoing model request. Building is deterministic: the
// same inputs always produce the same snapshot and the same rendered text,
// which keeps prompts reproducible for testing.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cfreitas/erpagent/internal/model"
)

// denied lists field keys that must never reach a prompt, matched
// case-insensitively against the exact key name.
var denied = map[string]struct{}{
	"password":      {},
	"pwd":           {},
	"api_key":       {},
	"api_secret":    {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
}

// Builder truncates history and sanitizes document data. The zero value
// keeps no history.
type Builder struct {
	// MaxHistory is the number of most recent turns carried into the
	// snapshot.
	MaxHistory int
}

func NewBuilder(maxHistory int) Builder {
	return Builder{MaxHistory: maxHistory}
}

// Build produces a snapshot from the raw page info and conversation
// history. The store owns the full log; truncation happens here.
func (b Builder) Build(page model.PageContext, history []model.Message) model.ContextSnapshot {
	snap := model.ContextSnapshot{
		Page:    normalizePage(page.Page),
		Doctype: page.Doctype,
		Docname: page.Docname,
		Fields:  SanitizeFields(page.Doc),
	}

	if b.MaxHistory > 0 && len(history) > b.MaxHistory {
		history = history[len(history)-b.MaxHistory:]
	}
	if len(history) > 0 {
		snap.History = make([]model.Message, len(history))
		copy(snap.History, history)
	}

	return snap
}

func normalizePage(page string) string {
	switch page {
	case model.PageForm, model.PageList, model.PageReport:
		return page
	default:
		return model.PageOther
	}
}

// SanitizeFields strips denied keys and non-serializable values from a
// document field mapping, recursing into nested objects and arrays. The
// input is never mutated.
func SanitizeFields(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}

	out := make(map[string]any, len(doc))
	for key, value := range doc {
		if _, blocked := denied[strings.ToLower(key)]; blocked {
			continue
		}
		clean, ok := sanitizeValue(value)
		if !ok {
			continue
		}
		out[key] = clean
	}
	return out
}

func sanitizeValue(value any) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return SanitizeFields(v), true
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			if clean, ok := sanitizeValue(item); ok {
				items = append(items, clean)
			}
		}
		return items, true
	default:
		if _, err := json.Marshal(value); err != nil {
			return nil, false
		}
		return value, true
	}
}

// Render produces the deterministic textual preamble describing the page
// and document state. History is not rendered here; the gateway carries it
// as structured turns.
func Render(snap model.ContextSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current page: %s\n", snap.Page)
	if snap.Doctype != "" {
		fmt.Fprintf(&b, "Document type: %s\n", snap.Doctype)
	}
	if snap.Docname != "" {
		fmt.Fprintf(&b, "Document name: %s\n", snap.Docname)
	}

	if len(snap.Fields) > 0 {
		b.WriteString("Document fields:\n")
		keys := make([]string, 0, len(snap.Fields))
		for k := range snap.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			encoded, err := json.Marshal(snap.Fields[k])
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "  %s: %s\n", k, encoded)
		}
	}

	return b.String()
}
