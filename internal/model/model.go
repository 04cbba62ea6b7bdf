package model

import (
	"time"
)

// Message roles as persisted and as exposed on the HTTP surface.
// The gateway maps these onto provider roles when building a request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Feedback values accepted for an assistant message.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// Conversation groups an ordered sequence of messages for one user.
type Conversation struct {
	ID        string    `json:"id" bson:"_id"`
	User      string    `json:"user" bson:"user"`
	Title     string    `json:"title,omitempty" bson:"title,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Attachment references a file stored by the host ERP.
type Attachment struct {
	FileURL  string `json:"file_url" bson:"file_url"`
	FileName string `json:"file_name" bson:"file_name"`
}

// FunctionCall is a model-proposed invocation, not yet validated.
type FunctionCall struct {
	ID   string         `json:"id,omitempty" bson:"id,omitempty"`
	Name string         `json:"name" bson:"name"`
	Args map[string]any `json:"args,omitempty" bson:"args,omitempty"`
}

// Citation points at an external source used to ground an answer.
type Citation struct {
	URI   string `json:"uri" bson:"uri"`
	Title string `json:"title,omitempty" bson:"title,omitempty"`
}

// Message is a single conversation turn. Immutable once persisted,
// except for the Feedback field.
type Message struct {
	ID             string         `json:"id" bson:"_id"`
	Conversation   string         `json:"conversation" bson:"conversation"`
	Role           string         `json:"role" bson:"role"`
	Content        string         `json:"content" bson:"content"`
	Attachments    []Attachment   `json:"attachments,omitempty" bson:"attachments,omitempty"`
	FunctionCall   *FunctionCall  `json:"function_call,omitempty" bson:"function_call,omitempty"`
	FunctionResult map[string]any `json:"function_result,omitempty" bson:"function_result,omitempty"`
	Citations      []Citation     `json:"citations,omitempty" bson:"citations,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty" bson:"confidence,omitempty"`
	Feedback       string         `json:"feedback,omitempty" bson:"feedback,omitempty"`
	IsError        bool           `json:"is_error,omitempty" bson:"is_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
}

// Page kinds recognised in the inbound context payload.
const (
	PageForm   = "form"
	PageList   = "list"
	PageReport = "report"
	PageOther  = "other"
)

// PageContext is the raw page/document information sent by the frontend.
// Doc may contain anything the widget scraped off the form; it is
// sanitized before it reaches a prompt.
type PageContext struct {
	Page    string         `json:"page,omitempty"`
	Doctype string         `json:"doctype,omitempty"`
	Docname string         `json:"docname,omitempty"`
	Doc     map[string]any `json:"doc,omitempty"`
}

// ContextSnapshot is the sanitized, bounded view of page state and recent
// history that gets folded into an outgoing prompt. Built fresh per
// request and never persisted.
type ContextSnapshot struct {
	Page    string
	Doctype string
	Docname string
	Fields  map[string]any
	History []Message
}
