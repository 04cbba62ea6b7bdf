// Package erp talks to the host ERP's REST resource API. The assistant
// treats the ERP as an external collaborator: registered functions read
// business records through this client, and file attachments are resolved
// through it before multi-modal analysis.
package erp

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("erp: resource not found")

// Filter is a single list filter in the ERP's [field, operator, value]
// convention, e.g. {"transaction_date", "between", [from, to]}.
type Filter struct {
	Field    string
	Operator string
	Value    any
}

// ListQuery bounds and shapes a resource listing.
type ListQuery struct {
	Fields  []string
	Filters []Filter
	OrderBy string
	Limit   int
}

// Client is the read surface the bundled functions and the document
// analyzer use. Implementations must be safe for concurrent use.
type Client interface {
	// Exists reports whether a named document of the given doctype exists.
	Exists(ctx context.Context, doctype, name string) (bool, error)

	// GetDoc fetches a single document as a field mapping.
	// Returns ErrNotFound when the document does not exist.
	GetDoc(ctx context.Context, doctype, name string) (map[string]any, error)

	// List fetches documents of a doctype matching the query.
	List(ctx context.Context, doctype string, q ListQuery) ([]map[string]any, error)

	// DownloadFile fetches the raw bytes behind a file URL reference.
	DownloadFile(ctx context.Context, fileURL string) ([]byte, error)
}
