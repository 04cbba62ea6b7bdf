package gateway

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Kind classifies a gateway failure.
type Kind string

const (
	// KindAuth means a bad or missing API key. Fatal, never retried.
	KindAuth Kind = "auth"
	// KindRateLimited means the provider throttled us. Retried with
	// bounded exponential backoff.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout covers deadline expiry and transient transport or
	// server failures. Retried once, then surfaced.
	KindTimeout Kind = "timeout"
	// KindMalformed means the provider output violated the contract.
	// Surfaced, never retried.
	KindMalformed Kind = "malformed_response"
)

// Error is a classified gateway failure. Message is already scrubbed of
// secrets and safe to log.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return "gateway: " + string(e.Kind) + ": " + e.Message
}

// KindOf extracts the classification from an error returned by a Gateway.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// classify maps a raw provider error onto the taxonomy. Unknown transport
// failures count as timeouts: transient until proven otherwise, retried
// once.
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	} else if errors.As(err, &apiErrPtr) {
		code = apiErrPtr.Code
	}

	switch code {
	case 401, 403:
		return KindAuth
	case 429:
		return KindRateLimited
	case 408, 504:
		return KindTimeout
	}

	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "UNAUTHENTICATED"),
		strings.Contains(msg, "PERMISSION_DENIED"),
		strings.Contains(msg, "API KEY"):
		return KindAuth
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(msg, "RATE LIMIT"):
		return KindRateLimited
	}

	return KindTimeout
}
