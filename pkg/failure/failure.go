// Package failure defines the error taxonomy of the generation pipeline and
// maps each failure to the status and body sent back to the caller.
package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// SchemaViolation reports a malformed inbound payload.
type SchemaViolation struct {
	Path   string
	Reason string
}

func (e *SchemaViolation) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// UpstreamFailure reports a transport error or non-success status from the
// completion provider. StatusCode is zero when the provider never answered.
type UpstreamFailure struct {
	StatusCode int
	Err        error
}

func (e *UpstreamFailure) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *UpstreamFailure) Unwrap() error { return e.Err }

// ContentIncomplete reports a batched completion rejected by the content policy.
type ContentIncomplete struct {
	Reason string
}

func (e *ContentIncomplete) Error() string {
	return "generated content incomplete: " + e.Reason
}

// Timeout reports that the request exceeded its wall-clock budget before any
// output was committed.
type Timeout struct {
	Err error
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("request timed out: %v", e.Err)
}

func (e *Timeout) Unwrap() error { return e.Err }

// MidStreamFailure reports an error after a streamed response was committed.
// It never changes the status code; the caller only sees the body end early.
type MidStreamFailure struct {
	Fragments int
	Err       error
}

func (e *MidStreamFailure) Error() string {
	return fmt.Sprintf("stream terminated after %d fragments: %v", e.Fragments, e.Err)
}

func (e *MidStreamFailure) Unwrap() error { return e.Err }

// Unauthorized reports a request rejected by the authenticator.
type Unauthorized struct {
	Reason string
}

func (e *Unauthorized) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// Outcome is the outbound representation of a failure.
type Outcome struct {
	Status      int
	ContentType string
	Body        []byte
}

// Body is the JSON error document for upstream and content failures.
type Body struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Surface maps err to the status and body the caller receives.
func Surface(err error) Outcome {
	var (
		schemaErr   *SchemaViolation
		authErr     *Unauthorized
		upstreamErr *UpstreamFailure
		contentErr  *ContentIncomplete
		timeoutErr  *Timeout
	)

	switch {
	case errors.As(err, &schemaErr):
		return textOutcome(http.StatusUnprocessableEntity, schemaErr.Error())
	case errors.As(err, &authErr):
		return textOutcome(http.StatusUnauthorized, "Unauthorized")
	case errors.As(err, &timeoutErr):
		return jsonOutcome(http.StatusGatewayTimeout, Body{Error: "upstream timed out"})
	case errors.As(err, &contentErr):
		return jsonOutcome(http.StatusInternalServerError, Body{
			Error:   "generated content was incomplete",
			Details: contentErr.Reason,
		})
	case errors.As(err, &upstreamErr):
		body := Body{Error: "upstream request failed"}
		if upstreamErr.Err != nil {
			body.Details = upstreamErr.Err.Error()
		}
		return jsonOutcome(upstreamStatus(upstreamErr.StatusCode), body)
	default:
		return jsonOutcome(http.StatusInternalServerError, Body{Error: "internal error"})
	}
}

// upstreamStatus passes provider error statuses through and falls back to 502
// for transport errors and anything outside the 4xx/5xx range.
func upstreamStatus(code int) int {
	if code >= 400 && code <= 599 {
		return code
	}
	return http.StatusBadGateway
}

func textOutcome(status int, msg string) Outcome {
	return Outcome{Status: status, ContentType: contentTypeText, Body: []byte(msg)}
}

func jsonOutcome(status int, body Body) Outcome {
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(`{"error":"internal error"}`)
	}
	return Outcome{Status: status, ContentType: contentTypeJSON, Body: data}
}
