package proxy

import (
	"encoding/json"
	"net/http"
	"time"
)

// APIError is the error envelope written for every 4xx/5xx response, using a
// direct encoding/json marshal-and-write style rather than a web framework's
// built-in error type.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
	Usage   string `json:"usage,omitempty"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error     APIError `json:"error"`
	Success   bool     `json:"success"`
	Timestamp string   `json:"timestamp"`
}

// WriteJSON writes e as the body of an error response with the given HTTP
// status code and returns the number of body bytes written, so callers can
// fold it into response-size accounting alongside the non-error paths.
func (e APIError) WriteJSON(w http.ResponseWriter, status int) int64 {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(errorEnvelope{
		Error:     e,
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	_, _ = w.Write(body)
	return int64(len(body))
}

// Error kinds classify a pipelineError; handleError writes the HTTP status
// its caller passes in and uses the kind only to add a usage hint.
const (
	KindAdmission     = "admission"
	KindUpstreamTimeo = "upstream_timeout"
	KindUpstreamError = "upstream_error"
	KindSerialization = "serialization"
)

// pipelineError pairs an error kind with the detail needed to render it,
// giving every stage a uniform error type to hand to handleError along
// with the HTTP status to report.
type pipelineError struct {
	Kind       string
	Message    string
	URL        string
	StatusCode int // propagated upstream status for KindUpstreamError, 0 otherwise
}

func (e *pipelineError) Error() string { return e.Message }

func admissionError(url, reason string) *pipelineError {
	return &pipelineError{Kind: KindAdmission, Message: reason, URL: url}
}

func upstreamTimeoutError(url string, timeout time.Duration) *pipelineError {
	return &pipelineError{
		Kind:    KindUpstreamTimeo,
		Message: "upstream request timed out after " + timeout.String(),
		URL:     url,
	}
}

func upstreamError(url, message string, status int) *pipelineError {
	return &pipelineError{Kind: KindUpstreamError, Message: message, URL: url, StatusCode: status}
}
