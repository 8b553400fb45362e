package receipt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Guardrail statuses reported to callers
const (
	StatusOK             = "ok"
	StatusError          = "error"
	StatusNoAmountsFound = "no_amounts_found"
)

var (
	// ErrNoInput means the request carried neither a file nor text
	ErrNoInput = errors.New("no image file or text provided")

	// ErrThrottled means the OCR engine is at capacity
	ErrThrottled = errors.New("ocr capacity exceeded")
)

// GuardrailError stops a request before or after extraction with a
// structured {status, reason} answer
type GuardrailError struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	code   int
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Reason)
}

// StatusCode is the HTTP status the guardrail is reported with
func (e *GuardrailError) StatusCode() int {
	if e.code == 0 {
		return http.StatusBadRequest
	}
	return e.code
}

func errTooNoisy() *GuardrailError {
	return &GuardrailError{Status: StatusNoAmountsFound, Reason: "document too noisy", code: http.StatusBadRequest}
}

func errNoText() *GuardrailError {
	return &GuardrailError{Status: StatusNoAmountsFound, Reason: "No text could be extracted.", code: http.StatusBadRequest}
}

func errNoAmounts() *GuardrailError {
	return &GuardrailError{Status: StatusNoAmountsFound, Reason: "No amounts found in document.", code: http.StatusOK}
}

// ValidationDetail is one schema violation
type ValidationDetail struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError means the extracted record does not match the output schema
type ValidationError struct {
	Details []ValidationDetail
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		msgs = append(msgs, d.Path+": "+d.Message)
	}
	return "output validation failed: " + strings.Join(msgs, "; ")
}
