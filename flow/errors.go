package flow

import (
	"fmt"

	"paymentflow/gateway"
)

// ProcessingError wraps a failure inside the adapter's response
// classification. Remediation is on the gateway side.
type ProcessingError struct {
	FlowType gateway.FlowType
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("flow: processing %s response: %v", e.FlowType, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// RefDocHookError wraps a failure inside the reference document's hook. Kept
// distinct from ProcessingError because remediation differs: this is a defect
// in the business integration, not a gateway issue.
type RefDocHookError struct {
	FlowType gateway.FlowType
	Err      error
}

func (e *RefDocHookError) Error() string {
	return fmt.Sprintf("flow: reference document hook for %s: %v", e.FlowType, e.Err)
}

func (e *RefDocHookError) Unwrap() error { return e.Err }

// Redirect is the generic user-facing outcome for failures occurring after a
// session exists. It never carries gateway detail; LogRef points a support
// agent at the full log record.
type Redirect struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Indicator  string `json:"indicator_color"`
	LogRef     string `json:"log_ref,omitempty"`
	err        error
}

func (r *Redirect) Error() string {
	if r.err != nil {
		return fmt.Sprintf("flow: %s (ref %s): %v", r.Title, r.LogRef, r.err)
	}
	return fmt.Sprintf("flow: %s (ref %s)", r.Title, r.LogRef)
}

func (r *Redirect) Unwrap() error { return r.err }
