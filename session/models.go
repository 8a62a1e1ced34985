package session

import (
	"time"

	"paymentflow/gateway"
)

// Status is the session's position in the flow state machine:
// Created → Started → Initiated → {Paid | Authorized | Processing | Declined}
// with Error / Error - RefDoc as the failure parking states. Declined is
// re-enterable: the user may retry, which clears the decline reason and
// button selection.
type Status string

const (
	StatusCreated     Status = "Created"
	StatusStarted     Status = "Started"
	StatusDataCapture Status = "Data Capture"
	StatusInitiated   Status = "Initiated"
	StatusPaid        Status = "Paid"
	StatusAuthorized  Status = "Authorized"
	StatusProcessing  Status = "Processing"
	StatusDeclined    Status = "Declined"
	StatusError       Status = "Error"
	StatusErrorRefDoc Status = "Error - RefDoc"
)

// Session is the persisted log record tracking one payment attempt.
type Session struct {
	ID                string
	Status            Status
	FlowType          gateway.FlowType
	Gateway           gateway.Ref
	CorrelationID     *string
	TxData            []byte
	GatewayState      []byte
	InitiationPayload []byte
	ProcessingPayload []byte
	DeclineReason     *string
	Mandate           *gateway.Mandate
	Button            *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InBucketStatus reports whether the session already carries a bucket-mapped
// outcome from a previous processing pass.
func (s *Session) InBucketStatus() bool {
	switch s.Status {
	case StatusPaid, StatusAuthorized, StatusProcessing, StatusDeclined:
		return true
	default:
		return false
	}
}

// BucketStatus maps a classification bucket to its session status.
func BucketStatus(b gateway.Bucket) Status {
	switch b {
	case gateway.BucketSuccess:
		return StatusPaid
	case gateway.BucketPreAuthorized:
		return StatusAuthorized
	case gateway.BucketProcessing:
		return StatusProcessing
	default:
		return StatusDeclined
	}
}

// FlowParams enumerates the fields persisted together when a new initiation
// attempt succeeds. The processing payload from any earlier attempt is reset
// in the same statement.
type FlowParams struct {
	FlowType      gateway.FlowType
	CorrelationID string
	Mandate       *gateway.Mandate
}

// ProcessingParams enumerates the fields persisted together with a processing
// outcome. Payload and status always travel in one statement so a crash can
// never leave them inconsistent.
type ProcessingParams struct {
	Payload []byte
	Status  Status
	// DeclineReason replaces the stored reason; nil clears it. Set
	// KeepDeclineReason for error statuses that must not touch it.
	DeclineReason     *string
	KeepDeclineReason bool
	// ClearButton drops the button selection so the user gets another chance.
	ClearButton bool
}
