package gateway

import (
	"github.com/shopspring/decimal"
)

// FlowType distinguishes the three remote flows a session can run. They may be
// chained from business logic, e.g. a mandate acquisition preceding a mandated
// charge, but each session carries exactly one.
type FlowType string

const (
	FlowCharge             FlowType = "charge"
	FlowMandatedCharge     FlowType = "mandated_charge"
	FlowMandateAcquisition FlowType = "mandate_acquisition"
)

// Label returns the human-readable flow name used in user-facing messages.
func (f FlowType) Label() string {
	switch f {
	case FlowMandatedCharge:
		return "Mandated charge"
	case FlowMandateAcquisition:
		return "Mandate acquisition"
	default:
		return "Charge"
	}
}

// Ref identifies a configured gateway: SettingsType names the adapter
// implementation, Instance one configuration of it.
type Ref struct {
	SettingsType string `json:"settings_type"`
	Instance     string `json:"instance"`
}

// TxData is the transaction intent handed over by the owning business
// document. It is immutable once a session is initiated, except through the
// adapter's PatchTxData hook.
type TxData struct {
	Amount           decimal.Decimal   `json:"amount" validate:"required"`
	Currency         string            `json:"currency" validate:"required,iso4217"`
	ReferenceDoctype string            `json:"reference_doctype" validate:"required"`
	ReferenceName    string            `json:"reference_name" validate:"required"`
	PayerContact     map[string]string `json:"payer_contact,omitempty"`
	PayerAddress     map[string]string `json:"payer_address,omitempty"`
	Extra            map[string]any    `json:"extra,omitempty"`
}

// Initiated is returned by an adapter after it started a remote flow. The
// correlation id is the gateway's own transaction identifier and is used to
// match asynchronous callbacks to the session.
type Initiated struct {
	CorrelationID string
	Payload       map[string]any
}

// ProcessingResponse is the inbound callback envelope built by the receiving
// transport. Signature and Message carry the raw authenticity material for
// ValidateResponse; Payload is the parsed body.
type ProcessingResponse struct {
	Signature []byte
	Message   []byte
	Payload   map[string]any
}

// Mandate references a recurring-payment authorization owned by the adapter's
// own storage. The orchestrator never looks past type and id.
type Mandate struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Bucket is the gateway-agnostic classification of a remote status.
type Bucket string

const (
	BucketSuccess       Bucket = "success"
	BucketPreAuthorized Bucket = "pre_authorized"
	BucketProcessing    Bucket = "processing"
	BucketDeclined      Bucket = "declined"
)

// FlowStates maps an adapter's remote status vocabulary onto the four buckets
// the orchestrator understands.
type FlowStates struct {
	Success       []string
	PreAuthorized []string
	Processing    []string
	Declined      []string
}

// Classify returns the bucket a remote status belongs to.
func (f FlowStates) Classify(remoteStatus string) (Bucket, bool) {
	for _, s := range f.Success {
		if s == remoteStatus {
			return BucketSuccess, true
		}
	}
	for _, s := range f.PreAuthorized {
		if s == remoteStatus {
			return BucketPreAuthorized, true
		}
	}
	for _, s := range f.Processing {
		if s == remoteStatus {
			return BucketProcessing, true
		}
	}
	for _, s := range f.Declined {
		if s == remoteStatus {
			return BucketDeclined, true
		}
	}
	return "", false
}

// All lists every declared remote status, mainly for diagnostics.
func (f FlowStates) All() []string {
	out := make([]string, 0, len(f.Success)+len(f.PreAuthorized)+len(f.Processing)+len(f.Declined))
	out = append(out, f.Success...)
	out = append(out, f.PreAuthorized...)
	out = append(out, f.Processing...)
	out = append(out, f.Declined...)
	return out
}

// FrontendDefaults are opaque rendering templates handed to the presentation
// layer. The core never interprets them.
type FrontendDefaults struct {
	GatewayCSS     string `json:"gateway_css"`
	GatewayJS      string `json:"gateway_js"`
	GatewayWrapper string `json:"gateway_wrapper"`
}

// Action tells the frontend what to offer the user next.
type Action struct {
	Href  string `json:"href"`
	Label string `json:"label"`
}

// Override lets a processing method or a reference-document hook replace the
// default user-facing message and action. Status, indicator and payload stay
// under orchestrator control.
type Override struct {
	Message string
	Action  Action
}

// Result is the explicit return value of the response-processing methods.
// RemoteStatus must be one of the statuses declared in the adapter's
// FlowStates; there is no ambient "status changed to" flag.
type Result struct {
	RemoteStatus string
	Override     *Override
}

// State is the per-call view handed to adapter hooks. It is assembled by the
// orchestrator from the persisted session and the inbound response.
type State struct {
	SessionID     string
	Status        string
	FlowType      FlowType
	CorrelationID string
	TxData        *TxData
	Response      *ProcessingResponse
	Mandate       *Mandate
}
