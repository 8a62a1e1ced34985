package flow

import (
	"paymentflow/gateway"
	"paymentflow/session"
)

// Indicator colors shown next to a session status.
const (
	IndicatorGreen  = "green"
	IndicatorYellow = "yellow"
	IndicatorRed    = "red"
)

// Proceeded is returned to the caller after a flow was initiated with the
// remote gateway.
type Proceeded struct {
	// Integration names the gateway settings type so the calling business
	// flow can case-switch on it.
	Integration string           `json:"integration"`
	FlowType    gateway.FlowType `json:"flow_type"`
	Mandate     *gateway.Mandate `json:"mandate,omitempty"`
	TxData      *gateway.TxData  `json:"tx_data"`
	Payload     map[string]any   `json:"payload"`
}

// Processed is the single result object returned after a gateway response was
// classified, persisted and run through the reference document hook.
type Processed struct {
	Status    session.Status `json:"status_changed_to"`
	Indicator string         `json:"indicator_color"`
	Message   string         `json:"message"`
	Action    gateway.Action `json:"action"`
	Payload   map[string]any `json:"payload"`
	// Changed reports whether this pass actually moved the session status.
	// Duplicate deliveries observe Changed == false.
	Changed bool `json:"changed"`
}

// PageContext is the state the payment page renders from. Declined is not
// terminal here: the user may retry.
type PageContext struct {
	SessionID string          `json:"session_id"`
	Status    session.Status  `json:"status"`
	Indicator string          `json:"indicator_color"`
	Terminal  bool            `json:"terminal"`
	TxData    *gateway.TxData `json:"tx_data,omitempty"`
	Button    *string         `json:"button,omitempty"`
}
