package gateway

import "context"

// Adapter is the polymorphic contract implemented once per payment gateway.
// The orchestrator drives the session state machine exclusively through it;
// everything gateway-specific (wire formats, signatures, status vocabulary)
// stays behind this interface.
//
// Response-processing methods must be idempotent: invoked twice with the same
// persisted response they produce the same classification without duplicate
// side effects (e.g. without creating a second mandate).
type Adapter interface {
	// FlowStates declares the adapter's remote status vocabulary per bucket.
	FlowStates() FlowStates
	// FrontendDefaults supplies rendering templates for the presentation layer.
	FrontendDefaults() FrontendDefaults

	// ValidateTxData rejects unsupported transaction intent before any session
	// is created. Returns *ValidationError on rejection.
	ValidateTxData(ctx context.Context, tx *TxData) error
	// IsUserFlowInitiationDelegated reports whether the reference document, not
	// the gateway, prompts the user to continue.
	IsUserFlowInitiationDelegated() bool
	// PatchTxData applies gateway-specific normalization, e.g. minor-unit
	// conversion, after the session moved to Started.
	PatchTxData(ctx context.Context, st *State) (*TxData, error)
	// PreDataCaptureHook fetches any remote data that must be present before a
	// data-capture form is shown.
	PreDataCaptureHook(ctx context.Context, st *State) (map[string]any, error)

	ShouldHaveMandate(st *State) bool
	GetMandate(ctx context.Context, st *State) (*Mandate, error)
	CreateMandate(ctx context.Context, st *State) (*Mandate, error)

	InitiateMandateAcquisition(ctx context.Context, st *State) (*Initiated, error)
	InitiateMandatedCharge(ctx context.Context, st *State) (*Initiated, error)
	InitiateCharge(ctx context.Context, st *State) (*Initiated, error)

	// ValidateResponse verifies the inbound signature against the stored
	// correlation and secret material. Returns ErrPayloadIntegrity on mismatch.
	ValidateResponse(ctx context.Context, st *State) error
	ProcessMandateAcquisitionResponse(ctx context.Context, st *State) (*Result, error)
	ProcessMandatedChargeResponse(ctx context.Context, st *State) (*Result, error)
	ProcessChargeResponse(ctx context.Context, st *State) (*Result, error)

	// RenderFailureMessage extracts a readable decline explanation from the
	// last response. Only consulted for the declined bucket.
	RenderFailureMessage(st *State) string
	// IsServerToServer reports whether the callback arrived without a human
	// observing it; failures are then logged silently instead of redirected.
	IsServerToServer(st *State) bool
}

// Base supplies the defaults for the optional adapter operations. Concrete
// adapters embed it and override what their gateway needs.
type Base struct{}

func (Base) IsUserFlowInitiationDelegated() bool { return false }

func (Base) PatchTxData(_ context.Context, st *State) (*TxData, error) {
	return st.TxData, nil
}

func (Base) PreDataCaptureHook(context.Context, *State) (map[string]any, error) {
	return map[string]any{}, nil
}

func (Base) ShouldHaveMandate(*State) bool { return false }

func (Base) GetMandate(context.Context, *State) (*Mandate, error) { return nil, nil }

func (Base) CreateMandate(context.Context, *State) (*Mandate, error) {
	return nil, ErrNotImplemented
}

func (Base) InitiateMandateAcquisition(context.Context, *State) (*Initiated, error) {
	return nil, ErrNotImplemented
}

func (Base) InitiateMandatedCharge(context.Context, *State) (*Initiated, error) {
	return nil, ErrNotImplemented
}
