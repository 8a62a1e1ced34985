// Package refdoc defines the contract between the payment flow and the
// business documents that own transactions. The orchestrator never touches
// business state directly; it calls back through these hooks.
package refdoc

import (
	"context"
	"errors"

	"paymentflow/gateway"
)

// ErrUnknownDoctype signals a reference document type no loader was
// registered for.
var ErrUnknownDoctype = errors.New("refdoc: unknown reference document type")

// ProcessedEvent is handed to a document hook after a gateway response has
// been classified and persisted.
type ProcessedEvent struct {
	// Changed reports whether the session status actually moved.
	Changed    bool
	State      *gateway.State
	Bucket     gateway.Bucket
	FlowStates gateway.FlowStates
}

// Result lets a hook override the user-facing message and action. Status,
// indicator and payload stay owned by the orchestrator.
type Result struct {
	Message string
	Action  gateway.Action
}

// Document is the reference business document owning a transaction.
type Document interface {
	// Validate rejects the payment intent before a session is created.
	Validate(ctx context.Context) error

	OnPaymentChargeProcessed(ctx context.Context, ev ProcessedEvent) (*Result, error)
	OnPaymentMandatedChargeProcessed(ctx context.Context, ev ProcessedEvent) (*Result, error)
	OnPaymentMandateAcquisitionProcessed(ctx context.Context, ev ProcessedEvent) (*Result, error)

	// OnPaymentFailed is a best-effort notification on decline; its failure is
	// logged by the caller and never escalated.
	OnPaymentFailed(ctx context.Context, message string) error
}

// Base is a no-op Document for business types that only care about a subset
// of the hooks.
type Base struct{}

func (Base) Validate(context.Context) error { return nil }

func (Base) OnPaymentChargeProcessed(context.Context, ProcessedEvent) (*Result, error) {
	return nil, nil
}

func (Base) OnPaymentMandatedChargeProcessed(context.Context, ProcessedEvent) (*Result, error) {
	return nil, nil
}

func (Base) OnPaymentMandateAcquisitionProcessed(context.Context, ProcessedEvent) (*Result, error) {
	return nil, nil
}

func (Base) OnPaymentFailed(context.Context, string) error { return nil }

// Resolver turns the (doctype, name) pair stored in the transaction data back
// into the owning document.
type Resolver interface {
	Resolve(ctx context.Context, doctype, name string) (Document, error)
}

// Loader fetches one document of a registered type by name.
type Loader func(ctx context.Context, name string) (Document, error)

// Registry is the Resolver used in production: integrations register a loader
// per document type at startup.
type Registry struct {
	loaders map[string]Loader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

func (r *Registry) Register(doctype string, l Loader) {
	r.loaders[doctype] = l
}

func (r *Registry) Resolve(ctx context.Context, doctype, name string) (Document, error) {
	l, ok := r.loaders[doctype]
	if !ok {
		return nil, ErrUnknownDoctype
	}
	return l(ctx, name)
}
