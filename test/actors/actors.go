package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"paymentflow/flow"
	"paymentflow/gateway"
	"paymentflow/session"
)

// Deliverer hammers one session with gateway callbacks. Duplicate and racing
// deliveries are the point: the orchestrator must serialize them and keep the
// session consistent. Lock-contention redirects are expected under load and
// not treated as failures.
func Deliverer(ctx context.Context, flows *flow.Service, sessionID string, payload func() map[string]any, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		resp := &gateway.ProcessingResponse{Payload: payload()}
		if _, err := flows.ProcessResponse(ctx, sessionID, resp); err != nil {
			var redirect *flow.Redirect
			if !errors.As(err, &redirect) {
				return fmt.Errorf("deliverer %s: %w", sessionID, err)
			}
		}
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// PageReader polls the payment page context, the way a user refreshing the
// page would while callbacks land.
func PageReader(ctx context.Context, flows *flow.Service, sessionID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := flows.PageContext(ctx, sessionID); err != nil {
			return fmt.Errorf("page reader %s: %w", sessionID, err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Retrier keeps resetting errored sessions back to Started, the way an
// operator console would. ErrNotRetryable is the common case and fine.
func Retrier(ctx context.Context, repo *session.Repository, sessionID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := repo.ResetForRetry(ctx, sessionID)
		if err != nil && !errors.Is(err, session.ErrNotRetryable) && !errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("retrier %s: %w", sessionID, err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
