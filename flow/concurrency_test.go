package flow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"paymentflow/session"
)

// Racing identical deliveries (webhook vs. browser redirect, or webhook
// redelivery) must serialize on the session lock: exactly one pass invokes the
// adapter, every other caller observes the stored outcome.
func TestConcurrentDuplicateDeliveries(t *testing.T) {
	fx := newFixture()
	id := fx.initiateAndProceed(t)

	const callers = 16

	var (
		mu      sync.Mutex
		results []*Processed
	)

	start := make(chan struct{})
	g := new(errgroup.Group)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			<-start
			processed, err := fx.svc.ProcessResponse(context.Background(), id, deliver("SETTLED", nil))
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, processed)
			mu.Unlock()
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent deliveries: %v", err)
	}

	if got := fx.adapter.processChargeCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one adapter pass, got %d", got)
	}
	if got := len(fx.doc.chargeEvents()); got != 1 {
		t.Fatalf("expected exactly one document hook invocation, got %d", got)
	}

	changed := 0
	for _, p := range results {
		if p.Status != session.StatusPaid {
			t.Fatalf("every caller must observe Paid, got %s", p.Status)
		}
		if p.Changed {
			changed++
		}
	}
	if changed != 1 {
		t.Fatalf("exactly one caller observes the status change, got %d", changed)
	}
}

// Concurrent deliveries with different payloads may interleave in any order,
// but the session must always land in a bucket status and the adapter must
// never run concurrently for one session.
func TestConcurrentMixedDeliveries(t *testing.T) {
	fx := newFixture()
	id := fx.initiateAndProceed(t)

	statuses := []string{"IN_FLIGHT", "SETTLED", "IN_FLIGHT", "SETTLED"}

	g := new(errgroup.Group)
	for _, remote := range statuses {
		remote := remote
		g.Go(func() error {
			_, err := fx.svc.ProcessResponse(context.Background(), id, deliver(remote, nil))
			var redirect *Redirect
			if errors.As(err, &redirect) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("mixed deliveries: %v", err)
	}

	sess := fx.store.snapshot(t, id)
	if !sess.InBucketStatus() {
		t.Fatalf("session must end in a bucket status, got %s", sess.Status)
	}
}
