package flow

import (
	"context"
	"testing"
	"time"

	"paymentflow/gateway"
	"paymentflow/session"
	"paymentflow/test/infra"
)

// The duplicate-delivery replay must hold against the real repository: the
// jsonb column hands back its own rendering of the stored payload, not the
// bytes that were written.
func TestProcessResponseReplayThroughRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = teardown(context.Background())
	})

	repo := session.NewRepository(pool)
	adapter := &fakeAdapter{}
	doc := &fakeDoc{}

	gateways := gateway.NewRegistry()
	gateways.Register(testSettings, adapter.FrontendDefaults(), func(string) (gateway.Adapter, error) {
		return adapter, nil
	})
	svc := NewService(repo, session.NewPGLocker(pool), gateways, &fakeResolver{doc: doc}, "https://pay.example.com")

	id, err := svc.Initiate(ctx, testTxData(), gateway.Ref{SettingsType: testSettings})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.Proceed(ctx, id, nil); err != nil {
		t.Fatalf("proceed: %v", err)
	}

	// nested values and a number exercise the round trip through jsonb
	payload := map[string]any{
		"status":         "SETTLED",
		"transaction_id": "txn-" + id,
		"amount":         250,
		"card":           map[string]any{"brand": "visa", "last4": "4242"},
	}

	first, err := svc.ProcessResponse(ctx, id, &gateway.ProcessingResponse{Payload: payload})
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !first.Changed || first.Status != session.StatusPaid {
		t.Fatalf("unexpected first outcome: %+v", first)
	}

	second, err := svc.ProcessResponse(ctx, id, &gateway.ProcessingResponse{Payload: payload})
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if second.Changed || second.Status != session.StatusPaid {
		t.Fatalf("duplicate must replay the stored outcome: %+v", second)
	}
	if got := adapter.processChargeCalls.Load(); got != 1 {
		t.Fatalf("duplicate delivery must not re-invoke the adapter, got %d calls", got)
	}
	if got := len(doc.chargeEvents()); got != 1 {
		t.Fatalf("duplicate delivery must not re-run the document hook, got %d events", got)
	}
}
