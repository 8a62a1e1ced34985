package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"paymentflow/gateway"
	"paymentflow/session"
	"paymentflow/test/infra"
)

func setupRepo(t *testing.T) *session.Repository {
	t.Helper()
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

	return session.NewRepository(pool)
}

func mustCreate(t *testing.T, repo *session.Repository) session.Session {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{
		"amount":            "25",
		"currency":          "EUR",
		"reference_doctype": "Sales Order",
		"reference_name":    "SO-1",
	})
	sess, err := repo.Create(context.Background(), raw, gateway.Ref{SettingsType: "Hosted Checkout Settings", Instance: "eu"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess
}

func TestRepositoryCreateAndGet(t *testing.T) {
	repo := setupRepo(t)

	created := mustCreate(t, repo)
	if created.Status != session.StatusCreated {
		t.Fatalf("expected Created, got %s", created.Status)
	}

	loaded, err := repo.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Gateway.SettingsType != "Hosted Checkout Settings" || loaded.Gateway.Instance != "eu" {
		t.Fatalf("gateway ref not persisted: %+v", loaded.Gateway)
	}
	if loaded.FlowType != "" || loaded.Mandate != nil {
		t.Fatalf("fresh session must have no flow: %+v", loaded)
	}
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryUpdateTxDataMerges(t *testing.T) {
	repo := setupRepo(t)
	created := mustCreate(t, repo)
	ctx := context.Background()

	err := repo.UpdateTxData(ctx, created.ID, map[string]any{"note": "gift wrap"}, session.StatusStarted)
	if err != nil {
		t.Fatalf("update tx data: %v", err)
	}

	loaded, _ := repo.Get(ctx, created.ID)
	if loaded.Status != session.StatusStarted {
		t.Fatalf("status not updated atomically: %s", loaded.Status)
	}

	var data map[string]any
	if err := json.Unmarshal(loaded.TxData, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data["note"] != "gift wrap" || data["reference_name"] != "SO-1" {
		t.Fatalf("merge lost fields: %+v", data)
	}
}

func TestRepositoryFlowAndInitiation(t *testing.T) {
	repo := setupRepo(t)
	created := mustCreate(t, repo)
	ctx := context.Background()

	err := repo.SetFlow(ctx, created.ID, session.FlowParams{
		FlowType:      gateway.FlowMandateAcquisition,
		CorrelationID: "gw-1",
		Mandate:       &gateway.Mandate{Type: "SEPA Mandate", ID: "M-1"},
	})
	if err != nil {
		t.Fatalf("set flow: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"redirect_url": "https://gw.example"})
	if err := repo.SetInitiationPayload(ctx, created.ID, payload, session.StatusInitiated); err != nil {
		t.Fatalf("set initiation payload: %v", err)
	}

	loaded, _ := repo.Get(ctx, created.ID)
	if loaded.FlowType != gateway.FlowMandateAcquisition {
		t.Fatalf("flow type: %s", loaded.FlowType)
	}
	if loaded.CorrelationID == nil || *loaded.CorrelationID != "gw-1" {
		t.Fatalf("correlation: %v", loaded.CorrelationID)
	}
	if loaded.Mandate == nil || loaded.Mandate.ID != "M-1" {
		t.Fatalf("mandate: %+v", loaded.Mandate)
	}
	if loaded.Status != session.StatusInitiated || len(loaded.InitiationPayload) == 0 {
		t.Fatalf("initiation not persisted with status: %+v", loaded.Status)
	}
}

func TestRepositoryProcessingPayloadDeclineBookkeeping(t *testing.T) {
	repo := setupRepo(t)
	created := mustCreate(t, repo)
	ctx := context.Background()

	if err := repo.SetButtonGateway(ctx, created.ID, "card", created.Gateway); err != nil {
		t.Fatalf("set button: %v", err)
	}

	reason := "card expired"
	payload, _ := json.Marshal(map[string]any{"status": "DECLINED"})
	err := repo.SetProcessingPayload(ctx, created.ID, session.ProcessingParams{
		Payload:       payload,
		Status:        session.StatusDeclined,
		DeclineReason: &reason,
		ClearButton:   true,
	})
	if err != nil {
		t.Fatalf("set processing payload: %v", err)
	}

	loaded, _ := repo.Get(ctx, created.ID)
	if loaded.Status != session.StatusDeclined {
		t.Fatalf("status: %s", loaded.Status)
	}
	if loaded.DeclineReason == nil || *loaded.DeclineReason != reason {
		t.Fatalf("decline reason: %v", loaded.DeclineReason)
	}
	if loaded.Button != nil {
		t.Fatalf("button must be cleared on decline")
	}

	// an error outcome must not touch the stored reason
	errPayload, _ := json.Marshal(map[string]any{"status": "???"})
	err = repo.SetProcessingPayload(ctx, created.ID, session.ProcessingParams{
		Payload:           errPayload,
		Status:            session.StatusError,
		KeepDeclineReason: true,
	})
	if err != nil {
		t.Fatalf("set error payload: %v", err)
	}
	loaded, _ = repo.Get(ctx, created.ID)
	if loaded.DeclineReason == nil || *loaded.DeclineReason != reason {
		t.Fatalf("error write clobbered decline reason: %v", loaded.DeclineReason)
	}

	// a successful pass clears it
	okPayload, _ := json.Marshal(map[string]any{"status": "COMPLETED"})
	err = repo.SetProcessingPayload(ctx, created.ID, session.ProcessingParams{
		Payload: okPayload,
		Status:  session.StatusPaid,
	})
	if err != nil {
		t.Fatalf("set paid payload: %v", err)
	}
	loaded, _ = repo.Get(ctx, created.ID)
	if loaded.DeclineReason != nil {
		t.Fatalf("paid session must not keep a decline reason")
	}
}

func TestRepositoryGatewayStateTransition(t *testing.T) {
	repo := setupRepo(t)
	created := mustCreate(t, repo)
	ctx := context.Background()

	state, _ := json.Marshal(map[string]any{"fields": []string{"vpa"}})
	if err := repo.SetGatewayState(ctx, created.ID, state); err != nil {
		t.Fatalf("set gateway state: %v", err)
	}
	loaded, _ := repo.Get(ctx, created.ID)
	if loaded.Status != session.StatusDataCapture {
		t.Fatalf("expected Data Capture, got %s", loaded.Status)
	}

	// once the flow is under way the status must not regress
	payload, _ := json.Marshal(map[string]any{})
	if err := repo.SetInitiationPayload(ctx, created.ID, payload, session.StatusInitiated); err != nil {
		t.Fatalf("set initiation payload: %v", err)
	}
	if err := repo.SetGatewayState(ctx, created.ID, state); err != nil {
		t.Fatalf("set gateway state: %v", err)
	}
	loaded, _ = repo.Get(ctx, created.ID)
	if loaded.Status != session.StatusInitiated {
		t.Fatalf("gateway state write regressed status to %s", loaded.Status)
	}
}

func TestRepositoryResetForRetry(t *testing.T) {
	repo := setupRepo(t)
	created := mustCreate(t, repo)
	ctx := context.Background()

	// not in an error state yet
	if err := repo.ResetForRetry(ctx, created.ID); !errors.Is(err, session.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable, got %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"status": "???"})
	if err := repo.SetProcessingPayload(ctx, created.ID, session.ProcessingParams{
		Payload: payload,
		Status:  session.StatusError,
	}); err != nil {
		t.Fatalf("set error payload: %v", err)
	}

	if err := repo.ResetForRetry(ctx, created.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	loaded, _ := repo.Get(ctx, created.ID)
	if loaded.Status != session.StatusStarted {
		t.Fatalf("expected Started after reset, got %s", loaded.Status)
	}
	if len(loaded.ProcessingPayload) != 0 {
		t.Fatalf("reset must clear the processing payload")
	}

	if err := repo.ResetForRetry(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
