package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"paymentflow/flow"
	"paymentflow/gateway"
	"paymentflow/refdoc"
	"paymentflow/session"
	"paymentflow/test/actors"
	"paymentflow/test/chaos"
	"paymentflow/test/infra"
	"paymentflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of sessions under concurrent delivery")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "randomly terminate database backends while running")
)

// stressAdapter is a deterministic in-process gateway: the callback payload
// decides the remote status, nothing leaves the test.
type stressAdapter struct {
	gateway.Base
}

var stressStates = gateway.FlowStates{
	Success:       []string{"COMPLETED"},
	PreAuthorized: []string{"AUTHORIZED"},
	Processing:    []string{"PENDING"},
	Declined:      []string{"DECLINED"},
}

func (stressAdapter) FlowStates() gateway.FlowStates { return stressStates }

func (stressAdapter) FrontendDefaults() gateway.FrontendDefaults { return gateway.FrontendDefaults{} }

func (stressAdapter) ValidateTxData(_ context.Context, tx *gateway.TxData) error {
	return gateway.CheckTxData(tx)
}

func (stressAdapter) InitiateCharge(_ context.Context, st *gateway.State) (*gateway.Initiated, error) {
	return &gateway.Initiated{
		CorrelationID: uuid.NewString(),
		Payload:       map[string]any{"order_id": st.SessionID},
	}, nil
}

func (stressAdapter) ValidateResponse(context.Context, *gateway.State) error { return nil }

func (stressAdapter) ProcessChargeResponse(_ context.Context, st *gateway.State) (*gateway.Result, error) {
	status, _ := st.Response.Payload["status"].(string)
	return &gateway.Result{RemoteStatus: status}, nil
}

func (stressAdapter) ProcessMandateAcquisitionResponse(context.Context, *gateway.State) (*gateway.Result, error) {
	return nil, gateway.ErrNotImplemented
}

func (stressAdapter) ProcessMandatedChargeResponse(context.Context, *gateway.State) (*gateway.Result, error) {
	return nil, gateway.ErrNotImplemented
}

func (stressAdapter) RenderFailureMessage(*gateway.State) string { return "declined under stress" }

func (stressAdapter) IsServerToServer(st *gateway.State) bool {
	if st.Response == nil {
		return false
	}
	source, _ := st.Response.Payload["source"].(string)
	return source == "webhook"
}

type stressDoc struct {
	refdoc.Base
}

func seedRNG(seed int64) { rand.Seed(seed) }

func TestSessionConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("PAYMENTFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("PAYMENTFLOW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no docker and no local postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	flows, repo := buildService(pool)

	sessionIDs := seedSessions(t, ctx, flows, *flConcurrency)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	statuses := []string{"COMPLETED", "AUTHORIZED", "PENDING", "DECLINED"}
	for _, id := range sessionIDs {
		id := id
		// two deliverers racing over the same session, webhook and redirect
		g.Go(func() error {
			return actors.Deliverer(ctx2, flows, id, func() map[string]any {
				return map[string]any{
					"status": statuses[rand.Intn(len(statuses))],
					"source": "webhook",
				}
			}, stop)
		})
		g.Go(func() error {
			return actors.Deliverer(ctx2, flows, id, func() map[string]any {
				return map[string]any{"status": statuses[rand.Intn(len(statuses))]}
			}, stop)
		})
		g.Go(func() error { return actors.PageReader(ctx2, flows, id, stop) })
	}
	g.Go(func() error { return actors.Retrier(ctx2, repo, sessionIDs[0], stop) })

	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpSessions(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// final sweep after all actors stopped
	if name, row, err := oracles.Run(context.Background(), pool); err != nil {
		t.Fatalf("final oracle error: %v", err)
	} else if name != "" {
		dumpSessions(t, context.Background(), pool)
		t.Fatalf("Final oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

func buildService(pool *pgxpool.Pool) (*flow.Service, *session.Repository) {
	gateways := gateway.NewRegistry()
	adapter := stressAdapter{}
	gateways.Register("Stress Gateway Settings", adapter.FrontendDefaults(), func(string) (gateway.Adapter, error) {
		return adapter, nil
	})

	refdocs := refdoc.NewRegistry()
	refdocs.Register("Stress Order", func(context.Context, string) (refdoc.Document, error) {
		return stressDoc{}, nil
	})

	repo := session.NewRepository(pool)
	flows := flow.NewService(repo, session.NewPGLocker(pool), gateways, refdocs, "http://stress.local")
	return flows, repo
}

func seedSessions(t *testing.T, ctx context.Context, flows *flow.Service, n int) []string {
	t.Helper()

	ref := gateway.Ref{SettingsType: "Stress Gateway Settings"}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tx := &gateway.TxData{
			Amount:           decimal.NewFromInt(100),
			Currency:         "USD",
			ReferenceDoctype: "Stress Order",
			ReferenceName:    fmt.Sprintf("ORD-%04d", i),
		}
		id, err := flows.Initiate(ctx, tx, ref)
		if err != nil {
			t.Fatalf("initiate session %d: %v", i, err)
		}
		if _, err := flows.Proceed(ctx, id, nil); err != nil {
			t.Fatalf("proceed session %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpSessions(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	rows, err := pool.Query(ctx, `SELECT id, status, flow_type, decline_reason, button, updated_at
                                  FROM payment_sessions ORDER BY updated_at DESC LIMIT 50`)
	if err != nil {
		t.Logf("dump payment_sessions error: %v", err)
		return
	}
	defer rows.Close()

	cols := rows.FieldDescriptions()
	t.Logf("-- payment_sessions --")
	for rows.Next() {
		vals, _ := rows.Values()
		buf := make([]any, 0, len(vals))
		for i := range vals {
			buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
		}
		t.Logf("%s", buf)
	}
}
