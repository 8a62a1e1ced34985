package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_known_status",
			SQL: `SELECT id, status FROM payment_sessions
                  WHERE status NOT IN ('Created','Started','Data Capture','Initiated',
                                       'Paid','Authorized','Processing','Declined',
                                       'Error','Error - RefDoc')`,
		},
		{
			Name: "O2_bucket_has_payload",
			SQL: `SELECT id, status FROM payment_sessions
                  WHERE status IN ('Paid','Authorized','Processing','Declined')
                    AND processing_response_payload IS NULL`,
		},
		{
			Name: "O3_declined_bookkeeping",
			SQL: `SELECT id FROM payment_sessions
                  WHERE status = 'Declined' AND (decline_reason IS NULL OR button IS NOT NULL)`,
		},
		{
			Name: "O4_processed_implies_flow",
			SQL: `SELECT id, status FROM payment_sessions
                  WHERE processing_response_payload IS NOT NULL
                    AND (flow_type IS NULL OR correlation_id IS NULL)`,
		},
		{
			Name: "O5_initiated_implies_payload",
			SQL: `SELECT id FROM payment_sessions
                  WHERE status = 'Initiated' AND initiation_response_payload IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
