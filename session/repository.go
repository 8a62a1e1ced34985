package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"paymentflow/gateway"
)

var (
	// ErrNotFound is returned when no session row exists for the identifier.
	ErrNotFound = errors.New("session: not found")
	// ErrNotRetryable signals a retry request for a session that is not in an
	// error state.
	ErrNotRetryable = errors.New("session: not in a retryable state")
)

const sessionColumns = `id, status, flow_type, gateway_settings, gateway_instance,
	correlation_id, tx_data, gateway_state, initiation_response_payload,
	processing_response_payload, decline_reason, mandate_type, mandate_id,
	button, created_at, updated_at`

// Repository persists payment sessions in PostgreSQL. Every mutating method
// runs a single statement: the accompanying status change commits atomically
// with the field it belongs to.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new session in Created state holding the validated
// transaction data.
func (r *Repository) Create(ctx context.Context, txData []byte, gw gateway.Ref) (Session, error) {
	const insertSQL = `
		INSERT INTO payment_sessions (id, status, gateway_settings, gateway_instance, tx_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + sessionColumns

	row := r.pool.QueryRow(ctx, insertSQL, uuid.NewString(), StatusCreated, gw.SettingsType, gw.Instance, txData)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get loads a session by id.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	const selectSQL = `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1`

	sess, err := scanSession(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	return sess, nil
}

// UpdateTxData merges the partial update into the stored transaction data and
// sets the new status in the same statement.
func (r *Repository) UpdateTxData(ctx context.Context, id string, patch map[string]any, status Status) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("session: marshal tx data patch: %w", err)
	}

	const updateSQL = `
		UPDATE payment_sessions
		SET tx_data = tx_data || $2::jsonb, status = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, raw, status)
	if err != nil {
		return fmt.Errorf("session: update tx data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFlow records the flow type, correlation id and mandate reference of a
// successful initiation attempt, resetting any processing payload left over
// from an earlier attempt.
func (r *Repository) SetFlow(ctx context.Context, id string, p FlowParams) error {
	var mandateType, mandateID *string
	if p.Mandate != nil {
		mandateType, mandateID = &p.Mandate.Type, &p.Mandate.ID
	}

	const updateSQL = `
		UPDATE payment_sessions
		SET flow_type = $2, correlation_id = $3, mandate_type = $4, mandate_id = $5,
		    processing_response_payload = NULL, updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, p.FlowType, p.CorrelationID, mandateType, mandateID)
	if err != nil {
		return fmt.Errorf("session: set flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInitiationPayload stores the remote initiation payload together with the
// new status.
func (r *Repository) SetInitiationPayload(ctx context.Context, id string, payload []byte, status Status) error {
	const updateSQL = `
		UPDATE payment_sessions
		SET initiation_response_payload = $2, status = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, payload, status)
	if err != nil {
		return fmt.Errorf("session: set initiation payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProcessingPayload stores a processing outcome: payload, status and the
// decline bookkeeping in one atomic statement. Re-applying the same params is
// a no-op in effect.
func (r *Repository) SetProcessingPayload(ctx context.Context, id string, p ProcessingParams) error {
	const updateSQL = `
		UPDATE payment_sessions
		SET processing_response_payload = $2,
		    status = $3,
		    decline_reason = CASE WHEN $5 THEN decline_reason ELSE $4 END,
		    button = CASE WHEN $6 THEN NULL ELSE button END,
		    updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, p.Payload, p.Status, p.DeclineReason, p.KeepDeclineReason, p.ClearButton)
	if err != nil {
		return fmt.Errorf("session: set processing payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetButtonGateway records the user's payment button choice and the gateway
// pair it carries.
func (r *Repository) SetButtonGateway(ctx context.Context, id, button string, gw gateway.Ref) error {
	const updateSQL = `
		UPDATE payment_sessions
		SET button = $2, gateway_settings = $3, gateway_instance = $4, updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, button, gw.SettingsType, gw.Instance)
	if err != nil {
		return fmt.Errorf("session: set button: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetGatewayState stores gateway-specific data fetched ahead of a data-capture
// form. The status only moves to Data Capture from the pre-initiation states;
// it never regresses a flow already under way.
func (r *Repository) SetGatewayState(ctx context.Context, id string, data []byte) error {
	const updateSQL = `
		UPDATE payment_sessions
		SET gateway_state = $2,
		    status = CASE WHEN status IN ($3, $4) THEN $5 ELSE status END,
		    updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, data, StatusCreated, StatusStarted, StatusDataCapture)
	if err != nil {
		return fmt.Errorf("session: set gateway state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetForRetry puts an errored session back to Started so processing can be
// attempted again. Only Error / Error - RefDoc sessions qualify.
func (r *Repository) ResetForRetry(ctx context.Context, id string) error {
	const updateSQL = `
		UPDATE payment_sessions
		SET status = $2, processing_response_payload = NULL, decline_reason = NULL,
		    button = NULL, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)`

	tag, err := r.pool.Exec(ctx, updateSQL, id, StatusStarted, StatusError, StatusErrorRefDoc)
	if err != nil {
		return fmt.Errorf("session: reset for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotRetryable
	}
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess        Session
		flowType    *string
		mandateType *string
		mandateID   *string
	)
	err := row.Scan(
		&sess.ID,
		&sess.Status,
		&flowType,
		&sess.Gateway.SettingsType,
		&sess.Gateway.Instance,
		&sess.CorrelationID,
		&sess.TxData,
		&sess.GatewayState,
		&sess.InitiationPayload,
		&sess.ProcessingPayload,
		&sess.DeclineReason,
		&mandateType,
		&mandateID,
		&sess.Button,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}

	if flowType != nil {
		sess.FlowType = gateway.FlowType(*flowType)
	}
	if mandateType != nil && mandateID != nil {
		sess.Mandate = &gateway.Mandate{Type: *mandateType, ID: *mandateID}
	}
	return sess, nil
}
