package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"paymentflow/gateway"
	"paymentflow/refdoc"
	"paymentflow/session"
)

// PaymentSessionRefKey is the query parameter carrying the session id on the
// payment link. It is the only thing the link exposes.
const PaymentSessionRefKey = "s"

// defaultLockWait bounds how long a second delivery waits for an in-flight
// processing pass before degrading to "try again later".
const defaultLockWait = 5 * time.Second

// Store is the session persistence the orchestrator depends on. Implemented
// by session.Repository; every mutation commits atomically with the status it
// carries.
type Store interface {
	Create(ctx context.Context, txData []byte, gw gateway.Ref) (session.Session, error)
	Get(ctx context.Context, id string) (session.Session, error)
	UpdateTxData(ctx context.Context, id string, patch map[string]any, status session.Status) error
	SetFlow(ctx context.Context, id string, p session.FlowParams) error
	SetInitiationPayload(ctx context.Context, id string, payload []byte, status session.Status) error
	SetProcessingPayload(ctx context.Context, id string, p session.ProcessingParams) error
	SetButtonGateway(ctx context.Context, id, button string, gw gateway.Ref) error
	SetGatewayState(ctx context.Context, id string, data []byte) error
}

// Service drives the payment session state machine:
// Created → Started → Initiated → {Paid | Authorized | Processing | Declined}
// with Error / Error - RefDoc on failure paths.
type Service struct {
	store        Store
	locker       session.Locker
	gateways     *gateway.Registry
	refdocs      refdoc.Resolver
	baseURL      string
	supportEmail string
	lockWait     time.Duration
	log          *slog.Logger
}

func NewService(store Store, locker session.Locker, gateways *gateway.Registry, refdocs refdoc.Resolver, baseURL string) *Service {
	return &Service{
		store:    store,
		locker:   locker,
		gateways: gateways,
		refdocs:  refdocs,
		baseURL:  baseURL,
		lockWait: defaultLockWait,
		log:      slog.Default(),
	}
}

func (s *Service) SetLogger(log *slog.Logger) { s.log = log }

// SetSupportEmail sets the address offered to users after a decline. Without
// it the decline action falls back to the retry link.
func (s *Service) SetSupportEmail(email string) { s.supportEmail = email }

// SetLockWait overrides the bounded wait on the session lock.
func (s *Service) SetLockWait(d time.Duration) { s.lockWait = d }

// Initiate validates the transaction intent against the gateway and creates a
// session in Created state. Validation failures surface directly to the
// caller; nothing is persisted for them.
func (s *Service) Initiate(ctx context.Context, tx *gateway.TxData, gw gateway.Ref) (string, error) {
	adapter, err := s.gateways.Resolve(gw)
	if err != nil {
		return "", err
	}

	if err := adapter.ValidateTxData(ctx, tx); err != nil {
		return "", err
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("flow: marshal tx data: %w", err)
	}

	sess, err := s.store.Create(ctx, raw, gw)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// PaymentURL derives the link that initiates the user flow, for example via
// email or chat message. It embeds only the session id.
func (s *Service) PaymentURL(sessionID string) string {
	return fmt.Sprintf("%s/pay?%s", s.baseURL, url.Values{PaymentSessionRefKey: {sessionID}}.Encode())
}

// FrontendDefaults exposes a gateway's presentation defaults to the rendering
// layer.
func (s *Service) FrontendDefaults(settingsType string) (gateway.FrontendDefaults, error) {
	return s.gateways.FrontendDefaults(settingsType)
}

// SelectButton records the user's payment button choice together with the
// gateway pair it carries.
func (s *Service) SelectButton(ctx context.Context, sessionID, button string, gw gateway.Ref) error {
	if _, err := s.gateways.Resolve(gw); err != nil {
		return err
	}
	return s.store.SetButtonGateway(ctx, sessionID, button, gw)
}

// PreDataCapture runs the adapter's pre-data-capture hook and persists
// whatever gateway state it fetched, for the data-capture form to render.
func (s *Service) PreDataCapture(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.Resolve(sess.Gateway)
	if err != nil {
		return nil, err
	}
	st, err := stateFromSession(&sess)
	if err != nil {
		return nil, err
	}

	data, err := adapter.PreDataCaptureHook(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("flow: pre data capture hook: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal gateway state: %w", err)
	}
	if err := s.store.SetGatewayState(ctx, sessionID, raw); err != nil {
		return nil, err
	}
	return data, nil
}

// Proceed starts the remote flow once the user (or the system, for delegated
// initiation) agreed to pay. Exactly one of the three initiation paths runs:
// mandate acquisition when a mandate is required but missing, mandated charge
// when one exists, plain charge otherwise.
func (s *Service) Proceed(ctx context.Context, sessionID string, txUpdate map[string]any) (*Proceeded, error) {
	if txUpdate == nil {
		txUpdate = map[string]any{}
	}
	if err := s.store.UpdateTxData(ctx, sessionID, txUpdate, session.StatusStarted); err != nil {
		return nil, err
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.Resolve(sess.Gateway)
	if err != nil {
		return nil, err
	}
	st, err := stateFromSession(&sess)
	if err != nil {
		return nil, err
	}

	patched, err := adapter.PatchTxData(ctx, st)
	if err != nil {
		return nil, s.initiationFailure(ctx, &sess, err)
	}
	st.TxData = patched

	mandate, err := adapter.GetMandate(ctx, st)
	if err != nil && !errors.Is(err, gateway.ErrNotImplemented) {
		return nil, s.initiationFailure(ctx, &sess, err)
	}
	st.Mandate = mandate

	var (
		initiated *gateway.Initiated
		flowType  gateway.FlowType
	)
	switch {
	case adapter.ShouldHaveMandate(st) && st.Mandate == nil:
		flowType = gateway.FlowMandateAcquisition
		m, err := adapter.CreateMandate(ctx, st)
		if err != nil {
			return nil, s.initiationFailure(ctx, &sess, err)
		}
		st.Mandate = m
		initiated, err = adapter.InitiateMandateAcquisition(ctx, st)
		if err != nil {
			return nil, s.initiationFailure(ctx, &sess, err)
		}
	case st.Mandate != nil:
		flowType = gateway.FlowMandatedCharge
		initiated, err = adapter.InitiateMandatedCharge(ctx, st)
		if err != nil {
			return nil, s.initiationFailure(ctx, &sess, err)
		}
	default:
		flowType = gateway.FlowCharge
		initiated, err = adapter.InitiateCharge(ctx, st)
		if err != nil {
			return nil, s.initiationFailure(ctx, &sess, err)
		}
	}

	if err := s.store.SetFlow(ctx, sessionID, session.FlowParams{
		FlowType:      flowType,
		CorrelationID: initiated.CorrelationID,
		Mandate:       st.Mandate,
	}); err != nil {
		return nil, err
	}

	rawPayload, err := json.Marshal(initiated.Payload)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal initiation payload: %w", err)
	}
	if err := s.store.SetInitiationPayload(ctx, sessionID, rawPayload, session.StatusInitiated); err != nil {
		return nil, err
	}

	return &Proceeded{
		Integration: sess.Gateway.SettingsType,
		FlowType:    flowType,
		Mandate:     st.Mandate,
		TxData:      st.TxData,
		Payload:     initiated.Payload,
	}, nil
}

// initiationFailure maps an initiation error to the generic gateway-error
// outcome. Gateway rejections persist their raw payload against the session;
// transport and unknown failures persist nothing beyond the log.
func (s *Service) initiationFailure(ctx context.Context, sess *session.Session, cause error) error {
	logRef := uuid.NewString()

	var rejected *gateway.FailedToInitiateFlowError
	if errors.As(cause, &rejected) {
		raw, err := json.Marshal(rejected.Data)
		if err != nil {
			raw = nil
		}
		if err := s.store.SetInitiationPayload(ctx, sess.ID, raw, session.StatusError); err != nil {
			s.log.Error("persisting initiation error payload failed",
				"session", sess.ID, "log_ref", logRef, "err", err)
		}
		s.log.Error("flow initiation rejected by gateway",
			"session", sess.ID, "gateway", sess.Gateway.SettingsType, "log_ref", logRef, "err", cause)
	} else {
		s.log.Error("flow initiation failed",
			"session", sess.ID, "gateway", sess.Gateway.SettingsType, "log_ref", logRef, "err", cause)
	}

	return &Redirect{
		Title:      "Payment Gateway Error",
		Message:    fmt.Sprintf("Please contact customer care mentioning: %s and %s", sess.ID, logRef),
		StatusCode: http.StatusUnauthorized,
		Indicator:  IndicatorYellow,
		LogRef:     logRef,
		err:        cause,
	}
}

// ProcessResponse handles a gateway callback for the session. Deliveries may
// race (webhook vs. browser redirect); the session lock serializes them and a
// waiter that finds the identical payload already processed replays the
// stored outcome without re-invoking the adapter.
//
// A nil, nil return means the failure was swallowed because the callback was
// server-to-server: the gateway gets its 200, the log keeps the detail.
func (s *Service) ProcessResponse(ctx context.Context, sessionID string, resp *gateway.ProcessingResponse) (*Processed, error) {
	unlock, err := s.locker.Lock(ctx, sessionID, s.lockWait)
	if err != nil {
		if errors.Is(err, session.ErrLockTimeout) {
			return nil, &Redirect{
				Title:      "Please Try Again",
				Message:    "Your payment is still being processed. Please try again in a moment.",
				StatusCode: http.StatusServiceUnavailable,
				Indicator:  IndicatorYellow,
				err:        err,
			}
		}
		return nil, err
	}
	defer unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if replayed := s.replayedOutcome(&sess, resp); replayed != nil {
		return replayed, nil
	}

	adapter, err := s.gateways.Resolve(sess.Gateway)
	if err != nil {
		return nil, err
	}
	st, err := stateFromSession(&sess)
	if err != nil {
		return nil, err
	}
	st.Response = resp

	if sess.FlowType != gateway.FlowCharge {
		mandate, err := adapter.GetMandate(ctx, st)
		if err != nil && !errors.Is(err, gateway.ErrNotImplemented) {
			return nil, s.processingFailure(ctx, &sess, resp, &ProcessingError{FlowType: sess.FlowType, Err: err}, adapter.IsServerToServer(st))
		}
		st.Mandate = mandate
	}

	doc, err := s.refdocs.Resolve(ctx, st.TxData.ReferenceDoctype, st.TxData.ReferenceName)
	if err != nil {
		return nil, fmt.Errorf("flow: resolve reference document: %w", err)
	}

	mute := adapter.IsServerToServer(st)

	processed, err := s.process(ctx, adapter, &sess, st, doc)
	if err != nil {
		return nil, s.processingFailure(ctx, &sess, resp, err, mute)
	}

	if processed.Status == session.StatusDeclined {
		msg := adapter.RenderFailureMessage(st)
		if hookErr := doc.OnPaymentFailed(ctx, msg); hookErr != nil {
			s.log.Error("on_payment_failed notification failed",
				"session", sess.ID, "err", hookErr)
		}
	}

	return processed, nil
}

// process validates, classifies and persists one gateway response, then runs
// the reference document hook for the session's flow type.
func (s *Service) process(ctx context.Context, adapter gateway.Adapter, sess *session.Session, st *gateway.State, doc refdoc.Document) (*Processed, error) {
	if err := adapter.ValidateResponse(ctx, st); err != nil {
		return nil, err
	}

	var call func(context.Context, *gateway.State) (*gateway.Result, error)
	switch sess.FlowType {
	case gateway.FlowMandateAcquisition:
		call = adapter.ProcessMandateAcquisitionResponse
	case gateway.FlowMandatedCharge:
		call = adapter.ProcessMandatedChargeResponse
	case gateway.FlowCharge:
		call = adapter.ProcessChargeResponse
	default:
		return nil, &ProcessingError{FlowType: sess.FlowType, Err: fmt.Errorf("session has no flow type; was proceed called?")}
	}

	result, err := call(ctx, st)
	if err != nil {
		return nil, &ProcessingError{FlowType: sess.FlowType, Err: err}
	}

	states := adapter.FlowStates()
	bucket, ok := states.Classify(result.RemoteStatus)
	if !ok {
		return nil, &ProcessingError{
			FlowType: sess.FlowType,
			Err:      fmt.Errorf("remote status %q not declared in flow states %v", result.RemoteStatus, states.All()),
		}
	}

	target := session.BucketStatus(bucket)
	changed := sess.Status != target

	rawPayload, err := json.Marshal(st.Response.Payload)
	if err != nil {
		return nil, &ProcessingError{FlowType: sess.FlowType, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	params := session.ProcessingParams{Payload: rawPayload, Status: target}
	if bucket == gateway.BucketDeclined {
		reason := adapter.RenderFailureMessage(st)
		params.DeclineReason = &reason
		params.ClearButton = true
	}
	if err := s.store.SetProcessingPayload(ctx, sess.ID, params); err != nil {
		return nil, &ProcessingError{FlowType: sess.FlowType, Err: err}
	}

	processed := &Processed{
		Status:    target,
		Indicator: bucketIndicator(bucket),
		Message:   s.defaultMessage(bucket, sess.FlowType),
		Action:    s.defaultAction(bucket, sess.ID),
		Payload:   st.Response.Payload,
		Changed:   changed,
	}
	if result.Override != nil {
		applyOverride(processed, result.Override.Message, result.Override.Action)
	}

	hookResult, err := s.dispatchHook(ctx, doc, sess.FlowType, refdoc.ProcessedEvent{
		Changed:    changed,
		State:      st,
		Bucket:     bucket,
		FlowStates: states,
	})
	if err != nil {
		return nil, &RefDocHookError{FlowType: sess.FlowType, Err: err}
	}
	if hookResult != nil {
		applyOverride(processed, hookResult.Message, hookResult.Action)
	}

	return processed, nil
}

func (s *Service) dispatchHook(ctx context.Context, doc refdoc.Document, flowType gateway.FlowType, ev refdoc.ProcessedEvent) (*refdoc.Result, error) {
	switch flowType {
	case gateway.FlowMandateAcquisition:
		return doc.OnPaymentMandateAcquisitionProcessed(ctx, ev)
	case gateway.FlowMandatedCharge:
		return doc.OnPaymentMandatedChargeProcessed(ctx, ev)
	default:
		return doc.OnPaymentChargeProcessed(ctx, ev)
	}
}

// replayedOutcome detects a duplicate delivery: the session already sits in a
// bucket-mapped status and the stored processing payload equals the inbound
// one. The store returns its own rendering of the stored JSON (jsonb reorders
// keys and inserts separator whitespace), so both sides are canonicalized
// through json.Marshal before comparing. The stored outcome is rebuilt without
// touching the adapter, so duplicates are observably idempotent.
func (s *Service) replayedOutcome(sess *session.Session, resp *gateway.ProcessingResponse) *Processed {
	if !sess.InBucketStatus() || len(sess.ProcessingPayload) == 0 {
		return nil
	}
	var stored map[string]any
	if err := json.Unmarshal(sess.ProcessingPayload, &stored); err != nil {
		return nil
	}
	storedRaw, err := json.Marshal(stored)
	if err != nil {
		return nil
	}
	raw, err := json.Marshal(resp.Payload)
	if err != nil || !bytes.Equal(raw, storedRaw) {
		return nil
	}

	bucket := statusBucket(sess.Status)
	processed := &Processed{
		Status:    sess.Status,
		Indicator: bucketIndicator(bucket),
		Message:   s.defaultMessage(bucket, sess.FlowType),
		Action:    s.defaultAction(bucket, sess.ID),
		Payload:   resp.Payload,
		Changed:   false,
	}
	if bucket == gateway.BucketDeclined && sess.DeclineReason != nil {
		processed.Message = *sess.DeclineReason
	}
	return processed
}

// processingFailure maps a response-processing error onto the session record
// and the user-facing outcome. Server-to-server callbacks swallow the
// redirect: the failure stays in the log only.
func (s *Service) processingFailure(ctx context.Context, sess *session.Session, resp *gateway.ProcessingResponse, cause error, mute bool) error {
	logRef := uuid.NewString()
	rawPayload, merr := json.Marshal(resp.Payload)
	if merr != nil {
		rawPayload = nil
	}

	var (
		procErr *ProcessingError
		hookErr *RefDocHookError
	)
	switch {
	case errors.Is(cause, gateway.ErrPayloadIntegrity):
		// Signature mismatch: never retried, and no status write at all.
		s.log.Error("response validation failure",
			"session", sess.ID, "log_ref", logRef, "err", cause)
		if mute {
			return nil
		}
		return &Redirect{
			Title:      "Server Error",
			Message:    "There's been an issue with your payment.",
			StatusCode: http.StatusInternalServerError,
			Indicator:  IndicatorRed,
			LogRef:     logRef,
			err:        cause,
		}

	case errors.As(cause, &hookErr):
		if err := s.store.SetProcessingPayload(ctx, sess.ID, session.ProcessingParams{
			Payload: rawPayload, Status: session.StatusErrorRefDoc, KeepDeclineReason: true,
		}); err != nil {
			s.log.Error("persisting refdoc hook error failed", "session", sess.ID, "err", err)
		}
		s.log.Error("reference document hook failed",
			"session", sess.ID, "flow_type", hookErr.FlowType, "log_ref", logRef, "err", cause)
		if mute {
			return nil
		}
		return s.processingRedirect(logRef, string(hookErr.FlowType)+" (via reference document hook)", cause)

	default:
		if !errors.As(cause, &procErr) {
			procErr = &ProcessingError{FlowType: sess.FlowType, Err: cause}
		}
		if err := s.store.SetProcessingPayload(ctx, sess.ID, session.ProcessingParams{
			Payload: rawPayload, Status: session.StatusError, KeepDeclineReason: true,
		}); err != nil {
			s.log.Error("persisting processing error failed", "session", sess.ID, "err", err)
		}
		s.log.Error("adapter processing failed",
			"session", sess.ID, "flow_type", procErr.FlowType, "log_ref", logRef, "err", cause)
		if mute {
			return nil
		}
		return s.processingRedirect(logRef, string(procErr.FlowType), cause)
	}
}

func (s *Service) processingRedirect(logRef, flowLabel string, cause error) error {
	return &Redirect{
		Title: "Server Error",
		Message: fmt.Sprintf(
			"Our server had an issue processing your %s. Please contact customer support mentioning: %s",
			flowLabel, logRef),
		StatusCode: http.StatusInternalServerError,
		Indicator:  IndicatorRed,
		LogRef:     logRef,
		err:        cause,
	}
}

// PageContext loads what the payment page needs. Terminal states (including
// the error states, which need operator intervention first) render only the
// outcome; everything else renders the payment choices.
func (s *Service) PageContext(ctx context.Context, sessionID string) (*PageContext, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pc := &PageContext{SessionID: sess.ID, Status: sess.Status, Button: sess.Button}
	switch sess.Status {
	case session.StatusPaid, session.StatusAuthorized:
		pc.Terminal, pc.Indicator = true, IndicatorGreen
	case session.StatusProcessing:
		pc.Terminal, pc.Indicator = true, IndicatorYellow
	case session.StatusError, session.StatusErrorRefDoc:
		pc.Terminal, pc.Indicator = true, IndicatorRed
	default:
		var tx gateway.TxData
		if err := json.Unmarshal(sess.TxData, &tx); err != nil {
			return nil, fmt.Errorf("flow: unmarshal tx data: %w", err)
		}
		pc.TxData = &tx
	}
	return pc, nil
}

func (s *Service) defaultMessage(bucket gateway.Bucket, flowType gateway.FlowType) string {
	label := flowType.Label()
	switch bucket {
	case gateway.BucketSuccess:
		return fmt.Sprintf("%s succeeded", label)
	case gateway.BucketPreAuthorized:
		return fmt.Sprintf("%s authorized", label)
	case gateway.BucketProcessing:
		return fmt.Sprintf("%s awaiting further processing by the bank", label)
	default:
		return fmt.Sprintf("%s declined", label)
	}
}

func (s *Service) defaultAction(bucket gateway.Bucket, sessionID string) gateway.Action {
	switch bucket {
	case gateway.BucketSuccess, gateway.BucketPreAuthorized:
		return gateway.Action{Href: "/", Label: "Go to Homepage"}
	case gateway.BucketProcessing:
		return gateway.Action{Href: s.PaymentURL(sessionID), Label: "Refresh"}
	default:
		if s.supportEmail != "" {
			return gateway.Action{
				Href:  fmt.Sprintf("mailto:%s?subject=%s", s.supportEmail, url.QueryEscape("Payment declined: "+sessionID)),
				Label: "Email Us",
			}
		}
		return gateway.Action{Href: s.PaymentURL(sessionID), Label: "Retry Payment"}
	}
}

func bucketIndicator(b gateway.Bucket) string {
	switch b {
	case gateway.BucketSuccess, gateway.BucketPreAuthorized:
		return IndicatorGreen
	case gateway.BucketProcessing:
		return IndicatorYellow
	default:
		return IndicatorRed
	}
}

func statusBucket(st session.Status) gateway.Bucket {
	switch st {
	case session.StatusPaid:
		return gateway.BucketSuccess
	case session.StatusAuthorized:
		return gateway.BucketPreAuthorized
	case session.StatusProcessing:
		return gateway.BucketProcessing
	default:
		return gateway.BucketDeclined
	}
}

func applyOverride(p *Processed, message string, action gateway.Action) {
	if message != "" {
		p.Message = message
	}
	if action != (gateway.Action{}) {
		p.Action = action
	}
}

func stateFromSession(sess *session.Session) (*gateway.State, error) {
	var tx gateway.TxData
	if err := json.Unmarshal(sess.TxData, &tx); err != nil {
		return nil, fmt.Errorf("flow: unmarshal tx data: %w", err)
	}

	st := &gateway.State{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		FlowType:  sess.FlowType,
		TxData:    &tx,
		Mandate:   sess.Mandate,
	}
	if sess.CorrelationID != nil {
		st.CorrelationID = *sess.CorrelationID
	}
	return st, nil
}
