// Package hosted implements the adapter for a hosted-checkout style gateway:
// initiation posts a checksum-signed order and receives a redirect URL, the
// gateway reports the outcome on an HMAC-signed callback (webhook or browser
// redirect).
package hosted

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paymentflow/gateway"
)

// Config is one configured merchant account.
type Config struct {
	BaseURL             string
	MerchantID          string
	SecretKey           string
	SupportedCurrencies []string
}

type Adapter struct {
	gateway.Base
	cfg    Config
	client *gateway.Client
}

func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: gateway.NewClient("hosted:"+cfg.MerchantID, 20*time.Second),
	}
}

// flowStates is the gateway's remote status vocabulary.
var flowStates = gateway.FlowStates{
	Success:       []string{"COMPLETED", "CAPTURED"},
	PreAuthorized: []string{"AUTHORIZED"},
	Processing:    []string{"PENDING", "BANK_PROCESSING"},
	Declined:      []string{"DECLINED", "EXPIRED", "CANCELLED"},
}

func (a *Adapter) FlowStates() gateway.FlowStates { return flowStates }

func (a *Adapter) FrontendDefaults() gateway.FrontendDefaults {
	return gateway.FrontendDefaults{
		GatewayCSS:     `.hosted-checkout-frame { width: 100%; min-height: 480px; border: 0; }`,
		GatewayJS:      `window.location.href = payload.redirect_url;`,
		GatewayWrapper: `<div class="hosted-checkout-frame" data-session="{{ session_id }}"></div>`,
	}
}

func (a *Adapter) ValidateTxData(_ context.Context, tx *gateway.TxData) error {
	if err := gateway.CheckTxData(tx); err != nil {
		return err
	}
	for _, c := range a.cfg.SupportedCurrencies {
		if c == tx.Currency {
			return nil
		}
	}
	return &gateway.ValidationError{
		Reason: fmt.Sprintf("currency %q is not enabled for this merchant account", tx.Currency),
	}
}

// PatchTxData converts the amount to the gateway's minor units.
func (a *Adapter) PatchTxData(_ context.Context, st *gateway.State) (*gateway.TxData, error) {
	patched := *st.TxData
	patched.Extra = make(map[string]any, len(st.TxData.Extra)+1)
	for k, v := range st.TxData.Extra {
		patched.Extra[k] = v
	}
	patched.Extra["amount_minor"] = st.TxData.Amount.Shift(2).Truncate(0).IntPart()
	return &patched, nil
}

func (a *Adapter) InitiateCharge(ctx context.Context, st *gateway.State) (*gateway.Initiated, error) {
	order := map[string]any{
		"merchant_id":  a.cfg.MerchantID,
		"order_id":     st.SessionID,
		"amount_minor": st.TxData.Extra["amount_minor"],
		"currency":     st.TxData.Currency,
	}

	reply, err := a.client.PostJSON(ctx, a.cfg.BaseURL+"/v1/checkout/orders", map[string]string{
		"X-Merchant-Id": a.cfg.MerchantID,
		"X-Signature":   a.sign(canonical(order)),
	}, order)
	if err != nil {
		return nil, err
	}

	if reply.StatusCode != http.StatusOK && reply.StatusCode != http.StatusCreated {
		return nil, &gateway.FailedToInitiateFlowError{
			Message: fmt.Sprintf("checkout order rejected with status %d", reply.StatusCode),
			Data:    reply.Body,
		}
	}

	txnID, _ := reply.Body["transaction_id"].(string)
	if txnID == "" {
		return nil, &gateway.FailedToInitiateFlowError{
			Message: "checkout order reply is missing transaction_id",
			Data:    reply.Body,
		}
	}

	return &gateway.Initiated{CorrelationID: txnID, Payload: reply.Body}, nil
}

// ValidateResponse checks the callback's HMAC-SHA256 signature over the raw
// signed message.
func (a *Adapter) ValidateResponse(_ context.Context, st *gateway.State) error {
	resp := st.Response
	if resp == nil || len(resp.Signature) == 0 || len(resp.Message) == 0 {
		return gateway.ErrPayloadIntegrity
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write(resp.Message)
	expected := []byte(hex.EncodeToString(mac.Sum(nil)))
	if !hmac.Equal(expected, resp.Signature) {
		return gateway.ErrPayloadIntegrity
	}
	return nil
}

// ProcessChargeResponse classifies the callback. It only reads the payload,
// so a second pass over the same persisted response yields the same result.
func (a *Adapter) ProcessChargeResponse(_ context.Context, st *gateway.State) (*gateway.Result, error) {
	status, ok := st.Response.Payload["status"].(string)
	if !ok || status == "" {
		return nil, fmt.Errorf("hosted: callback payload carries no status")
	}
	if txn, ok := st.Response.Payload["transaction_id"].(string); ok && st.CorrelationID != "" && txn != st.CorrelationID {
		return nil, fmt.Errorf("hosted: callback transaction %q does not match session correlation %q", txn, st.CorrelationID)
	}
	return &gateway.Result{RemoteStatus: status}, nil
}

func (a *Adapter) ProcessMandateAcquisitionResponse(context.Context, *gateway.State) (*gateway.Result, error) {
	return nil, gateway.ErrNotImplemented
}

func (a *Adapter) ProcessMandatedChargeResponse(context.Context, *gateway.State) (*gateway.Result, error) {
	return nil, gateway.ErrNotImplemented
}

func (a *Adapter) RenderFailureMessage(st *gateway.State) string {
	if st.Response != nil {
		if reason, ok := st.Response.Payload["failure_reason"].(string); ok && reason != "" {
			return reason
		}
	}
	return "The payment was declined by the gateway."
}

// IsServerToServer: webhook deliveries mark themselves; browser redirects
// carry no source marker.
func (a *Adapter) IsServerToServer(st *gateway.State) bool {
	if st.Response == nil {
		return false
	}
	source, _ := st.Response.Payload["source"].(string)
	return source == "webhook"
}

func (a *Adapter) sign(message []byte) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonical renders a payload deterministically for signing; Go's JSON
// encoder emits map keys in sorted order.
func canonical(payload map[string]any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}
