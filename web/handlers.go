package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"paymentflow/flow"
	"paymentflow/gateway"
	"paymentflow/ops"
	"paymentflow/session"
)

// signatureHeader carries the gateway's callback signature. The raw request
// body is the signed message.
const signatureHeader = "X-Gateway-Signature"

type initiateRequest struct {
	TxData   gateway.TxData `json:"tx_data"`
	Settings string         `json:"gateway_settings"`
	Instance string         `json:"gateway_instance"`
}

type buttonRequest struct {
	Button   string `json:"button"`
	Settings string `json:"gateway_settings"`
	Instance string `json:"gateway_instance"`
}

type proceedRequest struct {
	TxUpdate map[string]any `json:"tx_update"`
}

type retryManyRequest struct {
	SessionIDs []string `json:"session_ids"`
}

func (s *Server) handlePayPage(c *gin.Context) {
	id := c.Query(flow.PaymentSessionRefKey)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session reference"})
		return
	}

	pc, err := s.flows.PageContext(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pc)
}

func (s *Server) handleInitiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.flows.Initiate(c.Request.Context(), &req.TxData, gateway.Ref{
		SettingsType: req.Settings,
		Instance:     req.Instance,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id":  id,
		"payment_url": s.flows.PaymentURL(id),
	})
}

func (s *Server) handleSelectButton(c *gin.Context) {
	var req buttonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.flows.SelectButton(c.Request.Context(), c.Param("id"), req.Button, gateway.Ref{
		SettingsType: req.Settings,
		Instance:     req.Instance,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePreDataCapture(c *gin.Context) {
	data, err := s.flows.PreDataCapture(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateway_state": data})
}

func (s *Server) handleProceed(c *gin.Context) {
	var req proceedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	proceeded, err := s.flows.Proceed(c.Request.Context(), c.Param("id"), req.TxUpdate)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proceeded)
}

// handleResponse receives a gateway callback, webhook or browser redirect. The
// raw body is kept as the signed message so adapters can verify it untouched.
func (s *Server) handleResponse(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid JSON"})
			return
		}
	}

	resp := &gateway.ProcessingResponse{
		Signature: []byte(c.GetHeader(signatureHeader)),
		Message:   body,
		Payload:   payload,
	}

	processed, err := s.flows.ProcessResponse(c.Request.Context(), c.Param("id"), resp)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if processed == nil {
		// Server-to-server failure, already logged. The gateway gets its 200
		// so it stops redelivering.
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}
	c.JSON(http.StatusOK, processed)
}

func (s *Server) handleFrontendDefaults(c *gin.Context) {
	defaults, err := s.flows.FrontendDefaults(c.Param("type"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, defaults)
}

func (s *Server) handleOpsLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.ops.Login(c.Request.Context(), ops.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"operator": gin.H{
			"id":        result.Operator.ID,
			"email":     result.Operator.Email,
			"full_name": result.Operator.FullName,
			"role":      result.Operator.Role,
		},
	})
}

func (s *Server) handleRetry(c *gin.Context) {
	role := operatorRole(c)
	if err := s.ops.Retry(c.Request.Context(), role, c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleRetryMany(c *gin.Context) {
	var req retryManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcomes, err := s.ops.RetryMany(c.Request.Context(), operatorRole(c), req.SessionIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// writeError maps domain errors onto HTTP responses. Flow redirects carry
// their own status code and user-facing content.
func (s *Server) writeError(c *gin.Context, err error) {
	var redirect *flow.Redirect
	if errors.As(err, &redirect) {
		c.JSON(redirect.StatusCode, gin.H{
			"title":           redirect.Title,
			"message":         redirect.Message,
			"indicator_color": redirect.Indicator,
			"log_ref":         redirect.LogRef,
		})
		return
	}

	var validation *gateway.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.Is(err, gateway.ErrUnknownGateway):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": "session is not in an errored state"})
	case errors.Is(err, ops.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, ops.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
