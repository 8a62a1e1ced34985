// Package web exposes the payment session orchestrator over HTTP: the payment
// page context, the proceed and gateway-callback endpoints, and the operator
// console for retrying errored sessions.
package web

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"paymentflow/flow"
	"paymentflow/ops"
)

// Server wires the flow orchestrator and the operator console into a gin
// router.
type Server struct {
	flows  *flow.Service
	ops    *ops.Service
	router *gin.Engine
	log    *slog.Logger
}

func NewServer(flows *flow.Service, opsService *ops.Service) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		flows:  flows,
		ops:    opsService,
		router: router,
		log:    slog.Default(),
	}

	router.GET("/pay", s.handlePayPage)

	api := router.Group("/api")
	{
		api.POST("/sessions", s.handleInitiate)
		api.POST("/sessions/:id/button", s.handleSelectButton)
		api.POST("/sessions/:id/data-capture", s.handlePreDataCapture)
		api.POST("/sessions/:id/proceed", s.handleProceed)
		api.POST("/sessions/:id/response", s.handleResponse)
		api.GET("/gateways/:type/frontend-defaults", s.handleFrontendDefaults)

		opsGroup := api.Group("/ops")
		{
			opsGroup.POST("/login", s.handleOpsLogin)

			authed := opsGroup.Group("")
			authed.Use(s.RequireOperator())
			authed.POST("/sessions/:id/retry", s.handleRetry)
			authed.POST("/retry", s.handleRetryMany)
		}
	}

	return s
}

func (s *Server) SetLogger(log *slog.Logger) { s.log = log }

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the underlying engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
