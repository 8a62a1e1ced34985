package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"paymentflow/ops"
)

const (
	ctxOperatorID   = "operator_id"
	ctxOperatorRole = "operator_role"
)

// RequireOperator authenticates the request with a bearer token issued by the
// ops service and stores the operator's identity on the request context.
func (s *Server) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		operatorID, role, err := s.ops.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxOperatorID, operatorID)
		c.Set(ctxOperatorRole, role)
		c.Next()
	}
}

func operatorRole(c *gin.Context) ops.Role {
	if v, ok := c.Get(ctxOperatorRole); ok {
		if role, ok := v.(ops.Role); ok {
			return role
		}
	}
	return ""
}
