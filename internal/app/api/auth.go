package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const brokerIDKey = "broker_id"

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// brokerAuth authenticates the broker via the in-memory credential-hash
// index and stores its id on the request context.
func (s *Server) brokerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Missing API key"})
			return
		}

		brokerID, ok := s.engine.AuthenticateKey(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid API key"})
			return
		}

		c.Set(brokerIDKey, brokerID)
		c.Next()
	}
}

// adminAuth gates admin endpoints with a constant-time key comparison.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminAPIKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Admin API key not configured"})
			return
		}

		token, ok := bearerToken(c)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminAPIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid admin API key"})
			return
		}

		c.Next()
	}
}

// currentBroker returns the authenticated broker id set by brokerAuth.
func currentBroker(c *gin.Context) uuid.UUID {
	id, _ := c.Get(brokerIDKey)
	brokerID, _ := id.(uuid.UUID)
	return brokerID
}
