package server

import (
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var errUnauthorized = errors.New("unauthorized")

func (s *Server) authenticate(c *gin.Context) error {
	auth := c.GetHeader("Authorization")

	expectedToken := s.cfg.Token
	if expectedToken == "" {
		return nil
	}
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(expectedToken)) != 1 {
		return errUnauthorized
	}

	return nil
}

func (s *Server) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authenticate(c); err != nil {
			c.AbortWithStatusJSON(401, gin.H{"detail": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequestID tags every request with an id for log correlation, honoring a
// caller-provided X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}
