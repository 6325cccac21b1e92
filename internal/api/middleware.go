// internal/api/middleware.go

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/auth"
	"github.com/petervdpas/tuneroom/internal/room"
)

const (
	actorKey     = "actor"
	requestIDKey = "request_id"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"request_id": c.GetString(requestIDKey),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}

// authenticate accepts "Authorization: Bearer" or, for EventSource and
// WebSocket clients that cannot set headers, a token query parameter.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := auth.BearerToken(c.GetHeader("Authorization"))
		if errors.Is(err, auth.ErrMissingToken) {
			if q := c.Query("token"); q != "" {
				tok, err = q, nil
			}
		}
		if err != nil {
			s.log.WithError(err).Debug("unauthenticated request")
			abortWithError(c, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		actor, err := s.verifier.Verify(tok)
		if err != nil {
			s.log.WithError(err).Debug("token rejected")
			abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) room.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(room.Actor); ok {
			return a
		}
	}
	return room.Actor{}
}
