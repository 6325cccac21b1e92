// internal/api/errors.go

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/search"
	"github.com/petervdpas/tuneroom/internal/store"
)

// Error codes let API clients map failures back to sentinel errors.
const (
	codeDenied       = "denied"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeInvalid      = "invalid"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: msg, Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, permission.ErrDenied):
		return http.StatusForbidden, codeDenied
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict, codeConflict
	case errors.Is(err, coordinator.ErrInvalid),
		errors.Is(err, room.ErrInvalidTrack),
		errors.Is(err, room.ErrFallbackCandidate),
		errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest, codeInvalid
	}
	return http.StatusInternalServerError, codeInternal
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("unhandled error")
		msg = "internal error"
	}
	abortWithError(c, status, code, msg)
}
