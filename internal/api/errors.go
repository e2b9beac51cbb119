package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/propagation"
	"github.com/rawblock/bridgetrace/internal/risk"
	"github.com/rawblock/bridgetrace/internal/trace"
	"github.com/rawblock/bridgetrace/pkg/models"
)

const (
	codeValidation   = "validation_error"
	codeNotFound     = "not_found"
	codeTraversal    = "traversal_error"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal_error"
	codeUnauthorized = "unauthorized"
	codeRateLimited  = "rate_limited"
	codeQuota        = "quota_exceeded"
)

// statusFor maps domain errors to an HTTP status and error code. Traversal
// failures are checked first since they may wrap a lookup error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, trace.ErrTraversal),
		errors.Is(err, propagation.ErrExpansionBudget),
		errors.Is(err, propagation.ErrGraphContract):
		return http.StatusUnprocessableEntity, codeTraversal
	case errors.Is(err, graph.ErrNodeNotFound), errors.Is(err, risk.ErrEntityNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, trace.ErrInvalidRequest),
		errors.Is(err, risk.ErrInvalidRange),
		errors.Is(err, risk.ErrInvalidSimulation),
		errors.Is(err, propagation.ErrInvalidSeed),
		errors.Is(err, propagation.ErrInvalidHops),
		errors.Is(err, graph.ErrInvalidEdge),
		errors.Is(err, graph.ErrInvalidNode):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, risk.ErrSeedSource):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// abortWithError writes the error body and stops the handler chain.
// Internal errors are logged and replaced with a generic message.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestID(c)),
			zap.Error(err))
		msg = "internal error"
	}
	abortJSON(c, status, code, msg)
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: requestID(c),
	})
}
