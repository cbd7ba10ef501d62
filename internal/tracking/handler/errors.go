package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/logger"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(kind failure.Kind) int {
	switch kind {
	case failure.KindInvalidInput:
		return http.StatusBadRequest
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindRateLimited:
		return http.StatusTooManyRequests
	case failure.KindTransient:
		return http.StatusBadGateway
	case failure.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// AbortWithError writes err as a JSON error body with the status of its kind.
// Unclassified errors are logged and reported without their message.
func AbortWithError(c *gin.Context, err error) {
	kind := failure.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if kind == failure.KindUnknown {
		logger.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	var fe *failure.Error
	if kind == failure.KindRateLimited && errors.As(err, &fe) && fe.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(fe.RetryAfter.Seconds()))))
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Kind: string(kind)})
}
