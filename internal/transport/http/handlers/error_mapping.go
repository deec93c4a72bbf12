package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/core/domain"
)

// ErrorCase maps a sentinel error to an HTTP status code. An empty Message echoes the error text.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// domainErrorCases maps every client-facing domain error kind.
var domainErrorCases = []ErrorCase{
	{Err: domain.ErrValidation, Status: http.StatusBadRequest},
	{Err: domain.ErrNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrForbidden, Status: http.StatusForbidden},
	{Err: domain.ErrProtectedResource, Status: http.StatusConflict},
	{Err: domain.ErrInUse, Status: http.StatusConflict},
	{Err: domain.ErrConflict, Status: http.StatusConflict},
	{Err: domain.ErrRateLimited, Status: http.StatusTooManyRequests},
	{Err: domain.ErrDegradedService, Status: http.StatusServiceUnavailable},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil || !errors.Is(err, cs.Err) {
			continue
		}
		msg := cs.Message
		if msg == "" {
			msg = err.Error()
		}
		c.JSON(cs.Status, NewErrorResponse(c, msg))
		return
	}

	if fallbackStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// RespondWithDomainError maps domain error kinds onto HTTP statuses. Client-facing kinds
// echo the error message; anything else is logged by the access logger and hidden.
func RespondWithDomainError(c *gin.Context, err error, fallbackMessage string) {
	var limited *domain.RateLimitExceededError
	if errors.As(err, &limited) {
		seconds := max(int(math.Ceil(limited.RetryAfter.Seconds())), 1)
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	RespondWithMappedError(c, err, domainErrorCases, http.StatusInternalServerError, fallbackMessage)
}
