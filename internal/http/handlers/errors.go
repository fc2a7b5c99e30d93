// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes the symbolic error codes returned in the error
// envelope and the mapping from service errors onto them. Clients branch on
// the code; the message is for humans.
//
// Mapping:
//
//	services.ErrRateLimited                    429 too_many_requests (+ Retry-After)
//	services.ErrInvalidCode                    401 invalid_code
//	validation errors                          400 bad_request
//	services.ErrRecordNotFound                 404 not_found
//	services.ErrRecordsDisabled                404 records_disabled
//	services.ErrUnavailable                    503 unavailable
//	anything else                              500 internal_error
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "too_many_requests",
//	  "message": "rate limit exceeded"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-edge-state/internal/http/middleware"
	"github.com/tbourn/go-edge-state/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidCode     = "invalid_code"
	ErrCodeRecordsDisabled = "records_disabled"
)

var badRequestErrors = []error{
	services.ErrInvalidEmail,
	services.ErrMissingInstallID,
	services.ErrInvalidInteraction,
	services.ErrEmptyBatch,
	services.ErrBatchTooLarge,
}

// serviceError translates a service error into the error envelope.
func serviceError(c *gin.Context, err error) {
	if d, limited := services.IsRateLimited(err); limited {
		middleware.LoggerFrom(c).Warn().
			Str("dimension", string(d.Dimension)).
			Str("reason", string(d.Reason)).
			Msg("request rate limited")
		c.Header("Retry-After", middleware.RetryAfterSeconds(d.RetryAfter))
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
		return
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, target.Error())
			return
		}
	}
	switch {
	case errors.Is(err, services.ErrInvalidCode):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCode, "invalid or expired code")
	case errors.Is(err, services.ErrRecordNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "record not found")
	case errors.Is(err, services.ErrRecordsDisabled):
		fail(c, http.StatusNotFound, ErrCodeRecordsDisabled, "record storage is not configured")
	case errors.Is(err, services.ErrUnavailable):
		middleware.LoggerFrom(c).Error().Err(err).Msg("dependency unavailable")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "service temporarily unavailable")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
