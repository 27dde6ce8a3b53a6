// File: internal/cloud/errors.go
// Brief: Provider error classification.

package cloud

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// Error classes reported on failed provider calls.
const (
	ClassRateLimit  = "RATE_LIMIT"
	ClassTimeout    = "TIMEOUT"
	ClassAccess     = "ACCESS"
	ClassValidation = "VALIDATION"
	ClassNotFound   = "NOT_FOUND"
	ClassOther      = "OTHER"
)

// Classify maps an error returned by the provider to a coarse class.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "Throttling" || code == "ThrottlingException" || code == "TooManyRequestsException" || code == "RequestLimitExceeded":
			return ClassRateLimit
		case code == "AccessDenied" || code == "AccessDeniedException" || code == "UnauthorizedOperation" || code == "ExpiredToken":
			return ClassAccess
		case code == "ValidationError":
			if isMissingStackMessage(apiErr.ErrorMessage()) {
				return ClassNotFound
			}
			return ClassValidation
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "exceeded max wait time"):
		return ClassTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate exceeded"):
		return ClassRateLimit
	default:
		return ClassOther
	}
}

// IsStackMissing reports whether err means the stack does not exist.
func IsStackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && isMissingStackMessage(apiErr.ErrorMessage())
	}
	return false
}

// IsNoUpdates reports whether an UpdateStack error only says nothing changed.
func IsNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
	}
	return false
}

func isMissingStackMessage(msg string) bool {
	return strings.Contains(msg, "does not exist")
}
