package provider

import (
	"net/http"
	"strings"
)

// ErrorCategory classifies upstream errors for retry/fallback decisions
type ErrorCategory int

const (
	// CategoryUnknown is the default category for unclassified errors
	CategoryUnknown ErrorCategory = iota

	// CategoryUserError indicates client-side errors (bad request, invalid params).
	// Not retryable; surface to the caller immediately.
	CategoryUserError

	// CategoryAuthError indicates authentication failures (bad or expired key)
	CategoryAuthError

	// CategoryQuotaError indicates rate limiting or quota exhaustion
	CategoryQuotaError

	// CategoryTransient indicates temporary server-side errors
	CategoryTransient

	// CategoryNotFound indicates resource not found
	CategoryNotFound
)

// String returns human-readable category name
func (c ErrorCategory) String() string {
	switch c {
	case CategoryUserError:
		return "user_error"
	case CategoryAuthError:
		return "auth_error"
	case CategoryQuotaError:
		return "quota_error"
	case CategoryTransient:
		return "transient"
	case CategoryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ShouldRetry returns true if the category allows a caller-level retry
func (c ErrorCategory) ShouldRetry() bool {
	return c == CategoryTransient
}

// ShouldFallback returns true if another credential/provider may succeed
func (c ErrorCategory) ShouldFallback() bool {
	return c == CategoryQuotaError || c == CategoryTransient || c == CategoryAuthError
}

// IsUserFault returns true if the error is caused by the request itself
func (c ErrorCategory) IsUserFault() bool {
	return c == CategoryUserError || c == CategoryNotFound
}

// CategorizeHTTPStatus determines category from HTTP status code
func CategorizeHTTPStatus(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest: // 400
		return CategoryUserError
	case http.StatusUnauthorized: // 401
		return CategoryAuthError
	case http.StatusPaymentRequired, http.StatusForbidden: // 402, 403
		return CategoryQuotaError
	case http.StatusNotFound: // 404
		return CategoryNotFound
	case http.StatusTooManyRequests: // 429
		return CategoryQuotaError
	case http.StatusInternalServerError, // 500
		http.StatusBadGateway,         // 502
		http.StatusServiceUnavailable, // 503
		http.StatusGatewayTimeout:     // 504
		return CategoryTransient
	default:
		if statusCode >= 400 && statusCode < 500 {
			return CategoryUserError
		}
		if statusCode >= 500 {
			return CategoryTransient
		}
		return CategoryUnknown
	}
}

// CategorizeError determines category from error message and status code.
// Message patterns win over the bare status code: several providers return
// quota errors as 403 and validation errors as 500.
func CategorizeError(statusCode int, message string) ErrorCategory {
	if isUserError(message) {
		return CategoryUserError
	}
	if isQuotaError(message) {
		return CategoryQuotaError
	}
	return CategorizeHTTPStatus(statusCode)
}

// isUserError checks if message indicates user/request error
func isUserError(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid_argument") ||
		strings.Contains(lower, "invalid request") ||
		strings.Contains(lower, "invalid_request_error") ||
		strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "missing required") ||
		strings.Contains(lower, "invalid json") ||
		strings.Contains(lower, "not supported") ||
		strings.Contains(lower, "must be non-empty") ||
		strings.Contains(lower, "cannot be empty")
}

// isQuotaError checks if message indicates quota/rate limit error
func isQuotaError(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "too many requests")
}
