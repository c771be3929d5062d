package llmwire

import "fmt"

// ProviderError is the base type for all backend errors.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	RetryAfter *float64 // seconds, from a Retry-After header when present
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status=%d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Concrete error variants. Authentication, ContextTooLarge, and
// MalformedResponse are fatal for the turn; RateLimit, Network, and Server
// are retryable within the bounded policy.

type AuthenticationError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type NetworkError struct{ ProviderError }
type ContextTooLargeError struct{ ProviderError }
type MalformedResponseError struct{ ProviderError }
type ServerError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }

// ConfigurationError reports a client misconfiguration, such as an
// unregistered provider. Never retryable.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// ErrorFromStatusCode maps an HTTP status code to the matching error variant.
func ErrorFromStatusCode(provider string, statusCode int, message string, retryAfter *float64, cause error) error {
	pe := ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		RetryAfter: retryAfter,
		Cause:      cause,
	}

	switch statusCode {
	case 401, 403:
		return &AuthenticationError{pe}
	case 400, 404, 422:
		return &InvalidRequestError{pe}
	case 413:
		return &ContextTooLargeError{pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthenticationError, *ContextTooLargeError, *MalformedResponseError, *InvalidRequestError:
		return false
	case *RateLimitError, *NetworkError, *ServerError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		return false
	}
}
