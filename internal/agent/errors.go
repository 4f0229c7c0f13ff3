package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind categorizes provider failures for the retry policy. The
// classification happens once, here at the provider boundary; callers
// switch on kind instead of matching error text.
type ErrorKind string

const (
	KindRateLimit  ErrorKind = "rate_limit"
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindGeneric    ErrorKind = "generic"
)

// Retryable reports whether an error of this kind is worth retrying.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from the model runtime.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapProvider classifies err and wraps it as a ProviderError. Returns
// nil for nil errors.
func WrapProvider(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Kind: classify(err), Op: op, Err: err}
}

// KindOf extracts the error kind from an error chain. Unclassified
// errors are generic.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindGeneric
}

// IsRetryable reports whether the pipeline should retry after err.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// classify maps SDK and transport errors onto the closed ErrorKind set.
// This is the only place where error shape probing is allowed.
func classify(err error) ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return KindRateLimit
		case apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode == 504:
			return KindTimeout
		case apiErr.HTTPStatusCode >= 500:
			return KindConnection
		default:
			return KindGeneric
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") || strings.Contains(msg, "too many requests"):
		return KindRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") || strings.Contains(msg, "unreachable") || strings.Contains(msg, "broken pipe"):
		return KindConnection
	default:
		return KindGeneric
	}
}
