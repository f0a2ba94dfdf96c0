package domain

import (
	"errors"
	"fmt"
	"time"
)

// Market data errors
var (
	ErrTransient         = errors.New("transient network error")
	ErrRateLimited       = errors.New("rate limited")
	ErrRateLimitRejected = errors.New("rate limit wait exceeds maximum")
	ErrNotFound          = errors.New("not found")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRejected          = errors.New("request rejected by provider")
	ErrNoData            = errors.New("no data available")
)

// Ledger errors
var (
	ErrInvalidLedgerData   = errors.New("invalid ledger data")
	ErrPositionNotFound    = errors.New("position not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ErrorKind classifies a provider failure
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindNotFound
	KindUnavailable
	KindMalformed
	KindRejected
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindNotFound:
		return ErrNotFound
	case KindUnavailable:
		return ErrUnavailable
	case KindMalformed:
		return ErrMalformedResponse
	case KindRejected:
		return ErrRejected
	default:
		return ErrTransient
	}
}

func (k ErrorKind) String() string {
	return k.sentinel().Error()
}

// ProviderError is returned by market data adapters
type ProviderError struct {
	Provider   string
	Op         string
	Status     int // HTTP status, 0 for transport failures
	Kind       ErrorKind
	RetryAfter time.Duration // set for rate limited responses when the provider sent one
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind
func (e *ProviderError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewProviderError builds a ProviderError
func NewProviderError(provider, op string, kind ErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: kind, Status: status, Err: err}
}

// KindForStatus maps an HTTP status code to an error kind
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 404:
		return KindNotFound
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindRejected
	default:
		return KindTransient
	}
}

// ValidationError describes why ledger data was rejected. It matches ErrInvalidLedgerData.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidLedgerData, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidLedgerData, e.Path, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidLedgerData
}

// Invalid returns a ValidationError for the given path
func Invalid(path, format string, args ...interface{}) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
