// Package health categorizes errors, guards external calls with circuit
// breakers and derives the service health status from periodic probes.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker/v2"
)

// Category groups errors by where they originate.
type Category string

const (
	CategoryNetwork           Category = "network"
	CategoryExternalFeed      Category = "external_feed"
	CategoryExternalExecution Category = "external_execution"
	CategoryConfiguration     Category = "configuration"
	CategoryValidation        Category = "validation"
	CategorySystem            Category = "system"
)

// Retryable reports whether errors of this category are retried by default.
func (c Category) Retryable() bool {
	return c == CategoryNetwork || c == CategoryExternalExecution || c == CategoryExternalFeed
}

// Severity orders errors for health derivation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// ErrBreakerOpen is returned when a breaker rejects a call without running it.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Error is a categorized error.
type Error struct {
	Category  Category
	Severity  Severity
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a category using the category's default
// severity and retry behaviour.
func NewError(category Category, op string, err error) *Error {
	return &Error{
		Category:  category,
		Severity:  defaultSeverity(category),
		Op:        op,
		Err:       err,
		Retryable: category.Retryable(),
	}
}

// Validation returns a non-retryable validation error.
func Validation(op string, err error) *Error {
	return NewError(CategoryValidation, op, err)
}

func defaultSeverity(c Category) Severity {
	switch c {
	case CategoryConfiguration:
		return SeverityCritical
	case CategorySystem, CategoryExternalFeed:
		return SeverityHigh
	case CategoryNetwork, CategoryExternalExecution:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Classify returns err as a categorized *Error. Errors that already carry
// a category keep it.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var he *Error
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, ErrBreakerOpen),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return NewError(CategoryExternalExecution, "", err)
	case errors.Is(err, context.Canceled):
		e := NewError(CategorySystem, "", err)
		e.Severity = SeverityLow
		e.Retryable = false
		return e
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, os.ErrDeadlineExceeded):
		return NewError(CategoryNetwork, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(CategoryNetwork, "", err)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return NewError(CategoryNetwork, "", err)
	}

	// Remote API errors report whether the request may succeed later.
	var remote temporary
	if errors.As(err, &remote) {
		if remote.Temporary() {
			return NewError(CategoryExternalExecution, "", err)
		}
		return Validation("", err)
	}

	return NewError(CategorySystem, "", err)
}

type temporary interface {
	Temporary() bool
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}
