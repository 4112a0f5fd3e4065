package domain

import (
	"errors"
	"fmt"
)

var (
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")
	ErrResourceNotFound      = errors.New("resource not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrOrchestrationFailure  = errors.New("orchestration failure")
)

// InsufficientStockError names the product that could not be covered.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NotFound wraps ErrResourceNotFound with what was missing.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceNotFound, fmt.Sprintf(format, args...))
}

// Orchestration wraps an unexpected downstream error.
func Orchestration(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrOrchestrationFailure, op, err)
}

// IsBusiness reports whether err is part of the taxonomy and should pass
// through without being wrapped as an orchestration failure.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrLockAcquisitionFailed) ||
		errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrOrchestrationFailure)
}
