package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/example/checkout-saga/internal/domain"
)

// statusFor maps the saga error taxonomy to an HTTP status and a message
// safe to show to callers. Unexpected errors never leak their details.
func statusFor(err error) (int, string) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.Is(err, domain.ErrLockAcquisitionFailed):
		return http.StatusConflict, "A checkout for this user is already in progress"
	case errors.Is(err, domain.ErrResourceNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.As(err, &stockErr):
		return http.StatusBadRequest, "Insufficient stock for product " + stockErr.ProductID
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, "Insufficient stock"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondDomainError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] Internal error: %v", err)
	}
	respondError(w, status, message)
}
