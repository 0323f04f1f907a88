package app

import (
	"errors"
	"fmt"
	"net/http"

	"ideaboard/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// translateStoreError maps storage sentinels onto client-facing errors.
// Unknown errors pass through and surface as 500s.
func translateStoreError(err error) error {
	var storageErr *store.StorageError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, store.ErrArchivedCard):
		return validationError("Archived cards cannot be moved", nil)
	case errors.Is(err, store.ErrCrossBoardMove):
		return validationError("Cards can only move between columns of the same board", nil)
	case errors.Is(err, store.ErrColumnFull):
		return domainError(http.StatusConflict, "COLUMN_FULL", "Target column has reached its card limit", nil)
	case errors.Is(err, store.ErrStaleColumn):
		return domainError(http.StatusConflict, "STALE_COLUMN", "Column changed since it was loaded, refresh and retry", nil)
	case errors.As(err, &storageErr):
		return domainError(http.StatusInternalServerError, "STORAGE_ERROR", "Storage failure, the operation can be retried", nil)
	default:
		return err
	}
}
