package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/remote"
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

// mapError folds internal errors into the HTTP error surface.
func mapError(err error) (int, string, string, any) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Status, de.Code, de.Message, de.Details
	}
	var ve *annot.ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", ve.Error(), nil
	}
	if errors.Is(err, remote.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, remote.ErrForbidden) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	if remote.IsTransient(err) {
		return http.StatusBadGateway, "REMOTE_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "INTERNAL", err.Error(), nil
}
