package handlers

import (
	"errors"
	"net/http"

	"koi-auction/internal/domain"
	"koi-auction/internal/saga"
)

// statusFor maps a service error onto the HTTP status the dashboard expects.
func statusFor(err error) int {
	var apiErr *domain.APIError
	var stepErr *saga.StepError
	var compErr *saga.CompensationFailedError

	switch {
	case errors.Is(err, domain.ErrLocked), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr), errors.As(err, &compErr), errors.As(err, &stepErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
