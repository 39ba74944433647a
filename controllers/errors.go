package controllers

import (
	"encoding/json"
	"errors"
	"loanservicing/services"
	"loanservicing/utils"
	"net/http"
)

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error string `json:"error"`
	Step  int    `json:"step,omitempty"`
}

// statusForError сопоставляет ошибку сервиса с HTTP кодом
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrInvalidDateFormat),
		errors.Is(err, services.ErrMissingPaymentMethod),
		errors.Is(err, services.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrLoanNotFound),
		errors.Is(err, services.ErrApplicationNotFound),
		errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrUnknownWorkflow):
		return http.StatusNotFound
	case errors.Is(err, services.ErrIllegalTransition),
		errors.Is(err, services.ErrNonReversibleEvent),
		errors.Is(err, services.ErrLoanAlreadyExists),
		errors.Is(err, services.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrMaxLateFeeExceeded),
		errors.Is(err, services.ErrOrderingPrecondition),
		errors.Is(err, services.ErrAmountExceedsDue),
		errors.Is(err, services.ErrInsufficientCredits),
		errors.Is(err, services.ErrUnknownStatus):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError отправляет ошибку в JSON
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	response := errorResponse{Error: err.Error()}

	var orderErr *services.OrderingPreconditionError
	if errors.As(err, &orderErr) {
		response.Step = orderErr.Step
	}

	if status == http.StatusInternalServerError {
		utils.LogError("Внутренняя ошибка: %v", err)
		response.Error = "Internal server error"
	}

	writeJSON(w, status, response)
}

// writeJSON отправляет ответ в JSON
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
