package controllers

import (
	"encoding/json"
	"fmt"
	"github.com/gorilla/mux"
	"loanservicing/middleware"
	"loanservicing/models"
	"loanservicing/services"
	"net/http"
	"strconv"
)

// PaymentEventController обрабатывает события по платежам и прощение долга
type PaymentEventController struct {
	events *services.PaymentEventService
}

// NewPaymentEventController создает новый экземпляр PaymentEventController
func NewPaymentEventController(events *services.PaymentEventService) *PaymentEventController {
	return &PaymentEventController{events: events}
}

// waiverRequestBody тело запроса на прощение долга
type waiverRequestBody struct {
	Component        models.WaiverComponent `json:"component"`
	Variant          models.WaiverVariant   `json:"variant"`
	Amount           int64                  `json:"amount"`
	Note             string                 `json:"note"`
	ValidityDate     string                 `json:"validity_date"`
	MaxPaymentNumber *int                   `json:"max_payment_number"`
}

// AddEvent обрабатывает запрос на проведение события по платежу
func (c *PaymentEventController) AddEvent(w http.ResponseWriter, r *http.Request) {
	userID, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	paymentID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	var req services.PaymentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.PaymentID = paymentID

	// Штраф вручную начисляет только сотрудник
	if req.EventType == services.RequestEventLateFee && !role.IsStaff() {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}
	if !c.canAccess(w, r, paymentID, userID, role) {
		return
	}

	result, err := c.events.AddEvent(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListEvents обрабатывает запрос на получение событий платежа
func (c *PaymentEventController) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	paymentID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	if !c.canAccess(w, r, paymentID, userID, role) {
		return
	}

	events, err := c.events.ListEvents(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// ReverseEvent обрабатывает запрос на сторнирование события
func (c *PaymentEventController) ReverseEvent(w http.ResponseWriter, r *http.Request) {
	_, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !role.IsStaff() {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	eventID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid event ID", http.StatusBadRequest)
		return
	}

	void, err := c.events.ReverseEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, void)
}

// ApplyWaiver обрабатывает запрос на прощение долга
func (c *PaymentEventController) ApplyWaiver(w http.ResponseWriter, r *http.Request) {
	userID, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !role.IsStaff() {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	paymentID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	var body waiverRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req := services.WaiverRequest{
		PaymentID:        paymentID,
		Component:        body.Component,
		Variant:          body.Variant,
		Amount:           body.Amount,
		Note:             body.Note,
		MaxPaymentNumber: body.MaxPaymentNumber,
		ApproverRole:     role,
		ApprovedBy:       userID,
	}
	if body.ValidityDate != "" {
		validity, err := c.events.ParseDate(body.ValidityDate)
		if err != nil {
			writeError(w, err)
			return
		}
		req.ValidityDate = &validity
	}

	result, err := c.events.ApplyWaiver(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// RemainingWaivable обрабатывает запрос на получение остатка для прощения
func (c *PaymentEventController) RemainingWaivable(w http.ResponseWriter, r *http.Request) {
	_, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !role.IsStaff() {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	paymentID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	component := models.WaiverComponent(query.Get("component"))
	switch component {
	case models.ComponentLateFee, models.ComponentInterest, models.ComponentPrincipal:
	default:
		http.Error(w, "Invalid component", http.StatusBadRequest)
		return
	}

	isUnpaid := query.Get("variant") != string(models.VariantPaid)

	var maxPaymentNumber *int
	if value := query.Get("max_payment_number"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			http.Error(w, "Invalid max_payment_number", http.StatusBadRequest)
			return
		}
		maxPaymentNumber = &n
	}

	remaining, err := c.events.RemainingWaivable(r.Context(), paymentID, component, isUnpaid, maxPaymentNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id": paymentID,
		"component":  component,
		"remaining":  remaining,
	})
}

// canAccess проверяет, что клиент обращается к своему платежу
func (c *PaymentEventController) canAccess(w http.ResponseWriter, r *http.Request, paymentID, userID uint, role models.Role) bool {
	if role.IsStaff() {
		return true
	}
	owner, err := c.events.PaymentOwner(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if owner != userID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return false
	}
	return true
}

// pathID разбирает идентификатор из URL
func pathID(r *http.Request, name string) (uint, error) {
	value, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return uint(value), nil
}
