package controllers

import (
	"encoding/json"
	"loanservicing/middleware"
	"loanservicing/models"
	"loanservicing/services"
	"net/http"
)

// ApplicationController обрабатывает запросы, связанные с заявками и кредитами
type ApplicationController struct {
	applications *services.ApplicationService
	refinancing  *services.RefinancingService
}

// NewApplicationController создает новый экземпляр ApplicationController
func NewApplicationController(applications *services.ApplicationService, refinancing *services.RefinancingService) *ApplicationController {
	return &ApplicationController{
		applications: applications,
		refinancing:  refinancing,
	}
}

// refinancingRequestBody тело запроса на одобрение реструктуризации
type refinancingRequestBody struct {
	PrerequisiteAmount int64  `json:"prerequisite_amount"`
	ExpiresAt          string `json:"expires_at"`
}

// CreateApplication обрабатывает запрос на создание заявки
func (c *ApplicationController) CreateApplication(w http.ResponseWriter, r *http.Request) {
	// Получаем ID пользователя из контекста
	userID, _, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var dto services.CreateApplicationDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	dto.CustomerID = userID

	app, err := c.applications.Create(r.Context(), dto)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, app)
}

// ChangeStatus обрабатывает запрос на смену статуса заявки
func (c *ApplicationController) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	userID, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	appID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid application ID", http.StatusBadRequest)
		return
	}

	var req services.StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	app, err := c.applications.ChangeStatus(r.Context(), appID, req.Status, role.Actor(), userID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// NextSteps обрабатывает запрос на получение доступных переходов заявки
func (c *ApplicationController) NextSteps(w http.ResponseWriter, r *http.Request) {
	_, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	appID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid application ID", http.StatusBadRequest)
		return
	}

	rules, err := c.applications.NextSteps(r.Context(), appID, role.Actor())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rules)
}

// GetLoan обрабатывает запрос на получение кредита по заявке
func (c *ApplicationController) GetLoan(w http.ResponseWriter, r *http.Request) {
	userID, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	appID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid application ID", http.StatusBadRequest)
		return
	}

	loan, err := c.applications.GetLoanByApplication(r.Context(), appID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Проверяем, что кредит принадлежит пользователю
	if !role.IsStaff() && loan.CustomerID != userID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, loan)
}

// ApproveRefinancing обрабатывает запрос на одобрение реструктуризации
func (c *ApplicationController) ApproveRefinancing(w http.ResponseWriter, r *http.Request) {
	_, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if role != models.RoleCollectionsHead && role != models.RoleAdmin {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	loanID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var body refinancingRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	expiresAt, err := c.refinancing.ParseDate(body.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}

	request, err := c.refinancing.Approve(r.Context(), loanID, body.PrerequisiteAmount, expiresAt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, request)
}
