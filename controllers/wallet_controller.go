package controllers

import (
	"encoding/json"
	"loanservicing/middleware"
	"loanservicing/services"
	"net/http"
)

// WalletController обрабатывает запросы к кэшбэк-кошельку
type WalletController struct {
	wallet *services.WalletService
}

// NewWalletController создает новый экземпляр WalletController
func NewWalletController(wallet *services.WalletService) *WalletController {
	return &WalletController{wallet: wallet}
}

// cashbackRequestBody тело запроса на начисление кэшбэка
type cashbackRequestBody struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// GetWallet обрабатывает запрос на получение своего кошелька
func (c *WalletController) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, _, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	wallet, err := c.wallet.GetWallet(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

// EarnCashback обрабатывает начисление кэшбэка клиенту сотрудником
func (c *WalletController) EarnCashback(w http.ResponseWriter, r *http.Request) {
	_, role, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !role.IsStaff() {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	customerID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid customer ID", http.StatusBadRequest)
		return
	}

	var body cashbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := c.wallet.EarnCashback(r.Context(), customerID, body.Amount, body.Description); err != nil {
		writeError(w, err)
		return
	}

	wallet, err := c.wallet.GetWallet(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}
