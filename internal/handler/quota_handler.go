package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/service"
)

type QuotaHandler struct {
	ledger *service.LedgerService
}

func NewQuotaHandler(ledger *service.LedgerService) *QuotaHandler {
	return &QuotaHandler{
		ledger: ledger,
	}
}

func (h *QuotaHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	usage, err := h.ledger.GetUsage(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

// Эндпоинт для админа для изменения квоты пользователя
func (h *QuotaHandler) UpdateQuotaLimit(w http.ResponseWriter, r *http.Request) {
	// В реальном приложении здесь должна быть проверка прав администратора
	var req struct {
		UserID   string `json:"user_id"`
		NewLimit int64  `json:"new_limit"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ledger.UpdateQuotaLimit(r.Context(), req.UserID, req.NewLimit); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// CreateAccount заводит аккаунт квоты для нового пользователя.
// Вызывается сервисом аккаунтов при регистрации.
func (h *QuotaHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		Tier       string `json:"tier"`
		QuotaBytes int64  `json:"quota_bytes,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	acc, err := h.ledger.CreateAccount(r.Context(), req.UserID, req.Tier, req.QuotaBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, acc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		http.Error(w, "quota account not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrHardCapExceeded):
		http.Error(w, "storage quota exceeded", http.StatusRequestEntityTooLarge)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
