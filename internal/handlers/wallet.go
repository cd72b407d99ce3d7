package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"walletledger/internal/middleware"
	"walletledger/internal/models"
	"walletledger/internal/money"
	"walletledger/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

func walletPayload(wallet models.Wallet) map[string]any {
	return map[string]any{
		"id":         wallet.ID,
		"user_id":    wallet.UserID,
		"currency":   wallet.Currency,
		"balance":    money.FormatMinor(wallet.Balance),
		"is_active":  wallet.IsActive,
		"created_at": wallet.CreatedAt,
		"updated_at": wallet.UpdatedAt,
	}
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.wallets.GetByUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "wallet_not_found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, walletPayload(wallet))
}

type createWalletRequest struct {
	Currency string `json:"currency"`
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createWalletRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := validator.ValidateCurrency(req.Currency); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_currency")
		return
	}
	walletID := uuid.NewString()
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.wallets.Create(r.Context(), tx, walletID, userID, req.Currency); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"currency": req.Currency})
		return h.audit.Log(r.Context(), tx, userID, "create_wallet", "wallet", walletID, string(data))
	})
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			respondError(w, http.StatusConflict, "wallet_exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to create wallet")
		return
	}
	wallet, err := h.wallets.GetByID(r.Context(), walletID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusCreated, walletPayload(wallet))
}

// SelfCheck compares the stored balance against the sum of committed entries
// for the caller's wallet.
func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	summary, err := h.wallets.Summary(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "wallet_not_found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to self_check")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"wallet_id":          summary.ID,
		"currency":           summary.Currency,
		"stored_balance":     valueToMoney(summary.StoredBalance),
		"calculated_balance": valueToMoney(summary.CalculatedBalance),
		"difference":         valueToMoney(summary.Difference),
	})
}
