package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"walletledger/internal/middleware"
	"walletledger/internal/models"
	"walletledger/internal/money"
	"walletledger/internal/services"
	"walletledger/internal/validator"
)

type createTransactionRequest struct {
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	TransactionType string  `json:"transaction_type"`
	RecipientID     *string `json:"recipient_id"`
	Description     *string `json:"description"`
}

func transactionPayload(txn models.Transaction) map[string]any {
	payload := map[string]any{
		"id":         txn.ID,
		"wallet_id":  txn.WalletID,
		"type":       txn.Type,
		"status":     txn.Status,
		"amount":     money.FormatMinor(txn.Amount),
		"currency":   txn.Currency,
		"flagged":    txn.Flagged,
		"created_at": txn.CreatedAt,
	}
	if txn.Description != nil {
		payload["description"] = *txn.Description
	}
	if txn.RecipientWalletID != nil {
		payload["recipient_wallet_id"] = *txn.RecipientWalletID
	}
	if txn.FailureReason != nil {
		payload["failure_reason"] = *txn.FailureReason
	}
	if txn.FlagReason != nil {
		payload["flag_reason"] = *txn.FlagReason
	}
	return payload
}

func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createTransactionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := validator.ValidateTransactionType(req.TransactionType); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := validator.ValidateCurrency(req.Currency); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_currency")
		return
	}
	amountMinor, err := money.ParseMinor(req.Amount)
	if err != nil || amountMinor <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}

	final, err := h.processor.Submit(r.Context(), services.Intent{
		UserID:          userID,
		Type:            req.TransactionType,
		AmountMinor:     amountMinor,
		Currency:        req.Currency,
		Description:     req.Description,
		RecipientUserID: req.RecipientID,
	})
	if err != nil {
		h.respondSubmitError(w, err, final)
		return
	}
	respondJSON(w, http.StatusCreated, transactionPayload(final))
}

// respondSubmitError maps processor errors to the API taxonomy. When the
// failure produced a FAILED record, its id rides along so the client can see
// the terminal transaction.
func (h *Handler) respondSubmitError(w http.ResponseWriter, err error, final models.Transaction) {
	status := http.StatusInternalServerError
	code := "transaction_failed"
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, services.ErrCurrencyMismatch):
		status, code = http.StatusBadRequest, "currency_mismatch"
	case errors.Is(err, services.ErrInvalidIntent):
		status, code = http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, services.ErrInsufficientFunds):
		status, code = http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, services.ErrWalletInactive):
		status, code = http.StatusForbidden, "wallet_inactive"
	case errors.Is(err, services.ErrWalletNotFound):
		status, code = http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, services.ErrRecipientNotFound):
		status, code = http.StatusNotFound, "recipient_not_found"
	case errors.Is(err, services.ErrInvalidRecipient):
		status, code = http.StatusUnprocessableEntity, "invalid_recipient"
	case errors.Is(err, services.ErrBusy):
		status, code = http.StatusConflict, "busy"
	}
	payload := map[string]any{"error": code}
	if final.ID != "" {
		payload["transaction_id"] = final.ID
		payload["status"] = final.Status
	}
	respondJSON(w, status, payload)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
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
	query := r.URL.Query()
	txType := query.Get("type")
	if txType != "" {
		if err := validator.ValidateTransactionType(txType); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
	}
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	transactions, err := h.transactions.ListByWallet(r.Context(), wallet.ID, txType, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(transactions))
	for _, txn := range transactions {
		payload := transactionPayload(txn)
		// Transfers land in the recipient's history too; direction tells the
		// caller which side of the record they are on.
		if txn.Type == models.TypeTransfer {
			if txn.WalletID == wallet.ID {
				payload["direction"] = "outgoing"
			} else {
				payload["direction"] = "incoming"
			}
		}
		normalized = append(normalized, payload)
	}
	respondJSON(w, http.StatusOK, normalized)
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
