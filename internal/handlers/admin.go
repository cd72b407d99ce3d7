package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"walletledger/internal/auth"
	"walletledger/internal/middleware"
	"walletledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

func (h *Handler) AdminListWallets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	wallets, err := h.wallets.ListAll(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load wallets")
		return
	}
	normalized := make([]map[string]any, 0, len(wallets))
	for _, wallet := range wallets {
		normalized = append(normalized, walletPayload(wallet))
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.transactions.ListAll(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, txn := range rows {
		normalized = append(normalized, transactionPayload(txn))
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) AdminListFlagged(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.transactions.ListFlagged(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load flagged transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, txn := range rows {
		normalized = append(normalized, transactionPayload(txn))
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// DeactivateWallet freezes a wallet. Settled history stays readable; any
// in-flight transaction re-checks is_active under the row lock and fails.
func (h *Handler) DeactivateWallet(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	walletID := chi.URLParam(r, "id")
	if _, err := h.wallets.GetByID(r.Context(), walletID); err != nil {
		respondError(w, http.StatusNotFound, "wallet_not_found")
		return
	}
	var moved int64
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		var err error
		moved, err = h.wallets.Deactivate(r.Context(), tx, walletID)
		if err != nil {
			return err
		}
		if moved == 0 {
			return nil
		}
		data, _ := json.Marshal(map[string]string{"wallet_id": walletID})
		return h.audit.Log(r.Context(), tx, userID, "deactivate_wallet", "wallet", walletID, string(data))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to deactivate wallet")
		return
	}
	if moved == 0 {
		respondError(w, http.StatusConflict, "wallet_already_inactive")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	swept, err := h.sweeper.SweepStale(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sweep_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"swept": swept})
}

func (h *Handler) TriggerRescan(w http.ResponseWriter, r *http.Request) {
	flagged, err := h.sweeper.Rescan(r.Context(), 24*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rescan_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flagged": flagged})
}

// Reconcile compares every wallet's stored balance against its entry sum.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	type reconRow struct {
		WalletID      string `db:"wallet_id"`
		EntrySum      int64  `db:"entry_sum"`
		WalletBalance int64  `db:"wallet_balance"`
		Difference    int64  `db:"difference"`
	}
	var rows []reconRow
	query := `
		SELECT w.id AS wallet_id,
		       COALESCE(SUM(e.amount), 0) AS entry_sum,
		       w.balance AS wallet_balance,
		       (w.balance - COALESCE(SUM(e.amount), 0)) AS difference
		FROM wallets w
		LEFT JOIN entries e ON e.wallet_id = w.id
		GROUP BY w.id, w.balance
		ORDER BY w.id
	`
	if err := h.reconcileDB.SelectContext(r.Context(), &rows, query); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to reconcile balances")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"wallet_id":      row.WalletID,
			"entry_sum":      valueToMoney(row.EntrySum),
			"wallet_balance": valueToMoney(row.WalletBalance),
			"difference":     valueToMoney(row.Difference),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}
