package handlers

import (
	"encoding/json"
	"net/http"

	"walletledger/internal/money"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func valueToMoney(value any) string {
	return money.FormatMinor(money.ValueToInt64(value))
}
