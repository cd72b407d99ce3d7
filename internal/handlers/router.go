package handlers

import (
	"net/http"

	"walletledger/internal/config"
	"walletledger/internal/db"
	"walletledger/internal/middleware"
	"walletledger/internal/store"
	"walletledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	reconcileDB  store.Selecter
	txRunner     db.TxRunner
	cfg          config.Config
	wallets      WalletStore
	transactions TransactionStore
	audit        AuditStore
	processor    Processor
	sweeper      Sweeper
	hub          *websocket.Hub
}

func New(reconcileDB store.Selecter, txRunner db.TxRunner, cfg config.Config, wallets WalletStore, transactions TransactionStore, audit AuditStore, processor Processor, sweeper Sweeper, hub *websocket.Hub) *Handler {
	return &Handler{
		reconcileDB:  reconcileDB,
		txRunner:     txRunner,
		cfg:          cfg,
		wallets:      wallets,
		transactions: transactions,
		audit:        audit,
		processor:    processor,
		sweeper:      sweeper,
		hub:          hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(middleware.RequestID)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/wallet", h.GetWallet)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/wallet", h.CreateWallet)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/wallet/self-check", h.SelfCheck)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/transactions", h.SubmitTransaction)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions", h.ListTransactions)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions/history", h.ListTransactions)
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireAdmin)
		r.Get("/wallets", h.AdminListWallets)
		r.Get("/transactions", h.AdminListTransactions)
		r.Get("/transactions/flagged", h.AdminListFlagged)
		r.Get("/audit", h.ListAuditLogs)
		r.Get("/reconcile", h.Reconcile)
		r.Post("/wallets/{id}/deactivate", h.DeactivateWallet)
		r.Post("/sweep", h.TriggerSweep)
		r.Post("/rescan", h.TriggerRescan)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
