package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletledger/internal/config"
	"walletledger/internal/db"
	"walletledger/internal/fraud"
	"walletledger/internal/guard"
	"walletledger/internal/handlers"
	"walletledger/internal/models"
	"walletledger/internal/services"
	"walletledger/internal/store"
	"walletledger/internal/sweeper"
	"walletledger/internal/websocket"
	"walletledger/internal/worker"
)

func main() {
	cfg := config.Load()
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	wallets := store.NewWalletStore(database)
	transactions := store.NewTransactionStore(database)
	entries := store.NewEntryStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	policy := fraud.ThresholdPolicy{
		Limits: map[string]int64{
			models.TypeDeposit:    cfg.DepositLimitMinor,
			models.TypeWithdrawal: cfg.WithdrawalLimitMinor,
			models.TypeTransfer:   cfg.TransferLimitMinor,
		},
		VelocityMax:   cfg.VelocityMax,
		DailyCapMinor: cfg.DailyLimitMinor,
	}
	screen := fraud.NewScreen(policy, cfg.ScreenBudget)
	balanceGuard := guard.New(cfg.GuardTimeout)

	review := worker.NewPool(cfg.ReviewQueueSize, database, audit)
	review.Start(cfg.ReviewWorkers)
	defer review.Shutdown()

	processor := services.NewProcessor(txRunner, wallets, transactions, entries, audit, balanceGuard, screen, hub, review, cfg.ProcessingDeadline, cfg.VelocityWindow)

	sweep := sweeper.New(txRunner, transactions, audit, policy, review, cfg.ProcessingDeadline, cfg.VelocityWindow)
	if err := sweep.Start(); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}
	defer sweep.Stop()

	handler := handlers.New(database, txRunner, cfg, wallets, transactions, audit, processor, sweep, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("wallet ledger API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
