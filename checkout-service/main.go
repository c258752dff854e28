package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookstore-payments/pkg/api"
	"bookstore-payments/pkg/checkout"
	"bookstore-payments/pkg/config"
	"bookstore-payments/pkg/database"
	"bookstore-payments/pkg/nats"
	"bookstore-payments/pkg/store"
)

func main() {
	cfg := config.Load()

	if err := database.Init(); err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := nats.Init(); err != nil {
		slog.Error("Failed to initialize NATS", "error", err)
		os.Exit(1)
	}
	defer nats.Close()

	if err := database.CreateTables(); err != nil {
		slog.Error("Failed to create tables", "error", err)
		os.Exit(1)
	}

	db := store.FromDefault()
	reconciler := checkout.NewReconciler(nats.Bus{}, db, checkout.ReconcilerOptions{})

	handler := api.NewCheckoutRouter(&api.CheckoutHandler{
		Orchestrator: checkout.NewOrchestrator(db, db, checkout.NewPaymentServiceClient(cfg.PaymentServiceURL)),
		Reconciler:   reconciler,
	})

	// The outcome endpoint holds the request for the whole poll budget.
	server := &http.Server{
		Addr:              cfg.CheckoutServiceAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      reconciler.Budget() + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("Checkout Service starting", "addr", cfg.CheckoutServiceAddr, "payment_service", cfg.PaymentServiceURL, "reconcile_budget", reconciler.Budget())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", "error", err)
	}
}
