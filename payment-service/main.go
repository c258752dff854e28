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

	"bookstore-payments/pkg/accesskey"
	"bookstore-payments/pkg/api"
	"bookstore-payments/pkg/config"
	"bookstore-payments/pkg/database"
	"bookstore-payments/pkg/mailer"
	"bookstore-payments/pkg/nats"
	"bookstore-payments/pkg/provider"
	"bookstore-payments/pkg/settlement"
	"bookstore-payments/pkg/store"
	"bookstore-payments/pkg/sweeper"
	"bookstore-payments/pkg/webhook"

	"github.com/shopspring/decimal"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

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

	passwords, err := accesskey.New(cfg.AccessPasswordKey)
	if err != nil {
		slog.Error("Invalid access password key", "error", err)
		os.Exit(1)
	}

	db := store.FromDefault()
	aggregator := provider.NewFromConfig(cfg)
	ledger := settlement.NewLedger(db, settlement.Options{
		Publisher:      nats.Bus{},
		Mailer:         mailer.New(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom),
		Passwords:      passwords,
		VATRate:        decimal.NewFromFloat(cfg.VATRate),
		MembershipDays: cfg.MembershipDurationDays,
	})

	if !aggregator.Configured() {
		if cfg.IsProduction() {
			slog.Error("Aggregator credentials missing in production, payments will be refused", "missing", cfg.MissingCredentials())
		} else {
			slog.Warn("Aggregator credentials missing, running in demo mode", "missing", cfg.MissingCredentials())
		}
	}
	if cfg.AllowUnsignedWebhooks() {
		slog.Warn("WEBHOOK_SECRET not set, unsigned webhooks are accepted", "env", cfg.Env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if aggregator.Configured() {
		sw := sweeper.New(db, aggregator, ledger, sweeper.Options{
			Interval:   cfg.SweepInterval,
			StaleAfter: cfg.SweepStaleAfter,
		})
		go sw.Start(ctx)
	}

	handler := api.NewPaymentRouter(&api.PaymentHandler{
		Provider:        aggregator,
		Ledger:          ledger,
		Store:           db,
		Verifier:        webhook.Verifier{Secret: cfg.WebhookSecret, AllowUnsigned: cfg.AllowUnsignedWebhooks()},
		SignatureHeader: cfg.WebhookSignatureHeader,
		CallbackURL:     cfg.WebhookCallbackURL(),
		Production:      cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:              cfg.PaymentServiceAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("Payment Service starting", "addr", cfg.PaymentServiceAddr, "env", cfg.Env, "aggregator", cfg.AggregatorBaseURL(), "callback_url", cfg.WebhookCallbackURL())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", "error", err)
	}
}
