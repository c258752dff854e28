package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"bookstore-payments/pkg/config"
	"bookstore-payments/pkg/database"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "tooling",
		Short:         "Operator tools for the bookstore payment services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(resetDBCmd())
	rootCmd.AddCommand(simulatorCmd(cfg))
	rootCmd.AddCommand(transactionsCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(replayWebhookCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withDB opens the shared connection around run.
func withDB(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := database.Init(); err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer database.Close()
		return run(cmd, args)
	}
}

func resetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resetdb",
		Short: "Drop and recreate all tables",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, args []string) error {
			if err := database.ResetTables(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database reset completed")
			return nil
		}),
	}
}

func simulatorCmd(cfg *config.Config) *cobra.Command {
	var workers int
	var checkoutURL string

	cmd := &cobra.Command{
		Use:   "simulator <count>",
		Short: "Run <count> checkouts end to end and report their outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count <= 0 {
				return fmt.Errorf("invalid count: %s", args[0])
			}
			sim := &Simulator{CheckoutURL: checkoutURL, Workers: workers, Out: cmd.OutOrStdout()}
			sim.Run(cmd.Context(), count)
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Concurrent shoppers")
	cmd.Flags().StringVar(&checkoutURL, "checkout-url", envOr("CHECKOUT_SERVICE_URL", "http://localhost"+cfg.CheckoutServiceAddr), "Checkout service base URL")
	return cmd
}

func transactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "Print today's accepted provider confirmations",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, args []string) error {
			return printTransactions(cmd.Context(), cmd.OutOrStdout())
		}),
	}
}

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Print today's platform commission entries",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, args []string) error {
			return printLedger(cmd.Context(), cmd.OutOrStdout())
		}),
	}
}

func ordersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Audit today's orders: status and confirmations per order",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, args []string) error {
			return printOrders(cmd.Context(), cmd.OutOrStdout())
		}),
	}
}

func replayWebhookCmd(cfg *config.Config) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay-webhook <file>",
		Short: "POST a saved webhook body to the payment service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return replayWebhook(cmd.Context(), cmd.OutOrStdout(), body, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", cfg.PaymentServiceURL+"/payments/webhook", "Webhook endpoint")
	cmd.Flags().StringVar(&opts.OrderID, "order-id", "", "Reference passed as the orderId query parameter")
	cmd.Flags().StringVar(&opts.Secret, "secret", cfg.WebhookSecret, "Signing secret; empty sends the body unsigned")
	cmd.Flags().StringVar(&opts.Header, "header", cfg.WebhookSignatureHeader, "Signature header")
	cmd.Flags().IntVarP(&opts.Times, "times", "n", 1, "Deliveries to send")
	return cmd
}

// reportLocation is the shop's local time zone for daily reports.
func reportLocation() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		loc = time.FixedZone("Africa/Nairobi", 3*60*60)
	}
	return loc
}

func todayRange() (string, time.Time, time.Time) {
	loc := reportLocation()
	now := time.Now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return now.Format("2006-01-02"), start, start.Add(24 * time.Hour)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Debug("Using default", "key", key, "value", fallback)
	return fallback
}
