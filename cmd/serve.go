package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aifriendshub/agenthub/internal/config"
	"github.com/aifriendshub/agenthub/internal/exchange"
	"github.com/aifriendshub/agenthub/internal/httpapi"
	"github.com/aifriendshub/agenthub/internal/identity"
	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/linebridge"
	"github.com/aifriendshub/agenthub/internal/payments"
	"github.com/aifriendshub/agenthub/internal/providers"
	"github.com/aifriendshub/agenthub/internal/server"
	"github.com/aifriendshub/agenthub/internal/store/pg"
	"github.com/aifriendshub/agenthub/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("AGENTHUB_POSTGRES_DSN is required")
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	stores := pg.NewPGStores(db)

	idp := identity.NewAdminClient(cfg.Identity.BaseURL, cfg.Identity.ServiceKey)
	lg := ledger.New(stores.Accounts, idp, cfg.Points.StartingBalance)

	provider, err := providers.Resolve(providers.Config{
		Name:        cfg.Provider.Name,
		APIKey:      cfg.Provider.APIKey,
		APIBase:     cfg.Provider.APIBase,
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return err
	}
	slog.Info("provider ready", "name", provider.Name(), "model", provider.DefaultModel())

	orch := exchange.New(lg, provider, stores.Agents, stores.Conversations,
		exchange.Pricing{
			MessageCost: cfg.Points.MessageCost,
			OwnerCredit: cfg.Points.OwnerCredit,
		}, cfg.Provider.HistoryLimit)

	bridge := linebridge.NewHandler(orch, lg, stores.Agents, stores.ChannelConfigs,
		stores.Conversations, linebridge.NewReplyClient(cfg.Channels.Line.APIBase),
		linebridge.Options{
			ChannelFee:     cfg.Points.ChannelFee,
			FeeAfterVerify: cfg.Channels.Line.FeeAfterVerifyEnabled(),
			RateLimitRPM:   cfg.Channels.Line.RateLimitRPM,
		})

	stripe := payments.NewStripeClient(cfg.Payments.APIBase, cfg.Payments.SecretKey)
	pay := payments.NewService(stripe, lg, stores.Payments,
		cfg.Payments.Currency, cfg.Payments.WebhookSecret)

	api := httpapi.New(lg, orch, stores.Agents, stores.ChannelConfigs, pay,
		httpapi.Options{
			ServiceToken:   cfg.Server.ServiceToken,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			PublicBaseURL:  cfg.Server.PublicBaseURL,
			RateLimitRPM:   cfg.Server.RateLimitRPM,
		})

	srv := server.New(cfg.Server.Host, cfg.Server.Port, api, bridge)
	return srv.Run(ctx)
}
