package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tempandmajor/commonly-payments/internal/httpapi"
	"github.com/tempandmajor/commonly-payments/internal/outbox"
	"github.com/tempandmajor/commonly-payments/internal/provider"
	"github.com/tempandmajor/commonly-payments/internal/store/gormstore"
	"github.com/tempandmajor/commonly-payments/internal/ticket"
	"github.com/tempandmajor/commonly-payments/internal/wallet"
	"github.com/tempandmajor/commonly-payments/internal/webhook"
	"github.com/tempandmajor/commonly-payments/pkg/ledger"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	configKeyDatabaseURL   = "database_url"
	configKeyListenAddr    = "listen_addr"
	configKeyOrigins       = "allowed_origins"
	configKeyWebhookSecret = "webhook_secret"
	configKeyAPIKey        = "provider_api_key"
	configKeyFulfillment   = "fulfillment_url"
	configKeyScheduler     = "scheduler_secret"
	configKeySessionKey    = "session_signing_key"
	configKeySessionIssuer = "session_issuer"
	configKeySessionCookie = "session_cookie_name"
	configKeyTicketSecret  = "ticket_signing_secret"
	defaultDatabaseURL     = "sqlite:///tmp/payments.db"
	defaultListenAddr      = ":8090"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	WebhookSecret     string
	ProviderAPIKey    string
	FulfillmentURL    string
	SchedulerSecret   string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	TicketSecret      string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "paymentsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "paymentsd",
		Short:         "Payment event pipeline and ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:   "DATABASE_URL",
		configKeyListenAddr:    "LISTEN_ADDR",
		configKeyOrigins:       "ALLOWED_ORIGINS",
		configKeyWebhookSecret: "WEBHOOK_SECRET",
		configKeyAPIKey:        "PROVIDER_API_KEY",
		configKeyFulfillment:   "FULFILLMENT_URL",
		configKeyScheduler:     "SCHEDULER_SECRET",
		configKeySessionKey:    "SESSION_SIGNING_KEY",
		configKeySessionIssuer: "SESSION_ISSUER",
		configKeySessionCookie: "SESSION_COOKIE_NAME",
		configKeyTicketSecret:  "TICKET_SIGNING_SECRET",
	}
	for configKey, envName := range envBindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}
	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	cfg.WebhookSecret = viper.GetString(configKeyWebhookSecret)
	cfg.ProviderAPIKey = viper.GetString(configKeyAPIKey)
	cfg.FulfillmentURL = viper.GetString(configKeyFulfillment)
	cfg.SchedulerSecret = viper.GetString(configKeyScheduler)
	cfg.SessionSigningKey = viper.GetString(configKeySessionKey)
	cfg.SessionIssuer = viper.GetString(configKeySessionIssuer)
	cfg.SessionCookieName = viper.GetString(configKeySessionCookie)
	cfg.TicketSecret = viper.GetString(configKeyTicketSecret)

	if cfg.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if cfg.SchedulerSecret == "" {
		return fmt.Errorf("scheduler secret is required")
	}
	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	if cfg.TicketSecret == "" {
		return fmt.Errorf("ticket signing secret is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	providerClient, err := provider.NewClient(provider.Config{
		APIKey:         cfg.ProviderAPIKey,
		WebhookSecret:  cfg.WebhookSecret,
		FulfillmentURL: cfg.FulfillmentURL,
	}, nil, logger)
	if err != nil {
		return fmt.Errorf("provider client init: %w", err)
	}

	ledgerService, err := ledger.NewService(store, clock, ledger.WithOperationLogger(&operationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	walletService, err := wallet.NewService(store, ledgerService)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}
	webhookService, err := webhook.NewService(store, providerClient, clock, logger)
	if err != nil {
		return fmt.Errorf("webhook service init: %w", err)
	}
	ticketService, err := ticket.NewService(store, cfg.TicketSecret, clock, logger)
	if err != nil {
		return fmt.Errorf("ticket service init: %w", err)
	}
	effects, err := outbox.NewEffects(store, ledgerService, walletService, nil, providerClient, clock, logger)
	if err != nil {
		return fmt.Errorf("outbox effects init: %w", err)
	}
	worker, err := outbox.NewWorker(store, effects.Handlers(), clock, logger)
	if err != nil {
		return fmt.Errorf("outbox worker init: %w", err)
	}

	apiConfig := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
		SchedulerSecret:   cfg.SchedulerSecret,
	}
	return httpapi.Run(ctx, apiConfig, httpapi.Dependencies{
		Webhook:     webhookService,
		Worker:      worker,
		Ledger:      ledgerService,
		Wallet:      walletService,
		Tickets:     ticketService,
		Idempotency: store,
		Outbox:      store,
		Now:         clock,
		Logger:      logger,
	})
}

// operationLogger bridges ledger operation callbacks onto zap.
type operationLogger struct {
	logger *zap.Logger
}

func (bridge *operationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("reference", entry.Reference.String()),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("transaction_id", entry.TransactionID),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	bridge.logger.Info("ledger operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == "sqlite" {
		// sqlite allows one writer at a time; a single connection avoids
		// busy errors under the concurrent scan and drain paths.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "payments.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
