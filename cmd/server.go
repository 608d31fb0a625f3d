package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	app "family-safety-control/internal"
	"family-safety-control/internal/access"
	"family-safety-control/internal/config"
	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/email"
	"family-safety-control/internal/events"
	"family-safety-control/internal/jwt"
	"family-safety-control/internal/routes"
	"family-safety-control/internal/storage"
	"family-safety-control/internal/tokens"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the control plane server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Println("Starting family safety control plane...")
		if err := ServerMain(ctx, cfg); err != nil {
			slog.Error("Server stopped", "error", err)
			os.Exit(1)
		}
	},
}

// Initialize logger
func initLogger(cfg *config.Config) *slog.Logger {
	// Determine level from config and set it on the handler options.
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		println("Invalid log level in config, defaulting to INFO")
	}
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	slog.SetDefault(logger)

	slog.Debug("Logger initialized", "level", level.String())
	return logger
}

// newPublisher connects to NATS when configured.
func newPublisher(cfg *config.Config) events.Publisher {
	if cfg.Events.NATSURL == "" {
		return &events.NoopPublisher{}
	}
	pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
	if err != nil {
		// Events are best effort, the service runs without them.
		slog.Warn("Event publishing disabled", "error", err)
		return &events.NoopPublisher{}
	}
	slog.Info("Publishing events", "url", cfg.Events.NATSURL, "subject", cfg.Events.Subject)
	return pub
}

func newNotifier(cfg *config.Config) *email.Notifier {
	recipients := cfg.NotifyRecipients()
	if cfg.Email.Host == "" || len(recipients) == 0 {
		slog.Debug("Email notifications disabled")
		return nil
	}
	client := email.NewClient(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From)
	return email.NewNotifier(client, recipients, cfg.BaseURL)
}

// LoadAccessRBAC loads the role policy and assigns the configured users.
func LoadAccessRBAC(cfg *config.Config) (*access.RBAC, error) {
	rbac := access.NewRBAC()
	if err := rbac.LoadPolicy(cfg.RBAC.PolicyFile); err != nil {
		return nil, fmt.Errorf("loading RBAC policy %q: %w", cfg.RBAC.PolicyFile, err)
	}
	for _, admin := range cfg.RBAC.Admins {
		if admin = strings.TrimSpace(admin); admin != "" {
			rbac.AssignRole(admin, access.AdminRole)
		}
	}
	for user, roles := range cfg.RBAC.Users {
		rbac.AssignRole(user, roles...)
	}
	return rbac, nil
}

func ServerMain(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		panic("Config not initialized.")
	}
	initLogger(cfg)
	if cfg.Secret == "" {
		slog.Warn("No secret configured, tokens will not survive a restart")
	}

	rbac, err := LoadAccessRBAC(cfg)
	if err != nil {
		return err
	}

	adapter, err := storage.NewAdapter(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	publisher := newPublisher(cfg)
	defer publisher.Close()

	opts := controlplane.OptionsFromConfig(cfg, adapter)
	opts.Publisher = publisher
	opts.Notifier = newNotifier(cfg)

	store, err := controlplane.Open(ctx, opts)
	if err != nil {
		adapter.Close()
		return err
	}
	defer store.Close()
	slog.Info("State loaded", "adapter", store.AdapterName())

	attempts := tokens.NewAttemptTracker(cfg.PairingMaxAttempts, cfg.PairingTTL)
	go attempts.Janitor()
	defer attempts.Close()

	svc := &routes.Services{
		Store:    store,
		RBAC:     rbac,
		Signer:   jwt.NewSigner(cfg.Secret),
		Attempts: attempts,
		Config:   cfg,
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.HTTPServer(cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	if err := store.Flush(shutdownCtx); err != nil {
		slog.Error("Final snapshot write failed", "error", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
