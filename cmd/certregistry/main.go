package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamscao/certregistry/internal/api"
	"github.com/adamscao/certregistry/internal/config"
	"github.com/adamscao/certregistry/internal/db"
	"github.com/adamscao/certregistry/internal/db/repository"
	"github.com/adamscao/certregistry/internal/logging"
	"github.com/adamscao/certregistry/internal/metrics"
	"github.com/adamscao/certregistry/internal/policy"
	"github.com/adamscao/certregistry/internal/registry"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/certregistry/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Certificate Registry\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "certregistry: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	slog.SetDefault(log)

	log.Info("starting certificate registry", "version", Version, "commit", Commit, "config", configPath)

	// Initialize database
	log.Info("connecting to database", "path", cfg.Database.Path)
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Replay the journal
	params, err := cfg.RegistryParams()
	if err != nil {
		return err
	}
	reg, err := registry.Open(context.Background(), params, repository.NewCertRepository(database.DB))
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	log.Info("registry loaded",
		"name", reg.Name(),
		"symbol", reg.Symbol(),
		"issuer", reg.Issuer().Hex(),
		"total_supply", reg.TotalSupply(),
	)

	// Create HTTP server
	server := api.NewServer(
		cfg,
		reg,
		repository.NewCallerRepository(database.DB),
		repository.NewAuditRepository(database.DB),
		policy.NewValidator(cfg),
		metrics.New(reg.TotalSupply),
		log,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", cfg.Server.ListenAddr)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	log.Info("server stopped")
	return nil
}
