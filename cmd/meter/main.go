// Command meter runs the Meter usage metering and billing service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/pricing"
)

var rootCmd = &cobra.Command{
	Use:           "meter",
	Short:         "Multi-tenant LLM usage metering and billing",
	Long:          "Meter records priced LLM usage events per customer and serves cost, revenue and usage analytics.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedPricingCmd, issueTokenCmd)
}

// loadConfig reads and validates the environment. Commands that never sign
// or verify tokens skip the JWT secret check.
func loadConfig(needSecret bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !needSecret && cfg.JWTSecret == "" {
		cfg.JWTSecret = "unused"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore connects to the configured ledger store.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (database.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cfg.Store {
	case config.StoreSQLite:
		log.Info("opening SQLite store", "path", cfg.SQLitePath)
		return database.NewSQLite(ctx, cfg.SQLitePath, log)
	default:
		log.Info("connecting to PostgreSQL", "dsn", cfg.RedactedDSN())
		return database.NewPostgres(ctx, cfg.DSN(), log)
	}
}

func loadDefaults(cfg *config.Config) (*pricing.Defaults, error) {
	if cfg.DefaultPricingFile != "" {
		return pricing.LoadDefaultsFile(cfg.DefaultPricingFile)
	}
	return pricing.LoadDefaults()
}
