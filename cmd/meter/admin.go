package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/auth"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		log := logger.FromLevel(cfg.LogLevel, cfg.DebugMode)
		defer func() { _ = log.Sync() }()

		store, err := openStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("migrations applied", "store", cfg.Store)
		return nil
	},
}

var flagOverwrite bool

var seedPricingCmd = &cobra.Command{
	Use:   "seed-pricing",
	Short: "Load the default price table into the store",
	Long:  "Inserts a stored price for every default (vendor, model, metric). Existing active prices are kept unless --overwrite is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		log := logger.FromLevel(cfg.LogLevel, cfg.DebugMode)
		defer func() { _ = log.Sync() }()

		defaults, err := loadDefaults(cfg)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		n, err := store.SeedPricing(cmd.Context(), defaults.Entries(), flagOverwrite)
		if err != nil {
			return fmt.Errorf("seeding pricing: %w", err)
		}
		log.Info("pricing seeded", "written", n, "defaults", defaults.Len(), "overwrite", flagOverwrite)
		return nil
	},
}

var (
	flagUser     string
	flagCustomer string
	flagRole     string
	flagTTL      time.Duration
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Mint an access token for an operator or integration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		role := models.Role(strings.ToUpper(strings.TrimSpace(flagRole)))
		if !role.Valid() {
			return fmt.Errorf("unknown role %q (want USER, ADMIN or SUPERADMIN)", flagRole)
		}
		if role != models.RoleSuperAdmin && flagCustomer == "" {
			return fmt.Errorf("--customer is required for %s tokens", role)
		}

		ttl := cfg.JWTTTL
		if flagTTL > 0 {
			ttl = flagTTL
		}
		issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, ttl)
		if err != nil {
			return err
		}
		token, exp, err := issuer.Issue(access.Principal{UserID: flagUser, CustomerID: flagCustomer, Role: role})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	seedPricingCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "Replace existing active prices")

	issueTokenCmd.Flags().StringVar(&flagUser, "user", "", "User id (token subject)")
	issueTokenCmd.Flags().StringVar(&flagCustomer, "customer", "", "Customer id the token is scoped to")
	issueTokenCmd.Flags().StringVar(&flagRole, "role", string(models.RoleUser), "USER, ADMIN or SUPERADMIN")
	issueTokenCmd.Flags().DurationVar(&flagTTL, "ttl", 0, "Token lifetime (default JWT_TTL)")
	_ = issueTokenCmd.MarkFlagRequired("user")
}
