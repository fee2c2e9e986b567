package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"f0oster/adsync/activedirectory"
	"f0oster/adsync/charthop"
	"f0oster/adsync/config"
	"f0oster/adsync/database"
	"f0oster/adsync/fields"
	"f0oster/adsync/logging"
	"f0oster/adsync/matching"
	"f0oster/adsync/reconciler"
	"f0oster/adsync/syncer"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	envFile         string
	testMatch       string
	testMatchSource string
	logLevel        string
	logFormat       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "adsync",
		Short: "Sync ChartHop job data into Active Directory",
		Long: `adsync reads every filled job from one or more ChartHop organizations,
matches each job to an Active Directory user by work email, and writes
changed fields to the directory. Only entries on SYNC_ALLOWLIST are written
when the list is set.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.envFile, "env-file", config.DefaultEnvFile, "dotenv file read before the environment")
	cmd.Flags().StringVar(&flags.testMatch, "test-match", "", "force the directory entry with this cn to pair with a source record")
	cmd.Flags().StringVar(&flags.testMatchSource, "test-match-source", "", "source record id (or org/id) used with --test-match; defaults to the first record")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "log format (json, console, auto)")

	return cmd
}

func loadConfig(flags *rootFlags) (*config.SyncConfiguration, error) {
	cfg, err := config.LoadEnvConfig(flags.envFile)
	if err != nil {
		return nil, err
	}
	if flags.testMatch != "" {
		cfg.TestMatch = flags.testMatch
	}
	if flags.testMatchSource != "" {
		cfg.TestMatchSource = flags.testMatchSource
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.LogFormat = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadCatalog(cfg *config.SyncConfiguration) (*fields.Catalog, error) {
	if cfg.FieldMapFile == "" {
		return fields.DefaultCatalog(), nil
	}
	return fields.LoadCatalog(cfg.FieldMapFile)
}

func runSync(cmd *cobra.Command, flags *rootFlags) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})

	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Error().Err(err).Str("file", cfg.FieldMapFile).Msg("Failed to load field map")
		return err
	}

	client := charthop.NewClient(&charthop.ClientConfig{
		BaseURL:     cfg.CharthopBaseURL,
		Timeout:     cfg.CharthopTimeout,
		PageSize:    cfg.CharthopPageSize,
		NotifyToken: cfg.NotifyToken(),
		Logger:      logging.Component(logger, "charthop"),
	}, catalog)

	connector := reconciler.LDAPConnector{
		URL:        cfg.LDAPURL,
		BaseDN:     cfg.LDAPSearch,
		Principal:  cfg.LDAPUser,
		Credential: cfg.LDAPPass,
		Options: []activedirectory.Option{
			activedirectory.WithLogger(logging.Component(logger, "activedirectory")),
			activedirectory.WithPaging(cfg.LDAPPagedLimit),
			activedirectory.WithSizeLimit(cfg.LDAPSizeLimit),
			activedirectory.WithExcludeDisabled(cfg.LDAPExcludeDisabled),
		},
	}

	options := []reconciler.Option{
		reconciler.WithLogger(logging.Component(logger, "reconciler")),
		reconciler.WithNotifier(client),
	}
	if db := openAuditDatabase(ctx, cfg, logger); db != nil {
		defer db.Close()
		options = append(options, reconciler.WithAuditSink(db))
	}

	r, err := reconciler.New(reconcilerOptions(cfg, catalog), client, connector, options...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to configure sync")
		return err
	}

	result, runErr := r.Run(ctx)
	if result != nil {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return runErr
}

func reconcilerOptions(cfg *config.SyncConfiguration, catalog *fields.Catalog) reconciler.Options {
	orgs := make([]reconciler.Organization, 0, len(cfg.OrgIDs))
	for _, org := range cfg.Organizations() {
		orgs = append(orgs, reconciler.Organization{ID: org.ID, Token: org.Token})
	}

	return reconciler.Options{
		Organizations:    orgs,
		Catalog:          catalog,
		AllowList:        syncer.NewAllowList(cfg.AllowList...),
		TestPairing:      matching.TestPairing{DirectoryCN: cfg.TestMatch, SourceID: cfg.TestMatchSource},
		FetchConcurrency: cfg.FetchConcurrency,
	}
}

// openAuditDatabase connects to the audit store when AUDIT_DSN is set. The
// run continues without auditing if the database is unreachable.
func openAuditDatabase(ctx context.Context, cfg *config.SyncConfiguration, logger zerolog.Logger) *database.Database {
	if cfg.AuditDSN == "" {
		return nil
	}
	db := database.NewDatabase(cfg.AuditDSN, logging.Component(logger, "database"))
	if err := db.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("Audit database unavailable, continuing without audit records")
		return nil
	}
	return db
}
