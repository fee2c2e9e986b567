package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"f0oster/adsync/config"
	"f0oster/adsync/database"
	"f0oster/adsync/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "auditdb",
		Short:        "Manage the adsync audit database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file read before the environment")

	dsn := func() (string, error) {
		cfg, err := config.LoadEnvConfig(envFile)
		if err != nil {
			return "", err
		}
		if cfg.AuditDSN == "" {
			return "", fmt.Errorf("%s is not set", config.EnvAuditDSN)
		}
		return cfg.AuditDSN, nil
	}

	root.AddCommand(
		newInitCommand(dsn),
		newResetCommand(dsn),
		newRunsCommand(dsn),
	)
	return root
}

func newInitCommand(dsn func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the audit tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			auditDsn, err := dsn()
			if err != nil {
				return err
			}
			if err := database.ApplySchema(cmd.Context(), auditDsn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tables created successfully.")
			return nil
		},
	}
}

func newResetCommand(dsn func() (string, error)) *cobra.Command {
	var managementDsn, name string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the audit database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			auditDsn, err := dsn()
			if err != nil {
				return err
			}
			if managementDsn == "" {
				return fmt.Errorf("--management-dsn is required")
			}
			if err := database.ResetDatabase(cmd.Context(), managementDsn, auditDsn, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database '%s' recreated successfully.\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&managementDsn, "management-dsn", "", "DSN of a database used to drop and create the audit database")
	cmd.Flags().StringVar(&name, "name", "adsync", "audit database name")
	return cmd
}

func newRunsCommand(dsn func() (string, error)) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			auditDsn, err := dsn()
			if err != nil {
				return err
			}

			db := database.NewDatabase(auditDsn, logging.New(logging.Config{Output: cmd.ErrOrStderr()}))
			if err := db.Connect(cmd.Context()); err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tJOBS\tENTRIES\tMATCHED\tUPDATED\tFAILED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					run.RunID, run.StartedAt.Format(time.RFC3339), run.Status,
					run.SourceRecords, run.DirectoryEntries, run.Matched, run.Updated, run.Failed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
