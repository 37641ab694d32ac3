package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/router-for-me/AIGateway/internal/app"
	"github.com/router-for-me/AIGateway/internal/maintenance"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the maintenance scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.RunServer(cmd.Context(), appCfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := app.Migrate(cmd.Context(), appCfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog-sync",
	Short: "Load the catalog file and provision instances for existing credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		synced, created, err := app.SyncCatalog(cmd.Context(), appCfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "catalog models: %d, new instances: %d\n", synced, created)
		return nil
	},
}

var (
	tokenUserID   uint64
	tokenUsername string
	tokenAdmin    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with the configured JWT secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenUserID == 0 {
			return errors.New("--user is required")
		}
		token, err := app.IssueToken(appCfg, app.IssueTokenParams{
			UserID:   tokenUserID,
			Username: tokenUsername,
			Admin:    tokenAdmin,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var maintenanceCmd = &cobra.Command{
	Use:       "maintenance [job]",
	Short:     "Run one maintenance job immediately",
	Long:      "Run one maintenance job immediately.\n\nJobs: refresh-blocked, reset-minute, reset-daily, prune-failure-logs",
	Args:      cobra.ExactArgs(1),
	ValidArgs: jobNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := maintenance.ParseJob(args[0])
		if err != nil {
			return err
		}
		report, err := app.RunMaintenance(cmd.Context(), appCfg, job)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	},
}

func jobNames() []string {
	names := make([]string, 0, len(maintenance.Jobs))
	for _, job := range maintenance.Jobs {
		names = append(names, string(job))
	}
	return names
}

func init() {
	tokenCmd.Flags().Uint64Var(&tokenUserID, "user", 0, "user id (admin id with --admin)")
	tokenCmd.Flags().StringVar(&tokenUsername, "name", "", "username stored in the token")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "issue an admin token")

	rootCmd.AddCommand(serveCmd, migrateCmd, catalogCmd, tokenCmd, maintenanceCmd)
}
