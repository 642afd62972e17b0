// stockctl runs maintenance jobs against the stock database.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/stockctl ledger:verify
package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "stockctl",
	Short:         "Maintenance jobs for the stock ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		connect()
		if err := models.Migrate(config.GetDB()); err != nil {
			return err
		}
		config.GetLogger().WithFields(logrus.Fields{"field": "migrations"}).Info("schema up to date")
		return nil
	},
}

func connect() {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
