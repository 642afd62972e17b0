package main

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/spf13/cobra"
)

var ledgerBusinessId string

// tenants returns the --business-id flag or every active tenant.
func tenants(ctx context.Context) ([]string, error) {
	if ledgerBusinessId != "" {
		return []string{ledgerBusinessId}, nil
	}
	return models.ListBusinessIds(utils.SetSkipTenantScopeInContext(ctx, true))
}

func ledgerCommand(use string, short string, rebuild bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			connect()
			ctx := cmd.Context()
			ids, err := tenants(ctx)
			if err != nil {
				return err
			}
			drifted := 0
			for _, businessId := range ids {
				tenantCtx := utils.SetBusinessIdInContext(ctx, businessId)
				var drifts []models.LedgerDrift
				if rebuild {
					drifts, err = models.RebuildLedger(tenantCtx, businessId)
				} else {
					drifts, err = models.VerifyLedger(tenantCtx, businessId)
				}
				if err != nil {
					return fmt.Errorf("business %s: %w", businessId, err)
				}
				for _, d := range drifts {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\tcurrent=%d\treplayed=%d\n",
						businessId, d.ProductId, d.Sku, d.CurrentStock, d.ReplayedStock)
				}
				drifted += len(drifts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tenants, %d drifted products\n", len(ids), drifted)
			if !rebuild && drifted > 0 {
				return fmt.Errorf("ledger drift found")
			}
			return nil
		},
	}
}

func init() {
	verify := ledgerCommand("ledger:verify", "Replay applied transactions and report stock drift", false)
	rebuild := ledgerCommand("ledger:rebuild", "Move drifted products to their replayed stock", true)
	for _, c := range []*cobra.Command{verify, rebuild} {
		c.Flags().StringVarP(&ledgerBusinessId, "business-id", "b", "", "Limit to one tenant")
		rootCmd.AddCommand(c)
	}
}
