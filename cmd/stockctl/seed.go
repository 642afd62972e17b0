package main

import (
	"fmt"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/spf13/cobra"
)

var (
	seedBusinessName string
	seedAdminName    string
	seedPlanName     string
)

// seedCmd creates a plan, a tenant and its first admin, then prints a session token for that admin.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a tenant with an admin user and print a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		connect()
		ctx := cmd.Context()
		plan, err := models.CreatePlan(ctx, &models.NewPlan{Name: seedPlanName})
		if err != nil {
			return fmt.Errorf("create plan: %w", err)
		}
		business, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: seedBusinessName, PlanId: plan.ID})
		if err != nil {
			return fmt.Errorf("create business: %w", err)
		}
		businessId := business.ID.String()
		tenantCtx := utils.SetBusinessIdInContext(ctx, businessId)
		admin, err := models.CreateUser(tenantCtx, &models.NewUser{
			Name:     seedAdminName,
			Username: "admin",
			Role:     models.RoleAdmin,
		})
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		token, err := utils.JwtGenerate(utils.SessionClaims{
			BusinessId: businessId,
			UserId:     admin.ID,
			UserName:   admin.Name,
			Role:       string(admin.Role),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "business_id=%s\nuser_id=%d\ntoken=%s\n", businessId, admin.ID, token)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPlanName, "plan", "Unlimited", "Plan name (created without ceilings)")
	seedCmd.Flags().StringVar(&seedBusinessName, "business", "Demo", "Business name")
	seedCmd.Flags().StringVar(&seedAdminName, "admin", "Administrator", "Admin display name")
	rootCmd.AddCommand(seedCmd)
}
