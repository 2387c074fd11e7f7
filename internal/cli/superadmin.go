package cli

import (
	"fmt"

	"github.com/djcrm/crm/internal/database"
	"github.com/djcrm/crm/internal/output"
	"github.com/spf13/cobra"
)

func newSuperAdminCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superadmin",
		Short: "Manage super admin accounts",
	}

	var username, email, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a super admin with its home organisation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := database.CreateSuperAdmin(a.db, username, email, password)
			if err != nil {
				return fmt.Errorf("creating super admin: %w", err)
			}
			if a.flagJSON {
				return output.JSON(cmd.OutOrStdout(), admin)
			}
			output.UserInfo(cmd.OutOrStdout(), *admin)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "Username")
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringVar(&password, "password", "", "Password")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
