package cli

import (
	"fmt"
	"strings"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/output"
	"github.com/spf13/cobra"
)

func newUsersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect user accounts",
	}

	var tier, search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := a.db.Model(&models.User{}).Order("username ASC")
			if tier != "" {
				parsed, ok := models.ParseTier(tier)
				if !ok {
					return fmt.Errorf("unknown tier %q", tier)
				}
				query = query.Where("tier = ?", parsed)
			}
			if search = strings.TrimSpace(search); search != "" {
				like := "%" + strings.ToLower(search) + "%"
				query = query.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", like, like)
			}

			var users []models.User
			if err := query.Find(&users).Error; err != nil {
				return fmt.Errorf("listing users: %w", err)
			}
			if a.flagJSON {
				return output.JSON(cmd.OutOrStdout(), users)
			}
			output.UserTable(cmd.OutOrStdout(), users)
			return nil
		},
	}
	list.Flags().StringVar(&tier, "tier", "", "Only this tier: agent, manager, organiser, superadmin or 1-4")
	list.Flags().StringVar(&search, "search", "", "Match username or email")

	cmd.AddCommand(list)
	return cmd
}
