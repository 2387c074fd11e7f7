package cli

import (
	"fmt"

	"github.com/djcrm/crm/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand(a *app) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := database.Migrate(a.db); err != nil {
				return fmt.Errorf("migrating schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")

			if !seed {
				return nil
			}
			admin, err := database.SeedSuperAdmin(a.db, a.cfg.Seed)
			if err != nil {
				return fmt.Errorf("seeding super admin: %w", err)
			}
			if admin != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Created super admin %q.\n", admin.Username)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "Create the SEED_ADMIN_* super admin when none exists")
	return cmd
}
