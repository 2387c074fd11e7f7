package cli

import (
	"fmt"
	"io"

	"github.com/djcrm/crm/internal/config"
	"github.com/djcrm/crm/internal/database"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app carries the state shared by one invocation of the command tree.
type app struct {
	flagJSON       bool
	flagDBDriver   string
	flagSQLitePath string

	cfg *config.Config
	db  *gorm.DB
}

// NewRootCommand builds the crmctl command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "crmctl",
		Short: "DJCRM admin CLI",
		Long: `crmctl administers a DJCRM database directly, without the HTTP API.

  crmctl migrate                    Create or update the schema
  crmctl superadmin create ...      Bootstrap a super admin
  crmctl users list --tier agent    List accounts
  crmctl ranking --org 3            Commission ranking of an organisation`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			a.cfg = config.Load()
			if a.flagDBDriver != "" {
				a.cfg.DB.Driver = a.flagDBDriver
			}
			if a.flagSQLitePath != "" {
				a.cfg.DB.SQLitePath = a.flagSQLitePath
			}
			db, err := database.Open(a.cfg.DB)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			a.db = db
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&a.flagJSON, "json", false, "Output as JSON")
	root.PersistentFlags().StringVar(&a.flagDBDriver, "db-driver", "", "Override DB_DRIVER (postgres or sqlite)")
	root.PersistentFlags().StringVar(&a.flagSQLitePath, "sqlite-path", "", "Override DB_SQLITE_PATH")

	root.AddCommand(
		newMigrateCommand(a),
		newSuperAdminCommand(a),
		newUsersCommand(a),
		newRankingCommand(a),
	)
	return root, a
}

// Execute runs the command tree with args and reports errors on errOut.
func Execute(args []string, out, errOut io.Writer) error {
	root, a := newRootCommand()
	defer a.close()

	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return err
	}
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
