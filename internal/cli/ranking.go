package cli

import (
	"fmt"
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/output"
	"github.com/djcrm/crm/internal/services"
	"github.com/spf13/cobra"
)

func newRankingCommand(a *app) *cobra.Command {
	var orgID uint
	params := map[string]*string{}

	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Rank agents and managers by completed commission",
		Long: `Rank agents and managers by completed commission.

  crmctl ranking --org 3
  crmctl ranking --org 3 --time-range quarters --quarter Q2 --quarter-year 2024
  crmctl ranking --time-range custom --start 2024-01-01 --end 2024-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := services.Scope{All: true}
			if orgID != 0 {
				// Rank as the organisation's organiser would see it.
				scope = services.Scope{User: &models.User{Tier: models.TierOrganiser}, OrganisationID: orgID}
			}

			var users []models.User
			if err := scope.Users(a.db.Model(&models.User{})).
				Where("users.tier IN ?", []models.Tier{models.TierAgent, models.TierManager}).
				Order("users.id ASC").
				Find(&users).Error; err != nil {
				return fmt.Errorf("loading users: %w", err)
			}

			values := map[string]string{}
			for key, value := range params {
				if *value != "" {
					values[key] = *value
				}
			}
			query := scope.InOrganisation(a.db.Model(&models.Lead{}), "leads")
			if tr, ok := services.ParseTimeRange(values, time.Now()); ok {
				query = tr.Apply(query, "leads.created_at")
			}
			var leads []models.Lead
			if err := query.Find(&leads).Error; err != nil {
				return fmt.Errorf("loading leads: %w", err)
			}

			ranked := services.RankByCompletedCommission(services.AggregateByUser(leads, users))
			if a.flagJSON {
				return output.JSON(cmd.OutOrStdout(), ranked)
			}
			output.RankingTable(cmd.OutOrStdout(), ranked)
			return nil
		},
	}

	cmd.Flags().UintVar(&orgID, "org", 0, "Organisation id (default: every organisation)")
	for key, flag := range map[string]struct{ name, usage string }{
		"time_range":     {"time-range", "all, years, quarters, months or custom"},
		"year":           {"year", "Year for --time-range years"},
		"quarter":        {"quarter", "Q1-Q4 for --time-range quarters"},
		"quarter_year":   {"quarter-year", "Year for --time-range quarters"},
		"month":          {"month", "1-12 for --time-range months"},
		"month_year":     {"month-year", "Year for --time-range months"},
		"start_datetime": {"start", "Start instant for --time-range custom"},
		"end_datetime":   {"end", "End instant for --time-range custom"},
	} {
		params[key] = cmd.Flags().String(flag.name, "", flag.usage)
	}
	return cmd
}
