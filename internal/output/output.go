package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
)

// JSON prints v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// UserTable prints a slice of users as a human-readable table.
func UserTable(w io.Writer, users []models.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tEMAIL\tTIER\tJOINED")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.FullName(), u.Email, u.Tier, RelativeTime(u.CreatedAt))
	}
	tw.Flush()
}

// UserInfo prints user details.
func UserInfo(w io.Writer, u models.User) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", u.ID)
	fmt.Fprintf(tw, "Username:\t%s\n", u.Username)
	fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
	fmt.Fprintf(tw, "Tier:\t%s\n", u.Tier)
	if u.OrganisationID != nil {
		fmt.Fprintf(tw, "Organisation:\t%d\n", *u.OrganisationID)
	}
	tw.Flush()
}

// RankingTable prints commission stats, one row per user, numbered in the
// given order.
func RankingTable(w io.Writer, stats []services.UserStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No users to rank.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tUSERNAME\tNAME\tLEADS\tCOMPLETED\tCOMMISSION\tEARNED")
	for i, s := range stats {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			i+1, s.Username, s.FullName, s.NumLeads, s.NumCompleted,
			FormatMoney(s.TotalCommission), FormatMoney(s.CompletedCommission))
	}
	tw.Flush()
}

func FormatMoney(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// RelativeTime formats a timestamp relative to now (e.g. "2h ago", "3d ago").
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
