package services

import (
	"sort"

	"github.com/djcrm/crm/internal/models"
)

// UserStats is one row of a per-user commission report.
type UserStats struct {
	UserID              uint    `json:"userID"`
	Username            string  `json:"username"`
	FullName            string  `json:"fullName"`
	NumLeads            int     `json:"numLeads"`
	NumCompleted        int     `json:"numCompleted"`
	TotalCommission     float64 `json:"totalCommission"`
	CompletedCommission float64 `json:"completedCommission"`
}

// TeamStats is one row of the all-teams report.
type TeamStats struct {
	TeamID              uint    `json:"teamID"`
	Name                string  `json:"name"`
	LeaderID            uint    `json:"leaderID"`
	MemberCount         int     `json:"memberCount"`
	NumLeads            int     `json:"numLeads"`
	NumCompleted        int     `json:"numCompleted"`
	TotalCommission     float64 `json:"totalCommission"`
	CompletedCommission float64 `json:"completedCommission"`
}

// AggregateByUser attributes every non-cancelled lead to its agent
// (commission) and manager (co-commission). A lead whose agent is also its
// manager counts once for that user. Rows follow the order of users; leads
// assigned to anyone else are ignored.
func AggregateByUser(leads []models.Lead, users []models.User) []UserStats {
	stats := make([]UserStats, len(users))
	index := make(map[uint]int, len(users))
	for i := range users {
		stats[i] = UserStats{
			UserID:   users[i].ID,
			Username: users[i].Username,
			FullName: users[i].FullName(),
		}
		index[users[i].ID] = i
	}

	lookup := func(id *uint) (int, bool) {
		if id == nil {
			return 0, false
		}
		i, ok := index[*id]
		return i, ok
	}

	for i := range leads {
		lead := &leads[i]
		if lead.Status == models.LeadStatusCancelled {
			continue
		}
		completed := lead.Status == models.LeadStatusCompleted

		agentIdx, agentOK := lookup(lead.AgentID)
		managerIdx, managerOK := lookup(lead.ManagerID)

		if agentOK {
			stats[agentIdx].credit(lead.AgentShare(), completed, true)
		}
		if managerOK {
			countLead := !(agentOK && agentIdx == managerIdx)
			stats[managerIdx].credit(lead.ManagerShare(), completed, countLead)
		}
	}

	return stats
}

func (s *UserStats) credit(amount float64, completed, countLead bool) {
	s.TotalCommission += amount
	if completed {
		s.CompletedCommission += amount
	}
	if !countLead {
		return
	}
	s.NumLeads++
	if completed {
		s.NumCompleted++
	}
}

// Summarise is the personal report of a single user.
func Summarise(user models.User, leads []models.Lead) UserStats {
	return AggregateByUser(leads, []models.User{user})[0]
}

// RankByCompletedCommission orders rows by completed commission, highest
// first. Equal rows keep their input order.
func RankByCompletedCommission(stats []UserStats) []UserStats {
	ranked := append([]UserStats(nil), stats...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CompletedCommission > ranked[j].CompletedCommission
	})
	return ranked
}

// AggregateTeams totals the leads handled by each team's leader and
// members. A lead counts once per team; its commission is the agent share
// when the agent is on the team plus the manager share when the manager is.
func AggregateTeams(teams []models.Team, leads []models.Lead) []TeamStats {
	result := make([]TeamStats, 0, len(teams))

	for i := range teams {
		team := &teams[i]
		onTeam := map[uint]bool{}
		for _, id := range team.MemberIDs() {
			onTeam[id] = true
		}

		row := TeamStats{
			TeamID:      team.ID,
			Name:        team.Name,
			LeaderID:    team.LeaderID,
			MemberCount: len(team.Members),
		}

		for j := range leads {
			lead := &leads[j]
			if lead.Status == models.LeadStatusCancelled {
				continue
			}
			agentIn := lead.AgentID != nil && onTeam[*lead.AgentID]
			managerIn := lead.ManagerID != nil && onTeam[*lead.ManagerID]
			if !agentIn && !managerIn {
				continue
			}

			var amount float64
			if agentIn {
				amount += lead.AgentShare()
			}
			if managerIn {
				amount += lead.ManagerShare()
			}

			row.NumLeads++
			row.TotalCommission += amount
			if lead.Status == models.LeadStatusCompleted {
				row.NumCompleted++
				row.CompletedCommission += amount
			}
		}

		result = append(result, row)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CompletedCommission > result[j].CompletedCommission
	})
	return result
}
