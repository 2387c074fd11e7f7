package handlers

import (
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// PerformancesHandler serves commission reports. Every report accepts the
// time range query parameters, applied to the lead creation time.
type PerformancesHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
}

func NewPerformancesHandler(db *gorm.DB, visibility *services.VisibilityService) *PerformancesHandler {
	return &PerformancesHandler{DB: db, Visibility: visibility}
}

type reportRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (h *PerformancesHandler) leads(c *fiber.Ctx, scope services.Scope) ([]models.Lead, reportRange, error) {
	query := scope.InOrganisation(h.DB.Model(&models.Lead{}), "leads")
	var window reportRange
	if tr, ok := services.ParseTimeRange(timeRangeParams(c), time.Now()); ok {
		query = tr.Apply(query, "leads.created_at")
		window = reportRange{Start: &tr.Start, End: &tr.End}
	}
	var leads []models.Lead
	if err := query.Find(&leads).Error; err != nil {
		return nil, window, err
	}
	return leads, window, nil
}

// Me summarises the leads the requester handled as agent or manager.
func (h *PerformancesHandler) Me(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	leads, window, err := h.leads(c, scope)
	if err != nil {
		return respondError(c, err, "failed loading leads")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"range":   window,
		"summary": services.Summarise(*user, leads),
	})
}

// Ranking orders everyone in the requester's scope by completed
// commission.
func (h *PerformancesHandler) Ranking(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	var users []models.User
	if err := scope.Users(h.DB.Model(&models.User{})).
		Where("users.tier IN ?", []models.Tier{models.TierAgent, models.TierManager}).
		Order("users.id ASC").
		Find(&users).Error; err != nil {
		return respondError(c, err, "failed loading users")
	}
	leads, window, err := h.leads(c, scope)
	if err != nil {
		return respondError(c, err, "failed loading leads")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"range":   window,
		"ranking": services.RankByCompletedCommission(services.AggregateByUser(leads, users)),
	})
}

func (h *PerformancesHandler) Teams(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	var teams []models.Team
	if err := scope.ReportTeams(h.DB.Model(&models.Team{})).
		Preload("Members").
		Order("teams.id ASC").
		Find(&teams).Error; err != nil {
		return respondError(c, err, "failed loading teams")
	}
	leads, window, err := h.leads(c, scope)
	if err != nil {
		return respondError(c, err, "failed loading leads")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"range": window,
		"teams": services.AggregateTeams(teams, leads),
	})
}

// Team reports the leader and each member of one team.
func (h *PerformancesHandler) Team(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid team id")
	}
	var team models.Team
	if err := scope.ReportTeams(h.DB.Model(&models.Team{})).
		Preload("Leader").
		Preload("Members.Member").
		Where("teams.id = ?", id).
		First(&team).Error; err != nil {
		return respondError(c, err, "failed loading team")
	}

	users := make([]models.User, 0, len(team.Members)+1)
	if team.Leader != nil {
		users = append(users, *team.Leader)
	}
	for _, m := range team.Members {
		if m.Member != nil {
			users = append(users, *m.Member)
		}
	}

	leads, window, err := h.leads(c, scope)
	if err != nil {
		return respondError(c, err, "failed loading leads")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"range":   window,
		"team":    services.AggregateTeams([]models.Team{team}, leads)[0],
		"members": services.AggregateByUser(leads, users),
	})
}
