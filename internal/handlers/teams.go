package handlers

import (
	"strings"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type TeamsHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	Users      *services.UserService
	Audit      *services.AuditService
}

func NewTeamsHandler(db *gorm.DB, visibility *services.VisibilityService, users *services.UserService, audit *services.AuditService) *TeamsHandler {
	return &TeamsHandler{DB: db, Visibility: visibility, Users: users, Audit: audit}
}

type teamRequest struct {
	Name     *string `json:"name"`
	LeaderID *uint   `json:"leaderID"`
}

type addMemberRequest struct {
	UserID uint `json:"userID"`
}

func (h *TeamsHandler) visibleTeam(scope services.Scope, id uint) (*models.Team, error) {
	var team models.Team
	if err := scope.Teams(h.DB.Model(&models.Team{})).
		Preload("Leader").
		Preload("Members.Member").
		Where("teams.id = ?", id).
		First(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

// orgUser checks that userID is one of tiers inside orgID.
func (h *TeamsHandler) orgUser(actor *models.User, orgID, userID uint, tiers ...models.Tier) (*models.User, bool, error) {
	scope := services.Scope{User: actor, OrganisationID: orgID}
	var user models.User
	err := scope.Users(h.DB.Model(&models.User{})).
		Where("users.id = ? AND users.tier IN ?", userID, tiers).
		First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

// leaderFor picks the leader of a new or updated team. Managers always lead
// their own teams; organisers and super admins may name a manager of the
// organisation or lead it themselves. Without a request the leader stays
// current: the actor for a new team, the existing leader on update.
func (h *TeamsHandler) leaderFor(actor *models.User, orgID uint, requested *uint, current uint) (uint, map[string]string, error) {
	if actor.Tier == models.TierManager {
		return actor.ID, nil, nil
	}
	if requested == nil || *requested == 0 || *requested == current {
		return current, nil, nil
	}
	if *requested == actor.ID {
		return actor.ID, nil, nil
	}
	_, ok, err := h.orgUser(actor, orgID, *requested, models.TierManager)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, map[string]string{"leaderID": "must be a manager of the organisation"}, nil
	}
	return *requested, nil, nil
}

func (h *TeamsHandler) nameTaken(name string, leaderID, exceptID uint) bool {
	var count int64
	h.DB.Model(&models.Team{}).Where("name = ? AND leader_id = ? AND id <> ?", name, leaderID, exceptID).Count(&count)
	return count > 0
}

func (h *TeamsHandler) List(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	var teams []models.Team
	if err := scope.Teams(h.DB.Model(&models.Team{})).
		Preload("Leader").
		Preload("Members.Member").
		Order("teams.name ASC").
		Find(&teams).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing teams")
	}
	return utils.Success(c, fiber.StatusOK, teams)
}

func (h *TeamsHandler) Get(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid team id")
	}
	team, err := h.visibleTeam(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}
	return utils.Success(c, fiber.StatusOK, team)
}

func (h *TeamsHandler) Create(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	orgID, err := writableOrganisation(scope)
	if err != nil {
		return respondError(c, err, "failed resolving organisation")
	}

	var req teamRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return utils.ValidationError(c, map[string]string{"name": "is required"})
	}

	leaderID, problems, err := h.leaderFor(user, orgID, req.LeaderID, user.ID)
	if err != nil {
		return respondError(c, err, "failed checking leader")
	}
	if problems != nil {
		return utils.ValidationError(c, problems)
	}

	team := models.Team{Name: strings.TrimSpace(*req.Name), LeaderID: leaderID, OrganisationID: orgID}
	if h.nameTaken(team.Name, leaderID, 0) {
		return utils.Error(c, fiber.StatusConflict, "A team with this name already exists for this leader.")
	}
	if err := h.DB.Create(&team).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "A team with this name already exists for this leader.")
	}

	logger.InfoWithUser(user.ID, "team_created", map[string]interface{}{
		"team_id":   team.ID,
		"leader_id": team.LeaderID,
	})
	audit(c, h.Audit, "team.create", "team", &team.ID, map[string]interface{}{"name": team.Name})

	created, err := h.visibleTeam(services.Scope{All: true}, team.ID)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}
	return utils.Success(c, fiber.StatusCreated, created)
}

func (h *TeamsHandler) Update(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid team id")
	}
	team, err := h.visibleTeam(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}

	var req teamRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	name, leaderID := team.Name, team.LeaderID
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.ValidationError(c, map[string]string{"name": "cannot be empty"})
		}
	}
	if req.LeaderID != nil && user.Tier != models.TierManager {
		var problems map[string]string
		leaderID, problems, err = h.leaderFor(user, team.OrganisationID, req.LeaderID, team.LeaderID)
		if err != nil {
			return respondError(c, err, "failed checking leader")
		}
		if problems != nil {
			return utils.ValidationError(c, problems)
		}
	}
	if h.nameTaken(name, leaderID, team.ID) {
		return utils.Error(c, fiber.StatusConflict, "A team with this name already exists for this leader.")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Team{}).Where("id = ?", team.ID).
			Updates(map[string]interface{}{"name": name, "leader_id": leaderID}).Error; err != nil {
			return err
		}
		// A leader is never listed among its own members.
		return tx.Where("team_id = ? AND member_id = ?", team.ID, leaderID).Delete(&models.TeamMember{}).Error
	})
	if err != nil {
		return respondError(c, err, "failed updating team")
	}

	audit(c, h.Audit, "team.update", "team", &team.ID, map[string]interface{}{"name": name, "leader_id": leaderID})

	updated, err := h.visibleTeam(services.Scope{All: true}, team.ID)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}
	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *TeamsHandler) Delete(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid team id")
	}
	team, err := h.visibleTeam(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team_id = ?", team.ID).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Team{}, team.ID).Error
	})
	if err != nil {
		return respondError(c, err, "failed deleting team")
	}

	logger.InfoWithUser(user.ID, "team_deleted", map[string]interface{}{"team_id": team.ID})
	audit(c, h.Audit, "team.delete", "team", &team.ID, map[string]interface{}{"name": team.Name})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "team deleted"})
}

// AddMember puts an agent of the team's organisation on the team.
func (h *TeamsHandler) AddMember(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid team id")
	}
	team, err := h.visibleTeam(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.UserID == 0 {
		return utils.ValidationError(c, map[string]string{"userID": "is required"})
	}
	if req.UserID == team.LeaderID {
		return utils.ValidationError(c, map[string]string{"userID": "the leader cannot be a member"})
	}

	member, ok, err := h.orgUser(user, team.OrganisationID, req.UserID, models.TierAgent)
	if err != nil {
		return respondError(c, err, "failed loading user")
	}
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	var existing int64
	h.DB.Model(&models.TeamMember{}).Where("team_id = ? AND member_id = ?", team.ID, member.ID).Count(&existing)
	if existing > 0 {
		return utils.Error(c, fiber.StatusConflict, "This user is already a member of the team.")
	}

	membership := models.TeamMember{TeamID: team.ID, MemberID: member.ID}
	if err := h.DB.Create(&membership).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "This user is already a member of the team.")
	}

	logger.InfoWithUser(user.ID, "team_member_added", map[string]interface{}{
		"team_id":   team.ID,
		"member_id": member.ID,
	})
	audit(c, h.Audit, "team.member_add", "team", &team.ID, map[string]interface{}{"member_id": member.ID})

	membership.Member = member
	return utils.Success(c, fiber.StatusCreated, membership)
}

func (h *TeamsHandler) RemoveMember(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid team id")
	}
	userID, err := parseID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	team, err := h.visibleTeam(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading team")
	}

	result := h.DB.Where("team_id = ? AND member_id = ?", team.ID, userID).Delete(&models.TeamMember{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed removing member")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "membership not found")
	}

	audit(c, h.Audit, "team.member_remove", "team", &team.ID, map[string]interface{}{"member_id": userID})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member removed"})
}

// Candidates lists the agents of the requester's organisation that can be
// put on a team.
func (h *TeamsHandler) Candidates(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	var users []models.User
	if err := scope.Users(h.DB.Model(&models.User{})).
		Where("users.tier = ?", models.TierAgent).
		Order("users.username ASC").
		Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing candidates")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

type teamUserRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// CreateUser provisions an agent for the requester's organisation.
func (h *TeamsHandler) CreateUser(c *fiber.Ctx) error {
	user, _, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}

	var req teamUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.Users.Provision(c.Context(), user, services.ProvisionRequest{
		Username:        req.Username,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Tier:            models.TierAgent,
	})
	if err != nil {
		return respondError(c, err, "failed creating user")
	}

	audit(c, h.Audit, "user.create", "user", &created.ID, map[string]interface{}{"tier": created.Tier})
	return utils.Success(c, fiber.StatusCreated, created)
}
