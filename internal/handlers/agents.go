package handlers

import (
	"strings"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// AgentsHandler manages the agents and managers reporting directly to the
// requester.
type AgentsHandler struct {
	DB      *gorm.DB
	Users   *services.UserService
	Tiers   *services.TierService
	Storage storage.ObjectStore
	Audit   *services.AuditService
}

func NewAgentsHandler(db *gorm.DB, users *services.UserService, tiers *services.TierService, store storage.ObjectStore, audit *services.AuditService) *AgentsHandler {
	return &AgentsHandler{DB: db, Users: users, Tiers: tiers, Storage: store, Audit: audit}
}

type agentRequest struct {
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"passwordConfirm"`
	Tier            *string `json:"tier"`
}

func (h *AgentsHandler) subordinates(actor *models.User) *gorm.DB {
	direct := h.DB.Model(&models.SupervisionEdge{}).Select("user_id").Where("supervisor_id = ?", actor.ID)
	return h.DB.Model(&models.User{}).Where("users.id IN (?)", direct)
}

func (h *AgentsHandler) subordinate(c *fiber.Ctx) (*models.User, *models.User, error) {
	actor := currentUser(c)
	if actor == nil {
		return nil, nil, errUnauthorized
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return nil, nil, services.ErrNotFound
	}
	var agent models.User
	if err := h.subordinates(actor).Where("users.id = ?", id).First(&agent).Error; err != nil {
		return nil, nil, err
	}
	return actor, &agent, nil
}

func (h *AgentsHandler) List(c *fiber.Ctx) error {
	actor := currentUser(c)
	if actor == nil {
		return respondError(c, errUnauthorized, "")
	}
	query := h.subordinates(actor)
	if tier, ok := models.ParseTier(c.Query("tier")); ok {
		query = query.Where("users.tier = ?", tier)
	}
	var agents []models.User
	if err := query.Order("users.username ASC").Find(&agents).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing agents")
	}
	return utils.Success(c, fiber.StatusOK, agents)
}

// Create provisions an agent (or, with tier "manager", a manager) reporting
// to the requester.
func (h *AgentsHandler) Create(c *fiber.Ctx) error {
	actor := currentUser(c)
	if actor == nil {
		return respondError(c, errUnauthorized, "")
	}
	var req agentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	tier := models.TierAgent
	if req.Tier != nil {
		parsed, ok := models.ParseTier(*req.Tier)
		if !ok || !parsed.Supervised() {
			return utils.ValidationError(c, map[string]string{"tier": "must be agent or manager"})
		}
		tier = parsed
	}
	supervisorID := actor.ID

	created, err := h.Users.Provision(c.Context(), actor, services.ProvisionRequest{
		Username:        deref(req.Username),
		Email:           deref(req.Email),
		FirstName:       deref(req.FirstName),
		LastName:        deref(req.LastName),
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Tier:            tier,
		SupervisorID:    &supervisorID,
	})
	if err != nil {
		return respondError(c, err, "failed creating agent")
	}

	audit(c, h.Audit, "user.create", "user", &created.ID, map[string]interface{}{"tier": created.Tier})
	return utils.Success(c, fiber.StatusCreated, created)
}

func (h *AgentsHandler) Get(c *fiber.Ctx) error {
	_, agent, err := h.subordinate(c)
	if err != nil {
		return respondError(c, err, "failed loading agent")
	}
	return utils.Success(c, fiber.StatusOK, agent)
}

// Update edits the profile and optionally switches between agent and
// manager.
func (h *AgentsHandler) Update(c *fiber.Ctx) error {
	actor, agent, err := h.subordinate(c)
	if err != nil {
		return respondError(c, err, "failed loading agent")
	}
	var req agentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates, problems := profileUpdates(req.Username, req.Email, req.FirstName, req.LastName)
	for field, msg := range h.Users.CheckUnique(c.Context(), agent.ID, req.Username, req.Email) {
		problems[field] = msg
	}
	var newTier models.Tier
	if req.Tier != nil {
		parsed, ok := models.ParseTier(*req.Tier)
		if !ok || !parsed.Supervised() {
			problems["tier"] = "must be agent or manager"
		}
		newTier = parsed
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	err = h.DB.WithContext(c.Context()).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", agent.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		if newTier == "" || newTier == agent.Tier {
			return nil
		}
		_, err := h.Tiers.WithTx(tx).Transition(c.Context(), actor, services.TransitionRequest{
			TargetID: agent.ID,
			NewTier:  newTier,
		})
		return err
	})
	if err != nil {
		return respondError(c, err, "failed updating agent")
	}

	var updated models.User
	if err := h.DB.First(&updated, agent.ID).Error; err != nil {
		return respondError(c, err, "failed loading agent")
	}
	logger.InfoWithUser(actor.ID, "agent_updated", map[string]interface{}{
		"user_id": updated.ID,
		"tier":    updated.Tier,
	})
	audit(c, h.Audit, "user.update", "user", &updated.ID, map[string]interface{}{"tier": updated.Tier})
	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *AgentsHandler) Delete(c *fiber.Ctx) error {
	actor, agent, err := h.subordinate(c)
	if err != nil {
		return respondError(c, err, "failed loading agent")
	}
	keys, err := h.Users.Delete(c.Context(), actor, agent.ID)
	if err != nil {
		return respondError(c, err, "failed deleting agent")
	}
	removeObjects(c, h.Storage, keys)

	audit(c, h.Audit, "user.delete", "user", &agent.ID, map[string]interface{}{"username": agent.Username})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "agent deleted"})
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// profileUpdates collects the changed profile columns of a user.
func profileUpdates(username, email, firstName, lastName *string) (map[string]interface{}, map[string]string) {
	updates := map[string]interface{}{}
	problems := map[string]string{}

	if username != nil {
		value := strings.TrimSpace(*username)
		if value == "" || len(value) > 150 {
			problems["username"] = "must be 1-150 characters"
		} else {
			updates["username"] = value
		}
	}
	if email != nil {
		value := strings.ToLower(strings.TrimSpace(*email))
		if !validEmail(value) {
			problems["email"] = "must be a valid email address"
		} else {
			updates["email"] = value
		}
	}
	if firstName != nil {
		updates["first_name"] = strings.TrimSpace(*firstName)
	}
	if lastName != nil {
		updates["last_name"] = strings.TrimSpace(*lastName)
	}
	return updates, problems
}
