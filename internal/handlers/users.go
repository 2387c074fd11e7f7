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

// UsersHandler is the super admin's account administration.
type UsersHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	Users      *services.UserService
	Tiers      *services.TierService
	Storage    storage.ObjectStore
	Audit      *services.AuditService
}

func NewUsersHandler(db *gorm.DB, visibility *services.VisibilityService, users *services.UserService, tiers *services.TierService, store storage.ObjectStore, audit *services.AuditService) *UsersHandler {
	return &UsersHandler{DB: db, Visibility: visibility, Users: users, Tiers: tiers, Storage: store, Audit: audit}
}

type userRequest struct {
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Password        *string `json:"password"`
	PasswordConfirm *string `json:"passwordConfirm"`
	Tier            *string `json:"tier"`
	SupervisorID    *uint   `json:"supervisorID"`
}

type tierRequest struct {
	Tier         string `json:"tier"`
	SupervisorID *uint  `json:"supervisorID"`
}

type userDetail struct {
	models.User
	Supervisor *models.User `json:"supervisor,omitempty"`
}

func (h *UsersHandler) detail(c *fiber.Ctx, id uint) (*userDetail, error) {
	var user models.User
	if err := h.DB.Preload("Organisation").First(&user, id).Error; err != nil {
		return nil, err
	}
	out := &userDetail{User: user}
	if user.Tier.Supervised() {
		supervisor, err := h.Visibility.Supervisor(c.Context(), user.ID)
		if err == nil {
			out.Supervisor = supervisor
		}
	}
	return out, nil
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	query := h.DB.Model(&models.User{})

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like, like, like)
	}
	if tier, ok := models.ParseTier(c.Query("tier")); ok {
		query = query.Where("tier = ?", tier)
	}

	var users []models.User
	page, total, err := utils.FetchPage(c, query, &users, "username ASC")
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}
	return utils.Paginated(c, users, page, total)
}

func (h *UsersHandler) Create(c *fiber.Ctx) error {
	actor := currentUser(c)
	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	tier := models.TierAgent
	if req.Tier != nil {
		parsed, ok := models.ParseTier(*req.Tier)
		if !ok {
			return utils.ValidationError(c, map[string]string{"tier": "is not a valid tier"})
		}
		tier = parsed
	}

	created, err := h.Users.Provision(c.Context(), actor, services.ProvisionRequest{
		Username:        deref(req.Username),
		Email:           deref(req.Email),
		FirstName:       deref(req.FirstName),
		LastName:        deref(req.LastName),
		Password:        deref(req.Password),
		PasswordConfirm: deref(req.PasswordConfirm),
		Tier:            tier,
		SupervisorID:    req.SupervisorID,
	})
	if err != nil {
		return respondError(c, err, "failed creating user")
	}

	audit(c, h.Audit, "user.create", "user", &created.ID, map[string]interface{}{"tier": created.Tier})

	out, err := h.detail(c, created.ID)
	if err != nil {
		return respondError(c, err, "failed loading user")
	}
	return utils.Success(c, fiber.StatusCreated, out)
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	out, err := h.detail(c, id)
	if err != nil {
		return respondError(c, err, "failed loading user")
	}
	return utils.Success(c, fiber.StatusOK, out)
}

// Update edits profile fields and optionally resets the password. Tier
// changes go through SetTier.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	actor := currentUser(c)
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	var target models.User
	if err := h.DB.First(&target, id).Error; err != nil {
		return respondError(c, err, "failed loading user")
	}

	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates, problems := profileUpdates(req.Username, req.Email, req.FirstName, req.LastName)
	for field, msg := range h.Users.CheckUnique(c.Context(), target.ID, req.Username, req.Email) {
		problems[field] = msg
	}
	if req.Password != nil && *req.Password != "" {
		switch {
		case len(*req.Password) < 8:
			problems["password"] = "must be at least 8 characters"
		case req.PasswordConfirm == nil || *req.PasswordConfirm != *req.Password:
			problems["passwordConfirm"] = "passwords do not match"
		default:
			hash, err := utils.HashPassword(*req.Password)
			if err != nil {
				return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
			}
			updates["password_hash"] = hash
		}
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	if len(updates) > 0 {
		if err := h.DB.Model(&models.User{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
			return respondError(c, err, "failed updating user")
		}
	}

	_, passwordChanged := updates["password_hash"]
	logger.InfoWithUser(actor.ID, "user_updated", map[string]interface{}{
		"user_id":          target.ID,
		"password_changed": passwordChanged,
	})
	audit(c, h.Audit, "user.update", "user", &target.ID, map[string]interface{}{"password_changed": passwordChanged})

	out, err := h.detail(c, target.ID)
	if err != nil {
		return respondError(c, err, "failed loading user")
	}
	return utils.Success(c, fiber.StatusOK, out)
}

// SetTier moves a user to another tier together with the rows the move
// carries.
func (h *UsersHandler) SetTier(c *fiber.Ctx) error {
	actor := currentUser(c)
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	var req tierRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	tier, ok := models.ParseTier(req.Tier)
	if !ok {
		return utils.ValidationError(c, map[string]string{"tier": "is not a valid tier"})
	}

	updated, err := h.Tiers.Transition(c.Context(), actor, services.TransitionRequest{
		TargetID:     id,
		NewTier:      tier,
		SupervisorID: req.SupervisorID,
	})
	if err != nil {
		return respondError(c, err, "failed changing tier")
	}

	audit(c, h.Audit, "user.tier_change", "user", &updated.ID, map[string]interface{}{"tier": updated.Tier})

	out, err := h.detail(c, updated.ID)
	if err != nil {
		return respondError(c, err, "failed loading user")
	}
	return utils.Success(c, fiber.StatusOK, out)
}

func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	actor := currentUser(c)
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	keys, err := h.Users.Delete(c.Context(), actor, id)
	if err != nil {
		return respondError(c, err, "failed deleting user")
	}
	removeObjects(c, h.Storage, keys)

	audit(c, h.Audit, "user.delete", "user", &id, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "user deleted"})
}
