package handlers

import (
	"strings"

	"github.com/djcrm/crm/internal/middleware"
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	Audit      *services.AuditService
}

func NewAuthHandler(db *gorm.DB, visibility *services.VisibilityService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{DB: db, Visibility: visibility, Audit: audit}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login accepts a username or an email address.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "username and password are required")
	}

	var user models.User
	if err := h.DB.First(&user, "username = ? OR LOWER(email) = ?", req.Username, strings.ToLower(req.Username)).Error; err != nil {
		logger.Warn("login_failed_user_not_found", map[string]interface{}{
			"username": req.Username,
			"ip":       c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.WarnWithUser(user.ID, "login_failed_invalid_password", map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.InfoWithUser(user.ID, "user_login", map[string]interface{}{
		"ip":   c.IP(),
		"tier": user.Tier,
	})
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

// Me returns the current user with the organisation its data lives in.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving user")
	}

	var organisationID *uint
	if !scope.Empty && scope.OrganisationID != 0 {
		organisationID = &scope.OrganisationID
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user":           user,
		"level":          user.Tier.Level(),
		"organisationID": organisationID,
	})
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	problems := map[string]string{}
	if len(req.NewPassword) < 8 {
		problems["newPassword"] = "must be at least 8 characters"
	} else if req.NewPassword != req.PasswordConfirm {
		problems["passwordConfirm"] = "passwords do not match"
	}
	if !utils.CheckPassword(req.OldPassword, currentUser.PasswordHash) {
		problems["oldPassword"] = "is incorrect"
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}
	if err := h.DB.Model(&models.User{}).Where("id = ?", currentUser.ID).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	logger.InfoWithUser(currentUser.ID, "password_changed", nil)
	audit(c, h.Audit, "user.password_change", "user", &currentUser.ID, nil)

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}
