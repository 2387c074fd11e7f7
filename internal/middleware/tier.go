package middleware

import (
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// LandingPath is where requests failing a tier gate are sent.
const LandingPath = "/api/leads"

// RequireTier admits users at or above minimum. Everyone else is redirected
// to the lead list with 303 See Other instead of receiving a 403.
func RequireTier(minimum models.Tier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		if user == nil {
			return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}
		if user.Tier.Level() < minimum.Level() {
			return SoftDeny(c, user)
		}
		return c.Next()
	}
}

func SoftDeny(c *fiber.Ctx, user *models.User) error {
	logger.WarnWithUser(user.ID, "tier_gate_denied", map[string]interface{}{
		"method": c.Method(),
		"path":   c.Path(),
		"tier":   user.Tier,
	})
	return c.Redirect(LandingPath, fiber.StatusSeeOther)
}
