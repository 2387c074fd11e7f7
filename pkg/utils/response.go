package utils

import "github.com/gofiber/fiber/v2"

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// ValidationError reports field-level problems; nothing was written.
func ValidationError(c *fiber.Ctx, fields map[string]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   "validation failed",
		"fields":  fields,
	})
}

// Paginated writes one page of a list together with its position in the
// whole result.
func Paginated(c *fiber.Ctx, data interface{}, page Page, total int64) error {
	totalPages := int((total + int64(page.Limit) - 1) / int64(page.Limit))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"pagination": fiber.Map{
			"page":       page.Number,
			"limit":      page.Limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}
