package handlers

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const maxAuditExportRows = 10000

type AuditHandler struct {
	DB *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{DB: db}
}

func (h *AuditHandler) filtered(c *fiber.Ctx) *gorm.DB {
	query := h.DB.Model(&models.AuditLog{})
	if action := strings.TrimSpace(c.Query("action")); action != "" {
		query = query.Where("action = ?", action)
	}
	if resourceType := strings.TrimSpace(c.Query("resource_type")); resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}
	if userID, err := parseID(c.Query("user_id")); err == nil {
		query = query.Where("user_id = ?", userID)
	}
	return query
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	var logs []models.AuditLog
	page, total, err := utils.FetchPage(c, h.filtered(c), &logs, "created_at DESC")
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading audit logs")
	}
	return utils.Paginated(c, logs, page, total)
}

// Export downloads the filtered log as csv (default) or json.
func (h *AuditHandler) Export(c *fiber.Ctx) error {
	format := strings.ToLower(strings.TrimSpace(c.Query("format", "csv")))
	if format != "csv" && format != "json" {
		return utils.Error(c, fiber.StatusBadRequest, "format must be csv or json")
	}

	var logs []models.AuditLog
	if err := h.filtered(c).Order("created_at DESC").Limit(maxAuditExportRows).Find(&logs).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading audit logs")
	}

	if format == "json" {
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-log.json"))
		return utils.Success(c, fiber.StatusOK, logs)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-log.csv"))

	writer := csv.NewWriter(c.Response().BodyWriter())
	_ = writer.Write([]string{"Timestamp", "User ID", "Action", "Resource Type", "Resource ID", "IP Address", "Details"})
	for _, entry := range logs {
		_ = writer.Write([]string{
			entry.CreatedAt.Format(time.RFC3339),
			optionalID(entry.UserID),
			entry.Action,
			entry.ResourceType,
			optionalID(entry.ResourceID),
			entry.IPAddress,
			detailString(entry.Details),
		})
	}
	writer.Flush()
	return writer.Error()
}

func optionalID(id *uint) string {
	if id == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*id), 10)
}

func detailString(details map[string]interface{}) string {
	parts := make([]string, 0, len(details))
	for k, v := range details {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
