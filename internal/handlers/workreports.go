package handlers

import (
	"strings"
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type WorkReportsHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	Storage    storage.ObjectStore
	Audit      *services.AuditService
}

func NewWorkReportsHandler(db *gorm.DB, visibility *services.VisibilityService, store storage.ObjectStore, audit *services.AuditService) *WorkReportsHandler {
	return &WorkReportsHandler{DB: db, Visibility: visibility, Storage: store, Audit: audit}
}

func (h *WorkReportsHandler) visibleReport(c *fiber.Ctx) (*models.User, *models.WorkReport, error) {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return nil, nil, err
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return nil, nil, services.ErrNotFound
	}
	var report models.WorkReport
	if err := scope.WorkReports(h.DB.Model(&models.WorkReport{}), services.ActionDetail).
		Preload("Creator").
		Where("work_reports.id = ?", id).
		First(&report).Error; err != nil {
		return nil, nil, err
	}
	return user, &report, nil
}

// List returns the visible reports, newest first, optionally limited to a
// time range on their creation time.
func (h *WorkReportsHandler) List(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	query := scope.WorkReports(h.DB.Model(&models.WorkReport{}), services.ActionList)
	if tr, ok := services.ParseTimeRange(timeRangeParams(c), time.Now()); ok {
		query = tr.Apply(query, "work_reports.created_at")
	}

	var reports []models.WorkReport
	page, total, err := utils.FetchPage(c, query, &reports, "work_reports.created_at DESC, work_reports.id DESC", "Creator")
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing work reports")
	}
	return utils.Paginated(c, reports, page, total)
}

// Create accepts a multipart form with a title and the report file.
func (h *WorkReportsHandler) Create(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	orgID, err := writableOrganisation(scope)
	if err != nil {
		return respondError(c, err, "failed resolving organisation")
	}

	problems := map[string]string{}
	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" {
		problems["title"] = "is required"
	}
	header, fileErr := c.FormFile("file")
	if fileErr != nil {
		problems["file"] = "is required"
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	key, err := storeUpload(c, h.Storage, storage.WorkReportDir(orgID), header)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
	}

	report := models.WorkReport{
		Title:          title,
		FileKey:        key,
		FileName:       storage.CleanName(header.Filename),
		OrganisationID: orgID,
		CreatorID:      user.ID,
	}
	if err := h.DB.Create(&report).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating work report")
	}

	logger.InfoWithUser(user.ID, "workreport_created", map[string]interface{}{
		"workreport_id":   report.ID,
		"organisation_id": orgID,
	})
	audit(c, h.Audit, "workreport.create", "workreport", &report.ID, map[string]interface{}{"title": title})

	report.Creator = user
	return utils.Success(c, fiber.StatusCreated, report)
}

func (h *WorkReportsHandler) Get(c *fiber.Ctx) error {
	_, report, err := h.visibleReport(c)
	if err != nil {
		return respondError(c, err, "failed loading work report")
	}
	return utils.Success(c, fiber.StatusOK, report)
}

func (h *WorkReportsHandler) Download(c *fiber.Ctx) error {
	_, report, err := h.visibleReport(c)
	if err != nil {
		return respondError(c, err, "failed loading work report")
	}
	return sendObject(c, h.Storage, report.FileKey, report.FileName)
}

// canModify reports whether user may change report: its author, or an
// organiser and above.
func canModify(user *models.User, report *models.WorkReport) bool {
	return report.CreatorID == user.ID || user.Tier.Level() >= models.TierOrganiser.Level()
}

// Update renames a report or replaces its file, with the same access rule
// as Delete.
func (h *WorkReportsHandler) Update(c *fiber.Ctx) error {
	user, report, err := h.visibleReport(c)
	if err != nil {
		return respondError(c, err, "failed loading work report")
	}
	if !canModify(user, report) {
		return respondError(c, services.ErrForbidden, "failed updating work report")
	}

	title, titleSent := formField(c, "title")
	header, fileErr := c.FormFile("file")
	if !titleSent && fileErr != nil {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}
	if titleSent && title == "" {
		return utils.ValidationError(c, map[string]string{"title": "cannot be empty"})
	}

	updates := map[string]interface{}{}
	if titleSent {
		updates["title"] = title
	}
	var replaced string
	if fileErr == nil {
		key, err := storeUpload(c, h.Storage, storage.WorkReportDir(report.OrganisationID), header)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
		}
		updates["file_key"] = key
		updates["file_name"] = storage.CleanName(header.Filename)
		replaced = report.FileKey
	}

	if err := h.DB.Model(&models.WorkReport{}).Where("id = ?", report.ID).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating work report")
	}
	removeObjects(c, h.Storage, []string{replaced})

	var updated models.WorkReport
	if err := h.DB.Preload("Creator").First(&updated, report.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading work report")
	}

	logger.InfoWithUser(user.ID, "workreport_updated", map[string]interface{}{
		"workreport_id": updated.ID,
		"file_replaced": fileErr == nil,
	})
	audit(c, h.Audit, "workreport.update", "workreport", &updated.ID, map[string]interface{}{"title": updated.Title})
	return utils.Success(c, fiber.StatusOK, updated)
}

// Delete is open to the report's author and to organisers and above.
func (h *WorkReportsHandler) Delete(c *fiber.Ctx) error {
	user, report, err := h.visibleReport(c)
	if err != nil {
		return respondError(c, err, "failed loading work report")
	}
	if !canModify(user, report) {
		return respondError(c, services.ErrForbidden, "failed deleting work report")
	}

	if err := h.DB.Delete(&models.WorkReport{}, report.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting work report")
	}
	removeObjects(c, h.Storage, []string{report.FileKey})

	logger.InfoWithUser(user.ID, "workreport_deleted", map[string]interface{}{"workreport_id": report.ID})
	audit(c, h.Audit, "workreport.delete", "workreport", &report.ID, map[string]interface{}{"title": report.Title})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "work report deleted"})
}
