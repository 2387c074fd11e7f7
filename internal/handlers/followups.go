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

// FollowUpsHandler serves the notes and attachments logged against a lead.
// Access follows the lead's detail visibility.
type FollowUpsHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	Storage    storage.ObjectStore
	Audit      *services.AuditService
}

func NewFollowUpsHandler(db *gorm.DB, visibility *services.VisibilityService, store storage.ObjectStore, audit *services.AuditService) *FollowUpsHandler {
	return &FollowUpsHandler{DB: db, Visibility: visibility, Storage: store, Audit: audit}
}

func (h *FollowUpsHandler) visibleLead(scope services.Scope, leadID uint) (*models.Lead, error) {
	var lead models.Lead
	if err := scope.Leads(h.DB.Model(&models.Lead{}), services.ActionDetail).
		Where("leads.id = ?", leadID).First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// visibleFollowUp loads a follow-up whose lead the requester can see.
func (h *FollowUpsHandler) visibleFollowUp(c *fiber.Ctx) (*models.FollowUp, error) {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return nil, err
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return nil, services.ErrNotFound
	}
	var followUp models.FollowUp
	if err := h.DB.First(&followUp, id).Error; err != nil {
		return nil, err
	}
	if _, err := h.visibleLead(scope, followUp.LeadID); err != nil {
		return nil, err
	}
	return &followUp, nil
}

func (h *FollowUpsHandler) List(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	leadID, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid lead id")
	}
	if _, err := h.visibleLead(scope, leadID); err != nil {
		return respondError(c, err, "failed loading lead")
	}

	var followUps []models.FollowUp
	if err := h.DB.Where("lead_id = ?", leadID).Order("created_at DESC, id DESC").Find(&followUps).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing follow-ups")
	}
	return utils.Success(c, fiber.StatusOK, followUps)
}

// Create accepts a multipart form with notes and an optional file.
func (h *FollowUpsHandler) Create(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	leadID, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid lead id")
	}
	lead, err := h.visibleLead(scope, leadID)
	if err != nil {
		return respondError(c, err, "failed loading lead")
	}

	followUp := models.FollowUp{LeadID: lead.ID, Notes: strings.TrimSpace(c.FormValue("notes"))}

	header, fileErr := c.FormFile("file")
	if fileErr == nil {
		key, err := storeUpload(c, h.Storage, storage.FollowUpDir(lead.ID), header)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
		}
		name := storage.CleanName(header.Filename)
		followUp.FileKey = &key
		followUp.FileName = &name
	}
	if followUp.Notes == "" && !followUp.HasFile() {
		return utils.ValidationError(c, map[string]string{"notes": "notes or a file is required"})
	}

	if err := h.DB.Create(&followUp).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating follow-up")
	}

	logger.InfoWithUser(user.ID, "followup_created", map[string]interface{}{
		"followup_id": followUp.ID,
		"lead_id":     lead.ID,
		"has_file":    followUp.HasFile(),
	})
	audit(c, h.Audit, "followup.create", "followup", &followUp.ID, map[string]interface{}{"lead_id": lead.ID})

	return utils.Success(c, fiber.StatusCreated, followUp)
}

func (h *FollowUpsHandler) Get(c *fiber.Ctx) error {
	followUp, err := h.visibleFollowUp(c)
	if err != nil {
		return respondError(c, err, "failed loading follow-up")
	}
	return utils.Success(c, fiber.StatusOK, followUp)
}

// Update edits the notes and optionally replaces the attached file. The
// follow-up must still carry notes or a file afterwards.
func (h *FollowUpsHandler) Update(c *fiber.Ctx) error {
	user := currentUser(c)
	followUp, err := h.visibleFollowUp(c)
	if err != nil {
		return respondError(c, err, "failed loading follow-up")
	}

	notes, notesSent := formField(c, "notes")
	header, fileErr := c.FormFile("file")
	if !notesSent && fileErr != nil {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}
	if notesSent && notes == "" && fileErr != nil && !followUp.HasFile() {
		return utils.ValidationError(c, map[string]string{"notes": "notes or a file is required"})
	}

	updates := map[string]interface{}{}
	if notesSent {
		updates["notes"] = notes
	}
	var replaced string
	if fileErr == nil {
		key, err := storeUpload(c, h.Storage, storage.FollowUpDir(followUp.LeadID), header)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
		}
		updates["file_key"] = key
		updates["file_name"] = storage.CleanName(header.Filename)
		if followUp.HasFile() {
			replaced = *followUp.FileKey
		}
	}

	if err := h.DB.Model(followUp).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating follow-up")
	}
	removeObjects(c, h.Storage, []string{replaced})
	if err := h.DB.First(followUp, followUp.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading follow-up")
	}

	logger.InfoWithUser(user.ID, "followup_updated", map[string]interface{}{
		"followup_id":   followUp.ID,
		"file_replaced": fileErr == nil,
	})
	audit(c, h.Audit, "followup.update", "followup", &followUp.ID, map[string]interface{}{"lead_id": followUp.LeadID})

	return utils.Success(c, fiber.StatusOK, followUp)
}

func (h *FollowUpsHandler) Download(c *fiber.Ctx) error {
	followUp, err := h.visibleFollowUp(c)
	if err != nil {
		return respondError(c, err, "failed loading follow-up")
	}
	if !followUp.HasFile() {
		return utils.Error(c, fiber.StatusNotFound, "follow-up has no file")
	}
	return sendObject(c, h.Storage, *followUp.FileKey, *followUp.FileName)
}

func (h *FollowUpsHandler) Delete(c *fiber.Ctx) error {
	followUp, err := h.visibleFollowUp(c)
	if err != nil {
		return respondError(c, err, "failed loading follow-up")
	}
	if err := h.DB.Delete(&models.FollowUp{}, followUp.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting follow-up")
	}
	if followUp.HasFile() {
		removeObjects(c, h.Storage, []string{*followUp.FileKey})
	}

	audit(c, h.Audit, "followup.delete", "followup", &followUp.ID, map[string]interface{}{"lead_id": followUp.LeadID})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "follow-up deleted"})
}
