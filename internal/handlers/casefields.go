package handlers

import (
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type CaseFieldsHandler struct {
	Visibility *services.VisibilityService
	CaseFields *services.CaseFieldService
	Audit      *services.AuditService
}

func NewCaseFieldsHandler(visibility *services.VisibilityService, caseFields *services.CaseFieldService, audit *services.AuditService) *CaseFieldsHandler {
	return &CaseFieldsHandler{Visibility: visibility, CaseFields: caseFields, Audit: audit}
}

func (h *CaseFieldsHandler) organisation(c *fiber.Ctx) (uint, error) {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return 0, err
	}
	return writableOrganisation(scope)
}

func (h *CaseFieldsHandler) List(c *fiber.Ctx) error {
	orgID, err := h.organisation(c)
	if err != nil {
		return respondError(c, err, "failed resolving organisation")
	}
	schema, err := h.CaseFields.Schema(c.Context(), orgID)
	if err != nil {
		return respondError(c, err, "failed listing case fields")
	}
	return utils.Success(c, fiber.StatusOK, schema)
}

type createCaseFieldRequest struct {
	Name      string           `json:"name"`
	FieldType models.FieldType `json:"fieldType"`
}

// Create declares a field. Repeating an existing name answers 200 with the
// existing field.
func (h *CaseFieldsHandler) Create(c *fiber.Ctx) error {
	orgID, err := h.organisation(c)
	if err != nil {
		return respondError(c, err, "failed resolving organisation")
	}

	var req createCaseFieldRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	field, created, err := h.CaseFields.Create(c.Context(), orgID, req.Name, req.FieldType)
	if err != nil {
		return respondError(c, err, "failed creating case field")
	}
	if !created {
		return utils.Success(c, fiber.StatusOK, field)
	}

	audit(c, h.Audit, "casefield.create", "casefield", &field.ID, map[string]interface{}{
		"name":       field.Name,
		"field_type": field.FieldType,
	})
	return utils.Success(c, fiber.StatusCreated, field)
}

func (h *CaseFieldsHandler) Delete(c *fiber.Ctx) error {
	orgID, err := h.organisation(c)
	if err != nil {
		return respondError(c, err, "failed resolving organisation")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid case field id")
	}
	if err := h.CaseFields.Delete(c.Context(), orgID, id); err != nil {
		return respondError(c, err, "failed deleting case field")
	}

	audit(c, h.Audit, "casefield.delete", "casefield", &id, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "case field deleted"})
}
