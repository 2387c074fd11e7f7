package handlers

import (
	"context"
	"strings"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadsHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	CaseFields *services.CaseFieldService
	Storage    storage.ObjectStore
	Audit      *services.AuditService
}

func NewLeadsHandler(db *gorm.DB, visibility *services.VisibilityService, caseFields *services.CaseFieldService, store storage.ObjectStore, audit *services.AuditService) *LeadsHandler {
	return &LeadsHandler{DB: db, Visibility: visibility, CaseFields: caseFields, Storage: store, Audit: audit}
}

type leadRequest struct {
	FirstName    *string        `json:"firstName"`
	LastName     *string        `json:"lastName"`
	Age          *int           `json:"age"`
	PhoneNumber  *string        `json:"phoneNumber"`
	Email        *string        `json:"email"`
	Address      *string        `json:"address"`
	Description  *string        `json:"description"`
	Status       *string        `json:"status"`
	Quote        *int64         `json:"quote"`
	Commission   *float64       `json:"commission"`
	CoCommission *float64       `json:"coCommission"`
	AgentID      *uint          `json:"agentID"`
	ManagerID    *uint          `json:"managerID"`
	CustomFields map[string]any `json:"customFields"`
}

type leadResponse struct {
	models.Lead
	StatusLabel  string         `json:"statusLabel"`
	CustomFields map[string]any `json:"customFields"`
}

// privileged reports whether user may set money and assignment fields.
func privileged(user *models.User) bool {
	return user.Tier.Level() >= models.TierOrganiser.Level()
}

// applyProfile copies the descriptive fields of req onto lead.
func (r *leadRequest) applyProfile(lead *models.Lead, problems map[string]string) {
	name := func(value *string, field string, target *string) {
		if value == nil {
			return
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" || len(trimmed) > 20 {
			problems[field] = "must be 1-20 characters"
			return
		}
		*target = trimmed
	}
	name(r.FirstName, "firstName", &lead.FirstName)
	name(r.LastName, "lastName", &lead.LastName)

	if r.Age != nil {
		if *r.Age < 0 || *r.Age > 150 {
			problems["age"] = "must be between 0 and 150"
		} else {
			lead.Age = *r.Age
		}
	}
	if r.PhoneNumber != nil {
		phone := strings.TrimSpace(*r.PhoneNumber)
		if len(phone) > 20 {
			problems["phoneNumber"] = "must be at most 20 characters"
		} else {
			lead.PhoneNumber = phone
		}
	}
	if r.Email != nil {
		email := strings.TrimSpace(*r.Email)
		if email != "" {
			if !validEmail(email) {
				problems["email"] = "must be a valid email address"
			}
		}
		lead.Email = email
	}
	if r.Address != nil {
		lead.Address = strings.TrimSpace(*r.Address)
	}
	if r.Description != nil {
		lead.Description = strings.TrimSpace(*r.Description)
	}
	if r.Status != nil {
		status := models.LeadStatus(strings.TrimSpace(*r.Status))
		if !status.Valid() {
			problems["status"] = "is not a valid status"
		} else {
			lead.Status = status
		}
	}
}

// applyTerms copies quote, commission rates and assignment onto lead after
// checking that assignees belong to the lead's organisation. An id of 0
// clears an assignment.
func (h *LeadsHandler) applyTerms(actor *models.User, r *leadRequest, lead *models.Lead, problems map[string]string) error {
	if r.Quote != nil {
		if *r.Quote < 0 {
			problems["quote"] = "must not be negative"
		} else {
			lead.Quote = *r.Quote
		}
	}
	rate := func(value *float64, field string, target *float64) {
		if value == nil {
			return
		}
		if *value < 0 || *value > 100 {
			problems[field] = "must be between 0 and 100"
			return
		}
		*target = *value
	}
	rate(r.Commission, "commission", &lead.Commission)
	rate(r.CoCommission, "coCommission", &lead.CoCommission)

	assign := func(value *uint, field string, target **uint, tiers ...models.Tier) error {
		if value == nil {
			return nil
		}
		if *value == 0 {
			*target = nil
			return nil
		}
		ok, err := h.isCandidate(actor, lead.OrganisationID, *value, tiers...)
		if err != nil {
			return err
		}
		if !ok {
			problems[field] = "must be a user of the lead's organisation"
			return nil
		}
		id := *value
		*target = &id
		return nil
	}
	if err := assign(r.AgentID, "agentID", &lead.AgentID, models.TierAgent, models.TierManager); err != nil {
		return err
	}
	return assign(r.ManagerID, "managerID", &lead.ManagerID, models.TierManager)
}

func (h *LeadsHandler) isCandidate(actor *models.User, orgID, userID uint, tiers ...models.Tier) (bool, error) {
	scope := services.Scope{User: actor, OrganisationID: orgID}
	var count int64
	err := scope.Users(h.DB.Model(&models.User{})).
		Where("users.id = ? AND users.tier IN ?", userID, tiers).
		Count(&count).Error
	return count > 0, err
}

// customFields validates raw custom values against the organisation schema.
func (h *LeadsHandler) customFields(ctx context.Context, orgID uint, raw map[string]any, problems map[string]string) ([]services.FieldSpec, []models.CaseValue, error) {
	schema, err := h.CaseFields.Schema(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return schema, nil, nil
	}
	values, fieldProblems := services.Validate(schema, raw)
	for name, problem := range fieldProblems {
		problems["customFields."+name] = problem
	}
	return schema, values, nil
}

// respond loads lead with its assignees and custom values.
func (h *LeadsHandler) respond(c *fiber.Ctx, status int, leadID uint) error {
	var lead models.Lead
	if err := h.DB.Preload("Agent").Preload("Manager").First(&lead, leadID).Error; err != nil {
		return respondError(c, err, "failed loading lead")
	}
	values, err := h.CaseFields.Values(c.Context(), lead.OrganisationID, lead.ID)
	if err != nil {
		return respondError(c, err, "failed loading custom fields")
	}
	return utils.Success(c, status, leadResponse{Lead: lead, StatusLabel: lead.Status.Label(), CustomFields: values})
}

func (h *LeadsHandler) List(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}

	query := scope.Leads(h.DB.Model(&models.Lead{}), services.ActionList)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("leads.status = ?", status)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(leads.first_name) LIKE ? OR LOWER(leads.last_name) LIKE ? OR LOWER(leads.email) LIKE ?", like, like, like)
	}

	var leads []models.Lead
	page, total, err := utils.FetchPage(c, query, &leads, "leads.created_at DESC, leads.id DESC", "Agent", "Manager")
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing leads")
	}

	values, err := h.valuesByLead(c.Context(), leads)
	if err != nil {
		return respondError(c, err, "failed loading custom fields")
	}
	rows := make([]leadResponse, len(leads))
	for i, lead := range leads {
		rows[i] = leadResponse{Lead: lead, StatusLabel: lead.Status.Label(), CustomFields: values[lead.ID]}
	}
	return utils.Paginated(c, rows, page, total)
}

func (h *LeadsHandler) valuesByLead(ctx context.Context, leads []models.Lead) (map[uint]map[string]any, error) {
	byOrg := map[uint][]uint{}
	for _, lead := range leads {
		byOrg[lead.OrganisationID] = append(byOrg[lead.OrganisationID], lead.ID)
	}
	result := make(map[uint]map[string]any, len(leads))
	for orgID, ids := range byOrg {
		values, err := h.CaseFields.ValuesFor(ctx, orgID, ids)
		if err != nil {
			return nil, err
		}
		for id, row := range values {
			result[id] = row
		}
	}
	return result, nil
}

type leadName struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// JSON lists the names of every lead for any signed-in user.
func (h *LeadsHandler) JSON(c *fiber.Ctx) error {
	var names []leadName
	if err := h.DB.Model(&models.Lead{}).Select("first_name", "last_name").Order("id ASC").Find(&names).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing leads")
	}
	if names == nil {
		names = []leadName{}
	}
	return c.JSON(fiber.Map{"qs": names})
}

// Schema returns the custom fields a lead form of the requester shows.
func (h *LeadsHandler) Schema(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	if scope.Empty || scope.OrganisationID == 0 {
		return utils.Success(c, fiber.StatusOK, []services.FieldSpec{})
	}
	schema, err := h.CaseFields.Schema(c.Context(), scope.OrganisationID)
	if err != nil {
		return respondError(c, err, "failed loading schema")
	}
	return utils.Success(c, fiber.StatusOK, schema)
}

func (h *LeadsHandler) Create(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	orgID, err := writableOrganisation(scope)
	if err != nil {
		return respondError(c, err, "failed resolving organisation")
	}

	var req leadRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	lead := models.Lead{Status: models.LeadStatusInProgress, OrganisationID: orgID}
	problems := map[string]string{}
	req.applyProfile(&lead, problems)
	if req.FirstName == nil {
		problems["firstName"] = "is required"
	}
	if req.LastName == nil {
		problems["lastName"] = "is required"
	}

	switch user.Tier {
	case models.TierAgent:
		lead.AgentID = &user.ID
	case models.TierManager:
		lead.ManagerID = &user.ID
	default:
		if err := h.applyTerms(user, &req, &lead, problems); err != nil {
			return respondError(c, err, "failed checking assignees")
		}
	}

	schema, values, err := h.customFields(c.Context(), orgID, req.CustomFields, problems)
	if err != nil {
		return respondError(c, err, "failed loading schema")
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&lead).Error; err != nil {
			return err
		}
		return h.CaseFields.Save(tx, lead.ID, schema, values)
	})
	if err != nil {
		return respondError(c, err, "failed creating lead")
	}

	logger.InfoWithUser(user.ID, "lead_created", map[string]interface{}{
		"lead_id":         lead.ID,
		"organisation_id": lead.OrganisationID,
	})
	audit(c, h.Audit, "lead.create", "lead", &lead.ID, map[string]interface{}{"status": lead.Status})

	return h.respond(c, fiber.StatusCreated, lead.ID)
}

func (h *LeadsHandler) find(c *fiber.Ctx, scope services.Scope, action services.Action) (*models.Lead, error) {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return nil, services.ErrNotFound
	}
	var lead models.Lead
	if err := scope.Leads(h.DB.Model(&models.Lead{}), action).Where("leads.id = ?", id).First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

func (h *LeadsHandler) Get(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	lead, err := h.find(c, scope, services.ActionDetail)
	if err != nil {
		return respondError(c, err, "failed loading lead")
	}
	return h.respond(c, fiber.StatusOK, lead.ID)
}

func (h *LeadsHandler) Update(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	lead, err := h.find(c, scope, services.ActionUpdate)
	if err != nil {
		return respondError(c, err, "failed loading lead")
	}

	var req leadRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	problems := map[string]string{}
	req.applyProfile(lead, problems)
	if privileged(user) {
		if err := h.applyTerms(user, &req, lead, problems); err != nil {
			return respondError(c, err, "failed checking assignees")
		}
	}
	schema, values, err := h.customFields(c.Context(), lead.OrganisationID, req.CustomFields, problems)
	if err != nil {
		return respondError(c, err, "failed loading schema")
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(lead).Error; err != nil {
			return err
		}
		return h.CaseFields.Save(tx, lead.ID, schema, values)
	})
	if err != nil {
		return respondError(c, err, "failed updating lead")
	}

	logger.InfoWithUser(user.ID, "lead_updated", map[string]interface{}{"lead_id": lead.ID})
	audit(c, h.Audit, "lead.update", "lead", &lead.ID, map[string]interface{}{"status": lead.Status})

	return h.respond(c, fiber.StatusOK, lead.ID)
}

// Delete removes a lead with its follow-ups, their files and its custom
// values.
func (h *LeadsHandler) Delete(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	lead, err := h.find(c, scope, services.ActionDelete)
	if err != nil {
		return respondError(c, err, "failed loading lead")
	}

	var keys []string
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.FollowUp{}).Where("lead_id = ? AND file_key IS NOT NULL", lead.ID).
			Pluck("file_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("lead_id = ?", lead.ID).Delete(&models.CaseValue{}).Error; err != nil {
			return err
		}
		if err := tx.Where("lead_id = ?", lead.ID).Delete(&models.FollowUp{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Lead{}, lead.ID).Error
	})
	if err != nil {
		return respondError(c, err, "failed deleting lead")
	}
	removeObjects(c, h.Storage, keys)

	logger.InfoWithUser(user.ID, "lead_deleted", map[string]interface{}{"lead_id": lead.ID})
	audit(c, h.Audit, "lead.delete", "lead", &lead.ID, nil)

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "lead deleted"})
}
