package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/mail"
	"strconv"
	"strings"

	"github.com/djcrm/crm/internal/middleware"
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var errUnauthorized = errors.New("unauthorized")

func parseID(value string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return uint(id), nil
}

func getRequestID(c *fiber.Ctx) string {
	return middleware.GetRequestID(c)
}

func currentUser(c *fiber.Ctx) *models.User {
	return middleware.GetCurrentUser(c)
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}

// currentScope returns the authenticated user and what it may see.
func currentScope(c *fiber.Ctx, visibility *services.VisibilityService) (*models.User, services.Scope, error) {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return nil, services.Scope{}, errUnauthorized
	}
	scope, err := visibility.Resolve(c.Context(), user)
	if err != nil {
		return nil, services.Scope{}, err
	}
	return user, scope, nil
}

// writableOrganisation is the organisation new rows of the requester land
// in. Orphaned agents and managers have none.
func writableOrganisation(scope services.Scope) (uint, error) {
	if scope.Empty || scope.OrganisationID == 0 {
		return 0, services.ErrSupervisorNotFound
	}
	return scope.OrganisationID, nil
}

// respondError maps service errors onto the response envelope.
func respondError(c *fiber.Ctx, err error, fallback string) error {
	var problems services.ValidationErrors
	switch {
	case errors.Is(err, errUnauthorized):
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	case errors.As(err, &problems):
		return utils.ValidationError(c, problems)
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, services.ErrForbidden):
		if user := middleware.GetCurrentUser(c); user != nil {
			return middleware.SoftDeny(c, user)
		}
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrSupervisorNotFound):
		return utils.Error(c, fiber.StatusBadRequest, services.ErrSupervisorNotFound.Error())
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrInvalidSupervisor),
		errors.Is(err, services.ErrInvalidCaseField):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	default:
		logger.Error("request_failed", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, fallback)
	}
}

func audit(c *fiber.Ctx, svc *services.AuditService, action, resourceType string, resourceID *uint, details map[string]interface{}) {
	entry := services.AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	}
	if user := middleware.GetCurrentUser(c); user != nil {
		id := user.ID
		entry.UserID = &id
	}
	svc.LogAsync(entry)
}

// storeUpload writes an uploaded file under dir with a collision-free name
// and returns its key.
func storeUpload(c *fiber.Ctx, store storage.ObjectStore, dir string, header *multipart.FileHeader) (string, error) {
	key, err := storage.UniqueKey(c.Context(), store, dir, header.Filename)
	if err != nil {
		return "", err
	}
	file, err := header.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := store.Upload(c.Context(), key, file, header.Size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// formField reports a multipart field and whether it was sent at all, so
// updates can tell a cleared value from an untouched one.
func formField(c *fiber.Ctx, name string) (string, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		return "", false
	}
	values, ok := form.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(values[0]), true
}

// removeObjects deletes stored files after their rows are gone. Failures
// leave orphaned objects behind and are only logged.
func removeObjects(c *fiber.Ctx, store storage.ObjectStore, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := store.Delete(c.Context(), key); err != nil {
			logger.Warn("stored_file_orphaned", map[string]interface{}{
				"object_key": key,
				"error":      err.Error(),
			})
		}
	}
}

func sendObject(c *fiber.Ctx, store storage.ObjectStore, key, fileName string) error {
	obj, err := store.Download(c.Context(), key)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed downloading file")
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set("Content-Type", contentType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	return c.SendStream(obj, int(obj.Size))
}

// timeRangeParams collects the report filter query parameters.
func timeRangeParams(c *fiber.Ctx) map[string]string {
	params := map[string]string{}
	for _, key := range []string{"time_range", "year", "quarter_year", "quarter", "month_year", "month", "start_datetime", "end_datetime"} {
		if value := c.Query(key); value != "" {
			params[key] = value
		}
	}
	return params
}
