package handlers

import (
	"errors"
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

var errFolderCycle = errors.New("a folder cannot be moved into itself")

// FoldersHandler serves the organisation document tree: folders and the
// documents filed in them.
type FoldersHandler struct {
	DB         *gorm.DB
	Visibility *services.VisibilityService
	Storage    storage.ObjectStore
	Audit      *services.AuditService
	URLExpiry  time.Duration
}

func NewFoldersHandler(db *gorm.DB, visibility *services.VisibilityService, store storage.ObjectStore, audit *services.AuditService, urlExpiry time.Duration) *FoldersHandler {
	return &FoldersHandler{DB: db, Visibility: visibility, Storage: store, Audit: audit, URLExpiry: urlExpiry}
}

type folderContents struct {
	Folder    *models.Folder          `json:"folder,omitempty"`
	Path      []models.Folder         `json:"path"`
	Folders   []models.Folder         `json:"folders"`
	Documents []models.FolderDocument `json:"documents"`
}

func (h *FoldersHandler) visibleFolder(scope services.Scope, id uint) (*models.Folder, error) {
	var folder models.Folder
	if err := scope.Folders(h.DB.Model(&models.Folder{})).Where("folders.id = ?", id).First(&folder).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

func (h *FoldersHandler) contents(scope services.Scope, folder *models.Folder) (*folderContents, error) {
	result := &folderContents{Folder: folder, Path: []models.Folder{}}

	folders := scope.Folders(h.DB.Model(&models.Folder{}))
	documents := scope.Documents(h.DB.Model(&models.FolderDocument{}))
	if folder == nil {
		folders = folders.Where("folders.parent_id IS NULL")
		documents = documents.Where("folder_documents.folder_id IS NULL")
	} else {
		folders = folders.Where("folders.parent_id = ?", folder.ID)
		documents = documents.Where("folder_documents.folder_id = ?", folder.ID)

		path, err := h.ancestors(h.DB, folder)
		if err != nil {
			return nil, err
		}
		result.Path = path
	}

	if err := folders.Order("folders.name ASC").Find(&result.Folders).Error; err != nil {
		return nil, err
	}
	if err := documents.Order("folder_documents.title ASC").Find(&result.Documents).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// ancestors returns the folders from the root down to folder's parent. A
// parent chain that loops back on itself fails with errFolderCycle.
func (h *FoldersHandler) ancestors(db *gorm.DB, folder *models.Folder) ([]models.Folder, error) {
	path := []models.Folder{}
	seen := map[uint]bool{folder.ID: true}
	parentID := folder.ParentID
	for parentID != nil {
		if seen[*parentID] {
			return nil, errFolderCycle
		}
		seen[*parentID] = true

		var parent models.Folder
		if err := db.First(&parent, *parentID).Error; err != nil {
			return nil, err
		}
		path = append([]models.Folder{parent}, path...)
		parentID = parent.ParentID
	}
	return path, nil
}

func (h *FoldersHandler) Root(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	result, err := h.contents(scope, nil)
	if err != nil {
		return respondError(c, err, "failed listing folders")
	}
	return utils.Success(c, fiber.StatusOK, result)
}

func (h *FoldersHandler) Get(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}
	folder, err := h.visibleFolder(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading folder")
	}
	result, err := h.contents(scope, folder)
	if err != nil {
		return respondError(c, err, "failed listing folder")
	}
	return utils.Success(c, fiber.StatusOK, result)
}

type folderRequest struct {
	Name     *string `json:"name"`
	ParentID *uint   `json:"parentID"`
}

func (h *FoldersHandler) Create(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}

	var req folderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return utils.ValidationError(c, map[string]string{"name": "is required"})
	}

	folder := models.Folder{Name: strings.TrimSpace(*req.Name)}
	if req.ParentID != nil && *req.ParentID != 0 {
		parent, err := h.visibleFolder(scope, *req.ParentID)
		if err != nil {
			return respondError(c, err, "failed loading parent folder")
		}
		folder.ParentID = &parent.ID
		folder.OrganisationID = parent.OrganisationID
	} else {
		orgID, err := writableOrganisation(scope)
		if err != nil {
			return respondError(c, err, "failed resolving organisation")
		}
		folder.OrganisationID = orgID
	}

	if err := h.DB.Create(&folder).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating folder")
	}

	logger.InfoWithUser(user.ID, "folder_created", map[string]interface{}{
		"folder_id":       folder.ID,
		"organisation_id": folder.OrganisationID,
	})
	audit(c, h.Audit, "folder.create", "folder", &folder.ID, map[string]interface{}{"name": folder.Name})

	return utils.Success(c, fiber.StatusCreated, folder)
}

// Update renames a folder or moves it. A parentID of 0 moves it to the
// root.
func (h *FoldersHandler) Update(c *fiber.Ctx) error {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}
	folder, err := h.visibleFolder(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading folder")
	}

	var req folderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.ValidationError(c, map[string]string{"name": "cannot be empty"})
		}
		updates["name"] = name
	}
	if req.ParentID != nil {
		if *req.ParentID == 0 {
			updates["parent_id"] = nil
		} else {
			parent, err := h.visibleFolder(scope, *req.ParentID)
			if err != nil {
				return respondError(c, err, "failed loading parent folder")
			}
			if parent.OrganisationID != folder.OrganisationID {
				return utils.ValidationError(c, map[string]string{"parentID": "must belong to the same organisation"})
			}
			if err := h.checkMove(folder.ID, parent); err != nil {
				if errors.Is(err, errFolderCycle) {
					return utils.ValidationError(c, map[string]string{"parentID": err.Error()})
				}
				return respondError(c, err, "failed checking folder tree")
			}
			updates["parent_id"] = parent.ID
		}
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(folder).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating folder")
	}
	if err := h.DB.First(folder, folder.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading folder")
	}

	audit(c, h.Audit, "folder.update", "folder", &folder.ID, updates)
	return utils.Success(c, fiber.StatusOK, folder)
}

// checkMove rejects moving folderID below itself, however deep the new
// parent sits.
func (h *FoldersHandler) checkMove(folderID uint, parent *models.Folder) error {
	if parent.ID == folderID {
		return errFolderCycle
	}
	path, err := h.ancestors(h.DB, parent)
	if err != nil {
		return err
	}
	for _, ancestor := range path {
		if ancestor.ID == folderID {
			return errFolderCycle
		}
	}
	return nil
}

// Delete removes a folder, every folder below it and their documents.
func (h *FoldersHandler) Delete(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}
	folder, err := h.visibleFolder(scope, id)
	if err != nil {
		return respondError(c, err, "failed loading folder")
	}

	var keys []string
	var removed int
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		ids := []uint{folder.ID}
		seen := map[uint]bool{folder.ID: true}
		frontier := []uint{folder.ID}
		for len(frontier) > 0 {
			var children []uint
			if err := tx.Model(&models.Folder{}).Where("parent_id IN ?", frontier).Pluck("id", &children).Error; err != nil {
				return err
			}
			frontier = frontier[:0]
			for _, id := range children {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
					frontier = append(frontier, id)
				}
			}
		}
		removed = len(ids)

		if err := tx.Model(&models.FolderDocument{}).Where("folder_id IN ? AND file_key IS NOT NULL", ids).
			Pluck("file_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("folder_id IN ?", ids).Delete(&models.FolderDocument{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Folder{}).Error
	})
	if err != nil {
		return respondError(c, err, "failed deleting folder")
	}
	removeObjects(c, h.Storage, keys)

	logger.InfoWithUser(user.ID, "folder_deleted", map[string]interface{}{
		"folder_id":       folder.ID,
		"folders_removed": removed,
		"files_removed":   len(keys),
	})
	audit(c, h.Audit, "folder.delete", "folder", &folder.ID, map[string]interface{}{"name": folder.Name})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "folder deleted"})
}
