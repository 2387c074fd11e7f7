package handlers

import (
	"net/url"
	"strings"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

func (h *FoldersHandler) visibleDocument(c *fiber.Ctx) (*models.FolderDocument, error) {
	_, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return nil, err
	}
	id, err := parseID(c.Params("id"))
	if err != nil {
		return nil, services.ErrNotFound
	}
	var doc models.FolderDocument
	if err := scope.Documents(h.DB.Model(&models.FolderDocument{})).Where("folder_documents.id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func validLink(raw string) bool {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// CreateDocument files an uploaded file or an external link, in a folder or
// at the organisation root.
func (h *FoldersHandler) CreateDocument(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}

	doc := models.FolderDocument{Title: strings.TrimSpace(c.FormValue("title"))}
	if folderValue := strings.TrimSpace(c.FormValue("folderID")); folderValue != "" && folderValue != "0" {
		folderID, err := parseID(folderValue)
		if err != nil {
			return utils.ValidationError(c, map[string]string{"folderID": "is not a valid id"})
		}
		folder, err := h.visibleFolder(scope, folderID)
		if err != nil {
			return respondError(c, err, "failed loading folder")
		}
		doc.FolderID = &folder.ID
		doc.OrganisationID = folder.OrganisationID
	} else {
		orgID, err := writableOrganisation(scope)
		if err != nil {
			return respondError(c, err, "failed resolving organisation")
		}
		doc.OrganisationID = orgID
	}

	link := strings.TrimSpace(c.FormValue("url"))
	header, fileErr := c.FormFile("file")
	hasFile := fileErr == nil

	problems := map[string]string{}
	if doc.Title == "" {
		problems["title"] = "is required"
	}
	switch {
	case hasFile && link != "":
		problems["file"] = "provide either a file or a url, not both"
	case !hasFile && link == "":
		problems["file"] = "a file or a url is required"
	case link != "" && !validLink(link):
		problems["url"] = "must be an http or https address"
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	if hasFile {
		key, err := storeUpload(c, h.Storage, storage.DocumentDir(doc.OrganisationID, doc.FolderID), header)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
		}
		name := storage.CleanName(header.Filename)
		doc.FileKey = &key
		doc.FileName = &name
	} else {
		doc.URL = &link
	}

	if err := h.DB.Create(&doc).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating document")
	}

	logger.InfoWithUser(user.ID, "document_created", map[string]interface{}{
		"document_id":     doc.ID,
		"organisation_id": doc.OrganisationID,
		"has_file":        doc.HasFile(),
	})
	audit(c, h.Audit, "document.create", "document", &doc.ID, map[string]interface{}{"title": doc.Title})

	return utils.Success(c, fiber.StatusCreated, doc)
}

func (h *FoldersHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.visibleDocument(c)
	if err != nil {
		return respondError(c, err, "failed loading document")
	}
	return utils.Success(c, fiber.StatusOK, doc)
}

// UpdateDocument renames, refiles or replaces the content of a document.
// A new file or url replaces whichever the document held before; a
// folderID of 0 moves it to the organisation root.
func (h *FoldersHandler) UpdateDocument(c *fiber.Ctx) error {
	user, scope, err := currentScope(c, h.Visibility)
	if err != nil {
		return respondError(c, err, "failed resolving visibility")
	}
	doc, err := h.visibleDocument(c)
	if err != nil {
		return respondError(c, err, "failed loading document")
	}

	title, titleSent := formField(c, "title")
	folderValue, folderSent := formField(c, "folderID")
	link, linkSent := formField(c, "url")
	header, fileErr := c.FormFile("file")
	hasFile := fileErr == nil

	problems := map[string]string{}
	updates := map[string]interface{}{}
	if titleSent {
		if title == "" {
			problems["title"] = "cannot be empty"
		}
		updates["title"] = title
	}
	folderID := doc.FolderID
	if folderSent {
		if folderValue == "" || folderValue == "0" {
			folderID = nil
			updates["folder_id"] = nil
		} else if id, err := parseID(folderValue); err != nil {
			problems["folderID"] = "is not a valid id"
		} else {
			folder, err := h.visibleFolder(scope, id)
			if err != nil {
				return respondError(c, err, "failed loading folder")
			}
			if folder.OrganisationID != doc.OrganisationID {
				problems["folderID"] = "must belong to the same organisation"
			}
			folderID = &folder.ID
			updates["folder_id"] = folder.ID
		}
	}
	switch {
	case hasFile && linkSent && link != "":
		problems["file"] = "provide either a file or a url, not both"
	case linkSent && !hasFile && !validLink(link):
		problems["url"] = "must be an http or https address"
	}
	if len(problems) > 0 {
		return utils.ValidationError(c, problems)
	}

	var replaced string
	if hasFile || (linkSent && link != "") {
		if doc.HasFile() {
			replaced = *doc.FileKey
		}
		if hasFile {
			key, err := storeUpload(c, h.Storage, storage.DocumentDir(doc.OrganisationID, folderID), header)
			if err != nil {
				return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
			}
			updates["file_key"] = key
			updates["file_name"] = storage.CleanName(header.Filename)
			updates["url"] = nil
		} else {
			updates["url"] = link
			updates["file_key"] = nil
			updates["file_name"] = nil
		}
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(doc).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating document")
	}
	removeObjects(c, h.Storage, []string{replaced})

	var updated models.FolderDocument
	if err := h.DB.First(&updated, doc.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading document")
	}

	logger.InfoWithUser(user.ID, "document_updated", map[string]interface{}{
		"document_id":     updated.ID,
		"organisation_id": updated.OrganisationID,
		"has_file":        updated.HasFile(),
	})
	audit(c, h.Audit, "document.update", "document", &updated.ID, map[string]interface{}{"title": updated.Title})

	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *FoldersHandler) DownloadDocument(c *fiber.Ctx) error {
	doc, err := h.visibleDocument(c)
	if err != nil {
		return respondError(c, err, "failed loading document")
	}
	if !doc.HasFile() {
		return utils.Error(c, fiber.StatusNotFound, "document has no file")
	}
	return sendObject(c, h.Storage, *doc.FileKey, *doc.FileName)
}

// DocumentURL returns a short-lived link to the stored file, or the
// external link of a url document.
func (h *FoldersHandler) DocumentURL(c *fiber.Ctx) error {
	doc, err := h.visibleDocument(c)
	if err != nil {
		return respondError(c, err, "failed loading document")
	}
	if !doc.HasFile() {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"url": doc.URL})
	}
	link, err := h.Storage.PresignedGetURL(c.Context(), *doc.FileKey, h.URLExpiry)
	if err != nil {
		return respondError(c, err, "failed signing download url")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url":       link,
		"expiresIn": int(h.URLExpiry.Seconds()),
	})
}

func (h *FoldersHandler) DeleteDocument(c *fiber.Ctx) error {
	doc, err := h.visibleDocument(c)
	if err != nil {
		return respondError(c, err, "failed loading document")
	}
	if err := h.DB.Delete(&models.FolderDocument{}, doc.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting document")
	}
	if doc.HasFile() {
		removeObjects(c, h.Storage, []string{*doc.FileKey})
	}

	audit(c, h.Audit, "document.delete", "document", &doc.ID, map[string]interface{}{"title": doc.Title})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "document deleted"})
}
