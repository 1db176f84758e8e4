// handlers_upload.go - File upload operation handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/storage"
)

const (
	defaultRecentFiles = 20
	maxRecentFiles     = 200
)

// FilePolicy controls which uploads are accepted and whether files may be deleted.
type FilePolicy struct {
	AllowedTypes      []string
	AllowFileDeletion bool
}

// UploadHandlerImpl implements the FileHandler interface
type UploadHandlerImpl struct {
	store  storage.Store
	policy FilePolicy
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store, policy FilePolicy) FileHandler {
	return &UploadHandlerImpl{
		store:  store,
		policy: policy,
	}
}

// HandleUploadFile accepts a multipart "file" field and saves it to storage
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	info, err := saveUpload(c, h.store, h.policy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns a list of recently uploaded files
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentFiles
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return NewValidationError("limit")
		}
		limit = min(n, maxRecentFiles)
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes an uploaded file
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	if !h.policy.AllowFileDeletion {
		return NewForbiddenError("file deletion is disabled")
	}

	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError("file", id)
		}
		return NewInternalError("failed to delete file", err)
	}

	return c.NoContent(http.StatusNoContent)
}

// saveUpload stores the multipart "file" field after checking its extension.
func saveUpload(c echo.Context, store storage.Store, policy FilePolicy) (*models.FileInfo, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, NewBadRequestError("no file provided", err)
	}

	if !storage.HasAllowedExtension(file.Filename, policy.AllowedTypes) {
		return nil, NewUnsupportedTypeError(file.Filename, policy.AllowedTypes)
	}

	src, err := file.Open()
	if err != nil {
		return nil, NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := store.Save(file.Filename, src)
	if err != nil {
		return nil, NewInternalError("failed to save file", err)
	}
	return info, nil
}
