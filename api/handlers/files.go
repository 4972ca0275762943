package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"form-webhook-sync/internal/objectstore"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FilesHandler serves stored objects behind signed URLs.
type FilesHandler struct {
	logger  *zap.Logger
	objects objectstore.Store
	signer  *objectstore.Signer
}

func NewFilesHandler(logger *zap.Logger, objects objectstore.Store, signer *objectstore.Signer) *FilesHandler {
	return &FilesHandler{logger: logger, objects: objects, signer: signer}
}

func (h *FilesHandler) Download(c *gin.Context) {
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	if objectPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "File not found"})
		return
	}

	err := h.signer.Verify(objectPath, c.Query("expires"), c.Query("signature"))
	switch {
	case errors.Is(err, objectstore.ErrSignatureExpired):
		c.JSON(http.StatusGone, gin.H{"success": false, "error": "Link expired"})
		return
	case err != nil:
		h.logger.Warn("Rejected file download", zap.String("path", objectPath), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Invalid signature"})
		return
	}

	data, contentType, err := h.objects.Get(c.Request.Context(), objectPath)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "File not found"})
			return
		}
		h.logger.Error("Failed to read object", zap.String("path", objectPath), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Storage unavailable"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(objectPath)))
	c.Data(http.StatusOK, contentType, data)
}
