package dirsync

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/connection"
	"github.com/dhawalhost/dirsync/internal/provider"
	"github.com/dhawalhost/dirsync/pkg/middleware"
)

// HTTPHandler exposes sync triggers, sync logs and attribute mapping rules.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a sync HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers sync routes under the connections resource.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/connections/:id")
	{
		g.POST("/sync", h.triggerFullSync)
		g.POST("/sync/delta", h.triggerDeltaSync)
		g.GET("/sync/logs", h.listSyncLogs)

		g.GET("/attribute-mappings", h.listAttributeMappings)
		g.POST("/attribute-mappings", h.createAttributeMapping)
		g.DELETE("/attribute-mappings/:mappingID", h.deleteAttributeMapping)
	}
}

func (h *HTTPHandler) orgID(c *gin.Context) (string, bool) {
	orgID, err := middleware.OrgIDFromGinContext(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id required"})
		return "", false
	}
	return orgID, true
}

func (h *HTTPHandler) triggerFullSync(c *gin.Context) {
	h.triggerSync(c, SyncFull)
}

func (h *HTTPHandler) triggerDeltaSync(c *gin.Context) {
	h.triggerSync(c, SyncIncremental)
}

func (h *HTTPHandler) triggerSync(c *gin.Context, syncType SyncType) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	var (
		result SyncResult
		err    error
	)
	if syncType == SyncIncremental {
		result, err = h.svc.RunDeltaSync(c.Request.Context(), orgID, c.Param("id"))
	} else {
		result, err = h.svc.RunFullSync(c.Request.Context(), orgID, c.Param("id"))
	}

	switch {
	case errors.Is(err, connection.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
	case errors.Is(err, connection.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrDeltaNotSupported):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Sync run failed",
			zap.String("connection_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, result)
	}
}

func (h *HTTPHandler) listSyncLogs(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.svc.ListSyncLogs(c.Request.Context(), orgID, c.Param("id"), limit)
	if errors.Is(err, connection.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to list sync logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *HTTPHandler) listAttributeMappings(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	mappings, err := h.svc.ListAttributeMappings(c.Request.Context(), orgID, c.Param("id"))
	if errors.Is(err, connection.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to list attribute mappings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attribute_mappings": mappings})
}

func (h *HTTPHandler) createAttributeMapping(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	var m AttributeMapping
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.ConnectionID = c.Param("id")

	id, err := h.svc.CreateAttributeMapping(c.Request.Context(), orgID, m)
	if errors.Is(err, connection.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *HTTPHandler) deleteAttributeMapping(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	err := h.svc.DeleteAttributeMapping(c.Request.Context(), orgID, c.Param("id"), c.Param("mappingID"))
	if errors.Is(err, connection.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete attribute mapping", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
