package connection

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/audit"
	"github.com/dhawalhost/dirsync/internal/events"
	"github.com/dhawalhost/dirsync/internal/webhooks"
	"github.com/dhawalhost/dirsync/pkg/middleware"
)

// HTTPHandler handles directory connection HTTP requests.
type HTTPHandler struct {
	svc        Service
	auditor    *audit.Service
	dispatcher *events.Dispatcher
	logger     *zap.Logger
}

// NewHTTPHandler creates a connection HTTP handler. auditor and dispatcher
// may be nil.
func NewHTTPHandler(svc Service, auditor *audit.Service, dispatcher *events.Dispatcher, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, auditor: auditor, dispatcher: dispatcher, logger: logger}
}

// RegisterRoutes registers connection routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/connections")
	{
		g.GET("", h.listConnections)
		g.POST("", h.createConnection)
		g.GET("/:id", h.getConnection)
		g.PUT("/:id", h.updateConnection)
		g.DELETE("/:id", h.deleteConnection)
		g.POST("/test", h.testConnection)
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

// record writes the audit entry for a connection lifecycle change and, for
// creates and deletes, fans out the matching webhook event.
func (h *HTTPHandler) record(c *gin.Context, orgID, action, connID string) {
	h.auditor.Record(c.Request.Context(), audit.Entry{
		OrgID:        orgID,
		Actor:        c.GetString("actor"),
		Action:       action,
		ResourceType: "connection",
		ResourceID:   connID,
	})

	var eventType string
	switch action {
	case audit.ActionConnectionCreated:
		eventType = webhooks.EventConnectionCreated
	case audit.ActionConnectionDeleted:
		eventType = webhooks.EventConnectionDeleted
	default:
		return
	}
	h.dispatcher.Publish(c.Request.Context(), orgID, eventType, map[string]string{
		"connection_id": connID,
	})
}

func (h *HTTPHandler) listConnections(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	conns, err := h.svc.List(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("Failed to list connections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": redactAll(conns)})
}

func (h *HTTPHandler) createConnection(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.svc.Create(c.Request.Context(), orgID, in)
	if err != nil {
		h.logger.Error("Failed to create connection", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.record(c, orgID, audit.ActionConnectionCreated, id)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *HTTPHandler) getConnection(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	conn, err := h.svc.Get(c.Request.Context(), orgID, c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get connection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, redact(conn))
}

func (h *HTTPHandler) updateConnection(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in.ID = c.Param("id")

	err := h.svc.Update(c.Request.Context(), orgID, in)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to update connection", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.record(c, orgID, audit.ActionConnectionUpdated, in.ID)
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) deleteConnection(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	err := h.svc.Delete(c.Request.Context(), orgID, c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete connection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.record(c, orgID, audit.ActionConnectionDeleted, c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) testConnection(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.Test(c.Request.Context(), in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// redact blanks stored secrets before a connection leaves the API.
func redact(conn Connection) Connection {
	conn.Config.ClientSecret = ""
	conn.Config.ServiceAccountKey = ""
	conn.Config.APIToken = ""
	conn.Config.OneLoginClientSecret = ""
	conn.Config.LDAPBindPassword = ""
	return conn
}

func redactAll(conns []Connection) []Connection {
	out := make([]Connection, len(conns))
	for i, c := range conns {
		out[i] = redact(c)
	}
	return out
}
