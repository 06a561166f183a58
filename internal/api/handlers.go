package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docquery/internal/engine"
	"docquery/internal/extract"
	"docquery/internal/ingest"
	"docquery/internal/models"
	"docquery/internal/store"
)

// Handler wires HTTP routes to the query engine and ingestion pipeline.
type Handler struct {
	store    *store.Store
	ingest   *ingest.Service
	engine   *engine.Service
	exports  *extract.Service
	fileBase string
}

func NewHandler(st *store.Store, ingestSvc *ingest.Service, engineSvc *engine.Service, exportSvc *extract.Service, fileBase string) *Handler {
	return &Handler{
		store:    st,
		ingest:   ingestSvc,
		engine:   engineSvc,
		exports:  exportSvc,
		fileBase: fileBase,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.POST("/tenants", h.createTenant)

	tenantRoutes := api.Group("/tenants/:tenant_id")
	tenantRoutes.Use(h.requireTenant())
	tenantRoutes.POST("/documents", h.uploadDocument)
	tenantRoutes.GET("/documents/:id", h.getDocument)
	tenantRoutes.POST("/documents/:id/process", h.processDocument)
	tenantRoutes.POST("/documents/:id/embed", h.embedDocument)
	tenantRoutes.GET("/documents/:id/index", h.documentIndex)
	tenantRoutes.DELETE("/documents/:id", h.deleteDocument)
	tenantRoutes.POST("/query", h.query)
	tenantRoutes.POST("/conversations/:id/close", h.closeConversation)
	tenantRoutes.GET("/exports/:export_id", h.getExport)
}

// requireTenant validates the tenant path parameter and stashes it in the
// request context. Tenant ids never come from request bodies.
func (h *Handler) requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := strconv.ParseInt(c.Param("tenant_id"), 10, 64)
		if err != nil || tenantID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
			return
		}
		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

func tenantIDFrom(c *gin.Context) int64 {
	return c.GetInt64("tenant_id")
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

// respondError translates the service error taxonomy into HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.Is(err, models.ErrProviderFailure), errors.Is(err, models.ErrBatchMismatch):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createTenant(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	tenant, err := h.store.CreateTenant(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         tenant.ID,
		"name":       tenant.Name,
		"created_at": tenant.CreatedAt,
	})
}

const maxUploadBytes = 50 << 20 // 50 MB

var allowedContentTypes = []string{
	"application/pdf",
	"text/csv",
	"text/plain",
	"text/markdown",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/zip", // xlsx containers detect as zip
	"application/octet-stream",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) uploadDocument(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	ownerID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	filename := filepath.Base(file.Filename)
	destDir, destPath, finalName := h.uniqueFilePath(tenantID, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}

	doc, err := h.store.CreateDocument(c.Request.Context(), models.Document{
		TenantID:   tenantID,
		OwnerID:    ownerID,
		Name:       finalName,
		StoredPath: destPath,
		MimeType:   contentType,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         doc.ID,
		"name":       doc.Name,
		"kind":       doc.Kind,
		"status":     doc.Status,
		"created_at": doc.CreatedAt,
	})
}

func (h *Handler) getDocument(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.store.GetDocument(c.Request.Context(), tenantID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) processDocument(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	count, err := h.ingest.ProcessDocument(c.Request.Context(), tenantID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "chunks": count})
}

func (h *Handler) embedDocument(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	embedded, err := h.ingest.EmbedPendingChunks(c.Request.Context(), tenantID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "embedded": embedded})
}

func (h *Handler) documentIndex(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.store.GetDocument(c.Request.Context(), tenantID, id); err != nil {
		respondError(c, err)
		return
	}
	tocChunks, err := h.store.TOCChunks(c.Request.Context(), tenantID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	entries := make([]string, 0, len(tocChunks))
	for _, chunk := range tocChunks {
		entries = append(entries, chunk.Content)
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "entries": entries})
}

func (h *Handler) deleteDocument(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.ingest.DeleteDocument(c.Request.Context(), tenantID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) query(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	var req struct {
		UserID     int64  `json:"user_id"`
		DocumentID int64  `json:"document_id"`
		Question   string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	answer, err := h.engine.Answer(c.Request.Context(), engine.Query{
		TenantID:   tenantID,
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (h *Handler) closeConversation(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.CloseConversation(c.Request.Context(), tenantID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getExport(c *gin.Context) {
	tenantID := tenantIDFrom(c)
	exportID := strings.TrimSpace(c.Param("export_id"))
	if exportID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export id"})
		return
	}
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	rows, err := h.exports.GetExport(c.Request.Context(), exportID, tenantID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"export_id": exportID, "rows": rows, "total": len(rows)})
}

func (h *Handler) filePath(tenantID int64, filename string) (string, string) {
	destDir := filepath.Join(h.fileBase, strconv.FormatInt(tenantID, 10))
	return destDir, filepath.Join(destDir, filename)
}

func (h *Handler) uniqueFilePath(tenantID int64, filename string) (string, string, string) {
	destDir, destPath := h.filePath(tenantID, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := h.filePath(tenantID, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return destDir, filepath.Join(destDir, fallback), fallback
}
