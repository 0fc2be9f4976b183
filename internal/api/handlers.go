package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/auth"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/metrics"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/report"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/service/account"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/service/dataset"
)

const defaultMaxUploadBytes int64 = 10 << 20

// OwnerResetter drops queued analysis work of a user.
type OwnerResetter interface {
	ResetOwner(ownerID int64)
}

// Handler wires HTTP routes to the account, dataset and report services.
type Handler struct {
	accounts  *account.Service
	auth      *auth.Service
	pipeline  *dataset.Pipeline
	reports   *report.Service
	workers   OwnerResetter
	metrics   *metrics.Metrics
	maxUpload int64
}

// NewHandler constructs a Handler instance.
func NewHandler(accounts *account.Service, authService *auth.Service, pipeline *dataset.Pipeline, reports *report.Service, workers OwnerResetter, m *metrics.Metrics, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{
		accounts:  accounts,
		auth:      authService,
		pipeline:  pipeline,
		reports:   reports,
		workers:   workers,
		metrics:   m,
		maxUpload: maxUpload,
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.OwnerIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestID())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	authed.POST("/users/logout", h.logoutUser)
	authed.DELETE("/users/me", h.deleteUser)

	authed.POST("/datasets", h.uploadDataset)
	authed.POST("/datasets/validate", h.validateDataset)
	authed.GET("/datasets", h.listDatasets)
	authed.GET("/datasets/:id", h.getDataset)
	authed.GET("/datasets/:id/summary", h.getSummary)
	authed.GET("/datasets/:id/report", h.getReport)
	authed.DELETE("/datasets/:id", h.deleteDataset)
	authed.GET("/reports/available", h.availableReports)

	authed.GET("/history/status", h.historyStatus)
	authed.GET("/history/settings", h.historySettings)
	authed.GET("/history/preview", h.historyPreview)
	authed.POST("/history/cleanup", h.historyCleanup)
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.TokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.workers != nil {
		h.workers.ResetOwner(id)
	}
	ids := h.ownedIDs(c.Request.Context(), id)
	if err := h.accounts.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.reports.Invalidate(c.Request.Context(), id, ids)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownedIDs(ctx context.Context, ownerID int64) []int64 {
	list, err := h.pipeline.Store().ListByOwner(ctx, ownerID)
	if err != nil {
		log.Printf("list datasets of user %d: %v", ownerID, err)
		return nil
	}
	ids := make([]int64, 0, len(list))
	for _, rec := range list {
		ids = append(ids, rec.ID)
	}
	return ids
}

// Dataset interface
func (h *Handler) uploadDataset(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	fileName, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	strict, err := parseBool(c.PostForm("strict"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strict flag"})
		return
	}
	res, err := h.pipeline.Ingest(c.Request.Context(), dataset.Upload{
		OwnerID:     userID,
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		FileName:    fileName,
		Data:        data,
		Strict:      strict,
	})
	if err != nil {
		var perr *analysis.ProcessingError
		if errors.As(err, &perr) && res != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   err.Error(),
				"dataset": res.Dataset,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"dataset": res.Dataset,
		"summary": res.Summary,
		"evicted": nonNilIDs(res.Evicted),
	})
}

func (h *Handler) validateDataset(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	fileName, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	check, err := h.pipeline.Validate(fileName, data, true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "check": check})
}

func (h *Handler) listDatasets(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	list, err := h.pipeline.Store().ListByOwner(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = make([]models.Dataset, 0)
	}
	c.JSON(http.StatusOK, gin.H{"datasets": list})
}

func (h *Handler) getDataset(c *gin.Context) {
	userID, id, ok := h.datasetParams(c)
	if !ok {
		return
	}
	rec, err := h.pipeline.Store().Get(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": rec})
}

func (h *Handler) getSummary(c *gin.Context) {
	userID, id, ok := h.datasetParams(c)
	if !ok {
		return
	}
	summary, err := h.pipeline.Store().GetSummary(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (h *Handler) getReport(c *gin.Context) {
	userID, id, ok := h.datasetParams(c)
	if !ok {
		return
	}
	rep, err := h.reports.Build(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if strings.EqualFold(c.Query("format"), "text") {
		c.String(http.StatusOK, report.RenderText(rep))
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

func (h *Handler) availableReports(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	list, err := h.pipeline.Store().ListReportable(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	reports := make([]gin.H, 0, len(list))
	for _, rec := range list {
		reportURL := "/api/datasets/" + strconv.FormatInt(rec.ID, 10) + "/report"
		reports = append(reports, gin.H{
			"dataset_id":             rec.ID,
			"name":                   rec.Name,
			"description":            rec.Description,
			"created_at":             rec.CreatedAt,
			"row_count":              rec.RowCount,
			"column_count":           rec.ColumnCount,
			"has_equipment_analysis": rec.HasEquipment,
			"report_url":             reportURL,
			"text_url":               reportURL + "?format=text",
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(reports), "reports": reports})
}

func (h *Handler) deleteDataset(c *gin.Context) {
	userID, id, ok := h.datasetParams(c)
	if !ok {
		return
	}
	if err := h.pipeline.Store().Delete(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, err)
		return
	}
	h.reports.Invalidate(c.Request.Context(), userID, []int64{id})
	c.Status(http.StatusNoContent)
}

// History interface
func (h *Handler) historyStatus(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	st, err := h.pipeline.History().Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": st})
}

func (h *Handler) historySettings(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	st, err := h.pipeline.History().Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"retention_limit":         h.pipeline.History().Limit(),
		"dataset_count":           st.TotalDatasets,
		"processed_dataset_count": st.ProcessedDatasets,
		"auto_cleanup_enabled":    true,
		"cleanup_trigger":         "on_processed_upload",
	})
}

func (h *Handler) historyPreview(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	list, err := h.pipeline.History().Preview(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"retention_limit": h.pipeline.History().Limit(),
		"would_evict":     list,
	})
}

type cleanupRequest struct {
	Keep int `json:"keep"`
}

func (h *Handler) historyCleanup(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req cleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Keep < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keep must not be negative"})
		return
	}
	// History's eviction hook drops cached reports of removed datasets.
	removed, err := h.pipeline.History().Cleanup(c.Request.Context(), userID, req.Keep)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": nonNilIDs(removed)})
}

func (h *Handler) datasetParams(c *gin.Context) (int64, int64, bool) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dataset id"})
		return 0, 0, false
	}
	return userID, id, true
}

func (h *Handler) readUpload(c *gin.Context) (string, []byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return "", nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return "", nil, false
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return "", nil, false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return "", nil, false
	}
	return filepath.Base(file.Filename), data, true
}

// writeError maps service errors onto HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *analysis.ValidationError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if len(verr.Missing) > 0 {
			body["missing_roles"] = verr.Missing
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, analysis.ErrEmptyDataset), errors.Is(err, analysis.ErrNoColumns):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dataset.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "dataset not found"})
	case errors.Is(err, dataset.ErrNotProcessed), errors.Is(err, report.ErrIncomplete):
		c.JSON(http.StatusConflict, gin.H{"error": "dataset has not been processed"})
	case errors.Is(err, dataset.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	default:
		log.Printf("request %s: %v", c.GetString(requestIDKey), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseBool(v string) (bool, error) {
	if strings.TrimSpace(v) == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
