package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
	"telegram-warehouse/internal/repository"
)

const maxLimit = 500

var errInternal = gin.H{"error": "internal server error"}

// Handler serves the analytics endpoints.
type Handler struct {
	repo   repository.AnalyticsRepository
	logger *zap.Logger
}

// NewHandler creates a new analytics handler.
func NewHandler(repo repository.AnalyticsRepository, logger *zap.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	analytics := r.Group("/analytics")
	{
		analytics.GET("/channel-activity", h.ChannelActivity)
		analytics.GET("/search", h.Search)
		analytics.GET("/visual-report", h.VisualReport)
		analytics.GET("/detections", h.Detections)
		analytics.GET("/top-products", h.TopProducts)
	}

	r.GET("/health", h.Health)
}

// ChannelActivity handles GET /analytics/channel-activity
func (h *Handler) ChannelActivity(c *gin.Context) {
	activity, err := h.repo.ChannelActivity(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to get channel activity", err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

// Search handles GET /analytics/search?query=&limit=
func (h *Handler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter is required"})
		return
	}
	limit, ok := h.limit(c, 10)
	if !ok {
		return
	}
	hits, err := h.repo.SearchMessages(c.Request.Context(), query, limit)
	if err != nil {
		h.fail(c, "Failed to search messages", err)
		return
	}
	c.JSON(http.StatusOK, hits)
}

// VisualReport handles GET /analytics/visual-report
func (h *Handler) VisualReport(c *gin.Context) {
	report, err := h.repo.VisualReport(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to get visual report", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Detections handles GET /analytics/detections?limit=&class=
func (h *Handler) Detections(c *gin.Context) {
	limit, ok := h.limit(c, 50)
	if !ok {
		return
	}
	detections, err := h.repo.Detections(c.Request.Context(), strings.TrimSpace(c.Query("class")), limit)
	if err != nil {
		h.fail(c, "Failed to get detections", err)
		return
	}
	c.JSON(http.StatusOK, detections)
}

// TopProducts handles GET /analytics/top-products?limit=
func (h *Handler) TopProducts(c *gin.Context) {
	limit, ok := h.limit(c, 10)
	if !ok {
		return
	}
	products, err := h.repo.TopProducts(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "Failed to get top products", err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if err := h.repo.Ping(c.Request.Context()); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, []models.HealthStatus{{Status: "unavailable", Database: "unreachable"}})
		return
	}
	c.JSON(http.StatusOK, []models.HealthStatus{{Status: "ok", Database: "connected"}})
}

// limit parses the limit query parameter, writing a 400 response when it is
// not a positive integer. Values above maxLimit are capped.
func (h *Handler) limit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxLimit), true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, errInternal)
}
