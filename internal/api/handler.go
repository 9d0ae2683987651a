package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nitesh/incident_map/internal/service"
	"github.com/nitesh/incident_map/pkg/models"
)

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, log: log}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/events", h.Events)
		v1.POST("/events/ingest", h.Ingest)
		v1.GET("/events/:id/summaries", h.EventSummaries)
		v1.GET("/clusters", h.Clusters)
		v1.POST("/clusters/summary", h.SummarizeCluster)
		v1.GET("/stats", h.Stats)
		v1.POST("/ppu/report", h.ReportPolice)
		v1.GET("/ppu/active", h.ActivePolice)
	}
}

// Health: GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ingest: POST /v1/events/ingest
// Body: JSON array of events
func (h *Handler) Ingest(c *gin.Context) {
	var payload []models.EventInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	res, err := h.svc.Ingest(c.Request.Context(), payload)
	if err != nil {
		h.fail(c, "ingest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"meta": gin.H{"imported": len(res.IDs), "batch_id": res.BatchID},
		"data": res.IDs,
	})
}

// Events: GET /v1/events?hours=12&verified_only=false&event_type=protest&source=bbc_persian
func (h *Handler) Events(c *gin.Context) {
	q, ok := h.query(c)
	if !ok {
		return
	}
	events, err := h.svc.Events(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "events", err)
		return
	}
	c.JSON(http.StatusOK, eventCollection(events))
}

// Clusters: GET /v1/clusters?hours=12&radius_km=1&verified_only=false&event_type=&source=
func (h *Handler) Clusters(c *gin.Context) {
	q, ok := h.query(c)
	if !ok {
		return
	}
	if raw, present := c.GetQuery("radius_km"); present {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius_km"})
			return
		}
		q.RadiusKm = &r
	}
	out, err := h.svc.Clusters(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "clusters", err)
		return
	}
	clusters := 0
	for i := range out {
		if out[i].IsCluster {
			clusters++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{
			"count":    len(out),
			"clusters": clusters,
			"hours":    h.svc.WindowHours(q.Hours),
		},
		"data": out,
	})
}

type summaryRequest struct {
	IDs []int64 `json:"ids"`
}

// SummarizeCluster: POST /v1/clusters/summary
// Body: {"ids": [1, 2, 3]}
func (h *Handler) SummarizeCluster(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	sum, err := h.svc.SummarizeCluster(c.Request.Context(), req.IDs)
	if err != nil {
		h.fail(c, "summarize cluster", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// EventSummaries: GET /v1/events/:id/summaries
func (h *Handler) EventSummaries(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}
	out, err := h.svc.Summaries(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "event summaries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{"count": len(out), "event_id": id},
		"data": out,
	})
}

// Stats: GET /v1/stats?hours=12
func (h *Handler) Stats(c *gin.Context) {
	hours, ok := parseHours(c)
	if !ok {
		return
	}
	st, err := h.svc.Stats(c.Request.Context(), hours)
	if err != nil {
		h.fail(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ReportPolice: POST /v1/ppu/report
// Body: {"latitude": 35.7, "longitude": 51.4, "description": "...", "intensity": 3}
func (h *Handler) ReportPolice(c *gin.Context) {
	var req service.PPUReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	res, err := h.svc.ReportPolice(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "ppu report", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ActivePolice: GET /v1/ppu/active?hours=6
func (h *Handler) ActivePolice(c *gin.Context) {
	hours, ok := parseHours(c)
	if !ok {
		return
	}
	active, err := h.svc.ActivePolice(c.Request.Context(), hours)
	if err != nil {
		h.fail(c, "ppu active", err)
		return
	}
	fc := activeCollection(active)
	c.JSON(http.StatusOK, gin.H{
		"type":         fc.Type,
		"features":     fc.Features,
		"count":        len(fc.Features),
		"hours_window": h.svc.PPUWindowHours(hours),
	})
}

func (h *Handler) query(c *gin.Context) (service.Query, bool) {
	hours, ok := parseHours(c)
	if !ok {
		return service.Query{}, false
	}
	verified, err := strconv.ParseBool(c.DefaultQuery("verified_only", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verified_only"})
		return service.Query{}, false
	}
	return service.Query{
		Hours:        hours,
		VerifiedOnly: verified,
		EventType:    c.Query("event_type"),
		Source:       c.Query("source"),
	}, true
}

// parseHours reads ?hours=, 0 when absent.
func parseHours(c *gin.Context) (int, bool) {
	raw := c.Query("hours")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxHours {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be an integer between 1 and " + strconv.Itoa(maxHours)})
		return 0, false
	}
	return n, true
}

const maxHours = 24 * 30

// fail maps service errors onto status codes.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("op", op).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
