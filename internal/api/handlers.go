package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deploywatch/deploywatch/internal/models"
	"github.com/deploywatch/deploywatch/internal/patterns"
	"github.com/deploywatch/deploywatch/internal/services"
	"github.com/deploywatch/deploywatch/internal/tracker"
	"github.com/deploywatch/deploywatch/internal/utils"
)

// IncidentArchive reads persisted incidents from earlier runs. Optional.
type IncidentArchive interface {
	ListIncidents(ctx context.Context, since time.Time, limit int) ([]models.Incident, error)
}

// Handlers binds HTTP routes to the engine services.
type Handlers struct {
	logger    *slog.Logger
	forensics *services.ForensicsService
	tracker   *tracker.Tracker
	miner     *patterns.Miner
	hub       *Hub
	archive   IncidentArchive
	baseCtx   context.Context
}

// NewHandlers constructs the handler set. baseCtx is the lifetime context
// tracking loops run under; it should outlive individual requests. archive may
// be nil.
func NewHandlers(logger *slog.Logger, baseCtx context.Context, forensics *services.ForensicsService, trk *tracker.Tracker, miner *patterns.Miner, hub *Hub, archive IncidentArchive) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handlers{
		logger:    logger,
		forensics: forensics,
		tracker:   trk,
		miner:     miner,
		hub:       hub,
		archive:   archive,
		baseCtx:   baseCtx,
	}
}

type analyzeRequest struct {
	IncidentTime  string   `json:"incident_time"`
	LookbackHours int      `json:"lookback_hours"`
	AffectedFiles []string `json:"affected_files"`
}

// AnalyzeIncident runs the historical forensics pass.
func (h *Handlers) AnalyzeIncident(c *gin.Context) {
	var body analyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req := models.ForensicsRequest{
		LookbackHours: body.LookbackHours,
		AffectedFiles: body.AffectedFiles,
	}
	if body.IncidentTime != "" {
		ts, err := utils.ParseRFC3339(body.IncidentTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident_time: " + err.Error()})
			return
		}
		req.IncidentTime = ts
	}

	report, err := h.forensics.Analyze(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// StartTracking begins deployment detection.
func (h *Handlers) StartTracking(c *gin.Context) {
	if err := h.tracker.Start(h.baseCtx); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "tracking"})
}

// StopTracking cancels every per-deployment loop.
func (h *Handlers) StopTracking(c *gin.Context) {
	h.tracker.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// ListDeployments returns active deployments; ?include=history adds
// archived ones.
func (h *Handlers) ListDeployments(c *gin.Context) {
	deployments := h.tracker.ActiveDeployments()
	if c.Query("include") == "history" {
		deployments = append(deployments, h.tracker.History()...)
	}
	c.JSON(http.StatusOK, gin.H{"deployments": deployments})
}

// GetDeployment returns one deployment by id.
func (h *Handlers) GetDeployment(c *gin.Context) {
	dep, err := h.tracker.Deployment(c.Param("id"))
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dep)
}

// ListIncidents returns incidents raised by the tracker this run;
// ?include=archive adds persisted incidents from earlier runs.
func (h *Handlers) ListIncidents(c *gin.Context) {
	incidents := h.tracker.Incidents()
	if c.Query("include") == "archive" && h.archive != nil {
		since := time.Time{}
		if raw := c.Query("since"); raw != "" {
			ts, err := utils.ParseRFC3339(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since: " + err.Error()})
				return
			}
			since = ts
		}
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		archived, err := h.archive.ListIncidents(c.Request.Context(), since, limit)
		if err != nil {
			h.logger.Warn("incident archive read failed", slog.Any("error", err))
		} else {
			incidents = mergeIncidents(incidents, archived)
		}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

// mergeIncidents appends archived incidents not already present in the live
// list, preserving live-first ordering.
func mergeIncidents(live, archived []models.Incident) []models.Incident {
	seen := make(map[string]struct{}, len(live))
	for _, incident := range live {
		seen[incident.ID] = struct{}{}
	}
	for _, incident := range archived {
		if _, ok := seen[incident.ID]; ok {
			continue
		}
		live = append(live, incident)
	}
	return live
}

// GetPatterns mines risk patterns from the incident history.
func (h *Handlers) GetPatterns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	mined, err := h.miner.Mine(c.Request.Context(), h.tracker.Incidents())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if limit > 0 && len(mined) > limit {
		mined = mined[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"patterns": mined})
}

// Events streams tracker events over a websocket.
func (h *Handlers) Events(c *gin.Context) {
	h.hub.Handle(c)
}

// Health reports liveness and the forensics latency percentile.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"forensics_p95": h.forensics.LatencyP95().String(),
		"time":          time.Now().UTC(),
	})
}
