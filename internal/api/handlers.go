// Package api exposes the harvester's admin and status surface over gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"harvester/internal/harvest"
	"harvester/internal/orchestrator"
	"harvester/internal/progress"
	"harvester/internal/runguard"
)

// Harvester is the orchestrator surface the API drives.
type Harvester interface {
	Sources(ctx context.Context) []harvest.Source
	Source(ctx context.Context, id string) (harvest.Source, error)
	Preview(ctx context.Context, id string) ([]orchestrator.FilePreview, error)
	RunNow(ctx context.Context, id string) error
	Abort(id string) error
	Progress() *progress.Tracker
	Runs() *runguard.Coordinator
}

type sourceResponse struct {
	harvest.Source
	Running  bool               `json:"running"`
	Progress *progress.Snapshot `json:"progress,omitempty"`
}

type runResponse struct {
	SourceID   string  `json:"source_id"`
	StartedAt  string  `json:"started_at"`
	AgeSeconds float64 `json:"age_seconds"`
	Status     string  `json:"status,omitempty"`
}

type API struct {
	harvester Harvester
	gatherer  prometheus.Gatherer
	now       func() time.Time
}

// NewAPI serves metrics from gatherer when it is not nil.
func NewAPI(h Harvester, gatherer prometheus.Gatherer) *API {
	return &API{harvester: h, gatherer: gatherer, now: time.Now}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/sources", a.ListSources)
		api.GET("/sources/:id", a.GetSource)
		api.GET("/sources/:id/files", a.ListFiles)
		api.POST("/sources/:id/run", a.RunSource)
		api.POST("/sources/:id/abort", a.AbortSource)
		api.GET("/runs", a.ListRuns)
	}
	if a.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}
}

// ListSources returns every configured source with its latest progress.
func (a *API) ListSources(c *gin.Context) {
	sources := a.harvester.Sources(c.Request.Context())
	out := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, a.toSourceResponse(src))
	}
	c.JSON(http.StatusOK, out)
}

// GetSource returns one source
func (a *API) GetSource(c *gin.Context) {
	id := c.Param("id")
	src, err := a.harvester.Source(c.Request.Context(), id)
	if err != nil {
		log.Warn().Str("source_id", id).Msg("source not found on get")
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	c.JSON(http.StatusOK, a.toSourceResponse(src))
}

// ListFiles lists every remote entry of the source without transferring.
func (a *API) ListFiles(c *gin.Context) {
	id := c.Param("id")
	files, err := a.harvester.Preview(c.Request.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
	case err != nil:
		log.Warn().Str("source_id", id).Err(err).Msg("preview failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, files)
	}
}

// RunSource starts a harvest now, ignoring the schedule.
func (a *API) RunSource(c *gin.Context) {
	id := c.Param("id")
	err := a.harvester.RunNow(c.Request.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Str("source_id", id).Err(err).Msg("run now failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		log.Info().Str("source_id", id).Msg("harvest triggered")
		c.JSON(http.StatusAccepted, gin.H{"source_id": id, "status": "started"})
	}
}

// AbortSource cancels the active run of a source.
func (a *API) AbortSource(c *gin.Context) {
	id := c.Param("id")
	if err := a.harvester.Abort(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source_id": id, "status": progress.MessageAborted})
}

// ListRuns returns the active runs, oldest first.
func (a *API) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, a.activeRuns())
}

func (a *API) activeRuns() []runResponse {
	runs := a.harvester.Runs().Active()
	out := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		resp := runResponse{
			SourceID:   r.SourceID,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			AgeSeconds: a.now().Sub(r.StartedAt).Seconds(),
		}
		if p, ok := a.harvester.Progress().Get(r.SourceID); ok {
			resp.Status = p.Status()
		}
		out = append(out, resp)
	}
	return out
}

func (a *API) toSourceResponse(src harvest.Source) sourceResponse {
	resp := sourceResponse{Source: src, Running: a.harvester.Runs().IsRunning(src.ID)}
	if p, ok := a.harvester.Progress().Get(src.ID); ok {
		snap := p.Snapshot()
		resp.Progress = &snap
	}
	return resp
}
