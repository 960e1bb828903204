package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	domsvc "FinPilot/internal/domain/service"
	"FinPilot/internal/service/ratelimit"
	"FinPilot/internal/usecase"
	xhttp "FinPilot/pkg/http"
	xlogger "FinPilot/pkg/logger"
)

// Pipeline is the orchestrator surface the handler needs.
type Pipeline interface {
	Start(ctx context.Context, trigger models.TriggerType, triggeredBy string) (string, <-chan usecase.ExecuteResult, error)
	RunModel(ctx context.Context) (*models.ModelRunResult, error)
	Status() models.StatusSnapshot
	RecoverInterrupted(ctx context.Context) (int, error)
}

var _ Pipeline = (*usecase.Orchestrator)(nil)

// PipelineHandler serves run status, history and operator mutations.
type PipelineHandler struct {
	logger   *xlogger.Logger
	pipeline Pipeline
	store    domrepo.Store
	probe    domsvc.HealthProbe
	limiter  *ratelimit.Limiter
	now      func() time.Time
}

// HandlerOption configures PipelineHandler.
type HandlerOption func(*PipelineHandler)

// WithTriggerLimiter throttles the endpoints that start work, per client IP.
func WithTriggerLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *PipelineHandler) { h.limiter = l }
}

func NewPipelineHandler(logger *xlogger.Logger, pipeline Pipeline, store domrepo.Store, probe domsvc.HealthProbe, opts ...HandlerOption) *PipelineHandler {
	h := &PipelineHandler{logger: logger, pipeline: pipeline, store: store, probe: probe, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *PipelineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/pipeline/status", h.Status)
	g.GET("/pipeline/runs", h.Runs)
	g.GET("/pipeline/runs/:id", h.Run)
	g.POST("/pipeline/trigger", h.Trigger, h.throttle)
	g.POST("/pipeline/recover", h.Recover)
	g.POST("/model/run", h.RunModel, h.throttle)
	g.GET("/health/sources", h.Sources)
	g.GET("/snapshots", h.Snapshots)
	g.GET("/snapshots/latest", h.LatestSnapshot)
	g.GET("/changelog", h.Changelog)
	g.GET("/alerts", h.Alerts)
	g.POST("/alerts/:id/read", h.MarkRead)
	g.POST("/alerts/:id/dismiss", h.Dismiss)
	g.GET("/portfolio", h.Portfolio)
	g.PUT("/portfolio", h.SavePortfolio)
}

func (h *PipelineHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			h.logger.Warn("trigger throttled", xlogger.String("ip", c.RealIP()), xlogger.String("path", c.Path()))
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many trigger requests", http.StatusTooManyRequests))
		}
		return next(c)
	}
}

func (h *PipelineHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.pipeline.Status())
}

func (h *PipelineHandler) Runs(c echo.Context) error {
	req := models.NewListRunsRequest()
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	runs, err := h.store.ListPipelineRuns(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("list runs error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, runs, int64(len(runs)))
}

func (h *PipelineHandler) Run(c echo.Context) error {
	run, err := h.store.GetPipelineRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("pipeline run %s not found", c.Param("id")))
	}
	if err != nil {
		h.logger.Error("get run error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, run)
}

func (h *PipelineHandler) Trigger(c echo.Context) error {
	req := &models.TriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	runID, _, err := h.pipeline.Start(c.Request().Context(), models.TriggerManual, req.TriggeredBy)
	if errors.Is(err, models.ErrAlreadyRunning) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()))
	}
	if err != nil {
		h.logger.Error("trigger error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.AcceptedResponse(c, map[string]string{"runId": runID})
}

func (h *PipelineHandler) Recover(c echo.Context) error {
	n, err := h.pipeline.RecoverInterrupted(c.Request().Context())
	if err != nil {
		h.logger.Error("recover error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"recovered": n})
}

func (h *PipelineHandler) RunModel(c echo.Context) error {
	res, err := h.pipeline.RunModel(c.Request().Context())
	if errors.Is(err, models.ErrAlreadyRunning) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()))
	}
	if err != nil {
		h.logger.Error("model run error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_MODEL_RUN", "", err.Error(), http.StatusBadGateway).WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PipelineHandler) Sources(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.probe.CheckAll(c.Request().Context()))
}

func (h *PipelineHandler) Snapshots(c echo.Context) error {
	limit := xhttp.QueryInt(c, "limit", 7)
	if limit < 1 || limit > 90 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("limit must be between 1 and 90, got %d", limit))
	}
	snaps, err := h.store.RecentSnapshots(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("list snapshots error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, snaps, int64(len(snaps)))
}

func (h *PipelineHandler) LatestSnapshot(c echo.Context) error {
	snap, err := h.store.LatestSnapshot(c.Request().Context())
	if err != nil {
		h.logger.Error("latest snapshot error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if snap == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no snapshot yet"))
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *PipelineHandler) Changelog(c echo.Context) error {
	req := models.NewListChangelogRequest()
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries, err := h.store.ListChangelog(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("changelog error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func (h *PipelineHandler) Alerts(c echo.Context) error {
	req := models.NewListAlertsRequest()
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	alerts, err := h.store.ListAlerts(c.Request().Context(), models.AlertFilter{
		Limit:            req.Limit,
		UnreadOnly:       req.Unread,
		IncludeDismissed: req.IncludeDismissed,
		SnapshotID:       req.SnapshotID,
	})
	if err != nil {
		h.logger.Error("alerts error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *PipelineHandler) MarkRead(c echo.Context) error {
	return h.alertMutation(c, h.store.MarkAlertRead)
}

func (h *PipelineHandler) Dismiss(c echo.Context) error {
	return h.alertMutation(c, h.store.DismissAlert)
}

func (h *PipelineHandler) alertMutation(c echo.Context, fn func(ctx context.Context, id string) error) error {
	id := c.Param("id")
	err := fn(c.Request().Context(), id)
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("alert %s not found", id))
	}
	if err != nil {
		h.logger.Error("alert update error", xlogger.String("id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"id": id})
}

func (h *PipelineHandler) Portfolio(c echo.Context) error {
	p, err := h.store.ActivePortfolio(c.Request().Context())
	if err != nil {
		h.logger.Error("portfolio error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if p == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no active portfolio"))
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PipelineHandler) SavePortfolio(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	p := &models.PortfolioConfig{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Active:    true,
		Weights:   req.Weights,
		UpdatedAt: h.now().UTC(),
	}
	if current, err := h.store.ActivePortfolio(ctx); err == nil && current != nil && current.Name == req.Name {
		p.ID = current.ID
	}
	if err := h.store.SavePortfolio(ctx, p); err != nil {
		h.logger.Error("save portfolio error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, p)
}
