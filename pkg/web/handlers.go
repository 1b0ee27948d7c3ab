// Package web provides the HTTP management surface for series: lifecycle,
// graph editing, enrollment and the read-side queries.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/services"
)

// workspaceHeader scopes every request; the surrounding platform's gateway
// fills it after authentication.
const workspaceHeader = "X-Workspace-ID"

type APIHandlers struct {
	seriesService *services.SeriesService
	graphService  *services.GraphService
	queryService  *services.QueryService
	engine        *engine.Engine
	publisher     eventbus.EventPublisher
	clock         clockwork.Clock
	validator     *validator.Validate
}

func NewAPIHandlers(
	seriesService *services.SeriesService,
	graphService *services.GraphService,
	queryService *services.QueryService,
	eng *engine.Engine,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		seriesService: seriesService,
		graphService:  graphService,
		queryService:  queryService,
		engine:        eng,
		publisher:     publisher,
		clock:         clock,
		validator:     validator,
	}
}

// RegisterRoutes mounts every series route on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	s := app.Group("/series")
	s.Get("/", h.ListSeries)
	s.Post("/", h.CreateSeries)
	s.Get("/:id", h.GetSeries)
	s.Patch("/:id", h.UpdateSeries)
	s.Delete("/:id", h.DeleteSeries)
	s.Post("/:id/activate", h.ActivateSeries)
	s.Post("/:id/pause", h.PauseSeries)
	s.Post("/:id/archive", h.ArchiveSeries)
	s.Get("/:id/readiness", h.GetReadiness)
	s.Get("/:id/stats", h.GetStats)
	s.Get("/:id/telemetry", h.GetTelemetry)

	s.Get("/:id/blocks", h.ListBlocks)
	s.Post("/:id/blocks", h.CreateBlock)
	s.Patch("/:id/blocks/:blockId", h.UpdateBlock)
	s.Delete("/:id/blocks/:blockId", h.DeleteBlock)
	s.Get("/:id/connections", h.ListConnections)
	s.Post("/:id/connections", h.CreateConnection)
	s.Delete("/:id/connections/:connId", h.DeleteConnection)

	s.Get("/:id/progress", h.ListProgress)
	s.Post("/:id/enroll", h.Enroll)

	app.Get("/progress/:id", h.GetProgress)
	app.Post("/visitors/:visitorId/events", h.IngestVisitorEvent)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.seriesService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	req := services.ListSeriesRequest{WorkspaceID: workspaceID}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.SeriesStatus(statusStr)
		req.Status = &status
	}

	result, err := h.seriesService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"series":      result,
		"total_count": len(result),
	})
}

func (h *APIHandlers) CreateSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req CreateSeriesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.seriesService.Create(c.Context(), services.CreateSeriesRequest{
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Triggers:    req.Triggers,
		EntryRule:   req.EntryRule,
		ExitRule:    req.ExitRule,
		GoalRule:    req.GoalRule,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	series, err := h.seriesService.Get(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(series)
}

func (h *APIHandlers) UpdateSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req UpdateSeriesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.seriesService.Update(c.Context(), workspaceID, c.Params("id"), services.UpdateSeriesRequest{
		Name:           req.Name,
		Triggers:       req.Triggers,
		EntryRule:      req.EntryRule,
		ExitRule:       req.ExitRule,
		GoalRule:       req.GoalRule,
		ClearEntryRule: req.ClearEntryRule,
		ClearExitRule:  req.ClearExitRule,
		ClearGoalRule:  req.ClearGoalRule,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	if err := h.seriesService.Delete(c.Context(), workspaceID, c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	series, err := h.seriesService.Activate(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(series)
}

func (h *APIHandlers) PauseSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	series, err := h.seriesService.Pause(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(series)
}

func (h *APIHandlers) ArchiveSeries(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	series, err := h.seriesService.Archive(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(series)
}

func (h *APIHandlers) GetReadiness(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	report, err := h.seriesService.Readiness(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	stats, err := h.queryService.Stats(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetTelemetry(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	rows, err := h.queryService.Telemetry(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"telemetry": rows})
}

func (h *APIHandlers) ListBlocks(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	blocks, err := h.graphService.ListBlocks(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"blocks": blocks})
}

func (h *APIHandlers) CreateBlock(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req CreateBlockRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	block, err := h.graphService.CreateBlock(c.Context(), workspaceID, c.Params("id"), services.CreateBlockRequest{
		Type:      req.Type,
		Config:    req.Config,
		PositionX: req.PositionX,
		PositionY: req.PositionY,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(block)
}

func (h *APIHandlers) UpdateBlock(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req UpdateBlockRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	block, err := h.graphService.UpdateBlock(c.Context(), workspaceID, c.Params("id"), c.Params("blockId"), services.UpdateBlockRequest{
		Config:    req.Config,
		PositionX: req.PositionX,
		PositionY: req.PositionY,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(block)
}

func (h *APIHandlers) DeleteBlock(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	if err := h.graphService.DeleteBlock(c.Context(), workspaceID, c.Params("id"), c.Params("blockId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListConnections(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	connections, err := h.graphService.ListConnections(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"connections": connections})
}

func (h *APIHandlers) CreateConnection(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req CreateConnectionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	connection, err := h.graphService.CreateConnection(c.Context(), workspaceID, c.Params("id"), services.CreateConnectionRequest{
		FromBlockID: req.FromBlockID,
		ToBlockID:   req.ToBlockID,
		Condition:   req.Condition,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(connection)
}

func (h *APIHandlers) DeleteConnection(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	if err := h.graphService.DeleteConnection(c.Context(), workspaceID, c.Params("id"), c.Params("connId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListProgress(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	status := models.ProgressStatus(c.Query("status", string(models.ProgressStatusActive)))

	rows, err := h.queryService.ListProgress(c.Context(), workspaceID, c.Params("id"), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"progress": rows})
}

func (h *APIHandlers) GetProgress(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	result, err := h.queryService.GetProgress(c.Context(), workspaceID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// Enroll performs a manual, operator-initiated enrollment.
func (h *APIHandlers) Enroll(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// The workspace scope check happens before the engine runs so a
	// foreign series id reads as not found rather than a mismatch outcome.
	seriesID := c.Params("id")
	if _, err := h.seriesService.Get(c.Context(), workspaceID, seriesID); err != nil {
		return handleServiceError(c, err)
	}

	result, err := h.engine.Enroll(c.Context(), seriesID, req.VisitorID, models.TriggerContext{
		Source: models.TriggerSourceManual,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EnrollResponse{
		Outcome:    string(result.Outcome),
		ProgressID: result.ProgressID,
	})
}

// IngestVisitorEvent publishes a visitor occurrence to the bus; the worker
// consumes it for event-wait wakeups and trigger-matched enrollment.
func (h *APIHandlers) IngestVisitorEvent(c fiber.Ctx) error {
	workspaceID := h.workspaceID(c)
	if workspaceID == "" {
		return badRequest(c, "Workspace ID is required")
	}

	var req VisitorEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	visitorID := c.Params("visitorId")

	occurredAt := h.clock.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	event := events.VisitorEventReceived{
		BaseEvent: events.BaseEvent{
			ID:          uuid.New().String(),
			Type:        events.VisitorEventReceivedEvent,
			Timestamp:   h.clock.Now().UTC(),
			WorkspaceID: workspaceID,
		},
		VisitorID:      visitorID,
		Source:         req.Source,
		EventName:      req.EventName,
		AttributeKey:   req.AttributeKey,
		FromValue:      req.FromValue,
		ToValue:        req.ToValue,
		OccurredAt:     occurredAt,
		ConversationID: req.ConversationID,
	}

	if err := h.publisher.Publish(c.Context(), visitorID, event); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// workspaceID resolves the request's workspace scope from the header or,
// failing that, the workspace_id query parameter. Empty means unscoped and
// the handler rejects the request.
func (h *APIHandlers) workspaceID(c fiber.Ctx) string {
	if workspaceID := c.Get(workspaceHeader); workspaceID != "" {
		return workspaceID
	}

	return c.Query("workspace_id")
}
