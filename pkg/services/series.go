package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/readiness"
)

var (
	// ErrSeriesNotFound is returned when a series is not found.
	ErrSeriesNotFound = persistence.ErrSeriesNotFound
)

// SeriesService owns the series lifecycle: CRUD plus the activate, pause
// and archive transitions with their side effects.
type SeriesService struct {
	persistence persistence.Persistence
	validator   *readiness.Validator
	workspaces  protocol.WorkspaceDirectory
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger

	// orchestrationEnabled is the deploy-wide kill switch. When false,
	// Activate is refused so no new series starts executing.
	orchestrationEnabled bool
}

// NewSeriesService creates a new series lifecycle service.
func NewSeriesService(
	logger *slog.Logger,
	persistence persistence.Persistence,
	validator *readiness.Validator,
	workspaces protocol.WorkspaceDirectory,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	orchestrationEnabled bool,
) *SeriesService {
	return &SeriesService{
		persistence:          persistence,
		validator:            validator,
		workspaces:           workspaces,
		publisher:            publisher,
		clock:                clock,
		logger:               logger.With("module", "series_service"),
		orchestrationEnabled: orchestrationEnabled,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *SeriesService) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateSeriesRequest contains the fields for a new series draft.
type CreateSeriesRequest struct {
	WorkspaceID string                `json:"workspace_id" validate:"required"`
	Name        string                `json:"name"         validate:"required,min=3"`
	Triggers    []models.EntryTrigger `json:"triggers"`
	EntryRule   *models.RuleTree      `json:"entry_rule,omitempty"`
	ExitRule    *models.RuleTree      `json:"exit_rule,omitempty"`
	GoalRule    *models.RuleTree      `json:"goal_rule,omitempty"`
}

// Create stores a new draft series.
func (s *SeriesService) Create(ctx context.Context, req CreateSeriesRequest) (*models.Series, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return nil, ErrEmptyWorkspaceID
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrSeriesNameRequired
	}

	now := s.clock.Now().UTC()
	series := &models.Series{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		Name:        strings.TrimSpace(req.Name),
		Status:      models.SeriesStatusDraft,
		Triggers:    req.Triggers,
		EntryRule:   req.EntryRule,
		ExitRule:    req.ExitRule,
		GoalRule:    req.GoalRule,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.persistence.SeriesRepository().Save(ctx, series); err != nil {
		return nil, fmt.Errorf("failed to save series: %w", err)
	}

	s.logger.InfoContext(ctx, "Series created", "series_id", series.ID, "workspace_id", series.WorkspaceID)

	return series, nil
}

// Get returns a series scoped to a workspace. A series belonging to another
// workspace reads as not found.
func (s *SeriesService) Get(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	series, err := s.persistence.SeriesRepository().GetByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	if series.WorkspaceID != workspaceID {
		return nil, ErrSeriesNotFound
	}

	return series, nil
}

// ListSeriesRequest contains options for listing series.
type ListSeriesRequest struct {
	WorkspaceID string `validate:"required"`
	Status      *models.SeriesStatus
}

// List returns the workspace's series, optionally filtered by status,
// newest first.
func (s *SeriesService) List(ctx context.Context, req ListSeriesRequest) ([]*models.Series, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return nil, ErrEmptyWorkspaceID
	}

	if req.Status != nil && !validSeriesStatus(*req.Status) {
		return nil, ErrInvalidStatus
	}

	all, err := s.persistence.SeriesRepository().GetAll(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	result := make([]*models.Series, 0, len(all))

	for _, series := range all {
		if req.Status != nil && series.Status != *req.Status {
			continue
		}

		result = append(result, series)
	}

	slices.SortFunc(result, func(a, b *models.Series) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return result, nil
}

// UpdateSeriesRequest carries the mutable definition fields. Nil pointers
// leave the current value untouched; the rule setters replace wholesale.
type UpdateSeriesRequest struct {
	Name      *string                `json:"name,omitempty" validate:"omitempty,min=3"`
	Triggers  *[]models.EntryTrigger `json:"triggers,omitempty"`
	EntryRule *models.RuleTree       `json:"entry_rule,omitempty"`
	ExitRule  *models.RuleTree       `json:"exit_rule,omitempty"`
	GoalRule  *models.RuleTree       `json:"goal_rule,omitempty"`

	ClearEntryRule bool `json:"clear_entry_rule,omitempty"`
	ClearExitRule  bool `json:"clear_exit_rule,omitempty"`
	ClearGoalRule  bool `json:"clear_goal_rule,omitempty"`
}

// Update edits a series definition. Archived series are immutable.
func (s *SeriesService) Update(ctx context.Context, workspaceID, seriesID string, req UpdateSeriesRequest) (*models.Series, error) {
	series, err := s.Get(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	if series.Status == models.SeriesStatusArchived {
		return nil, ErrSeriesArchived
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ErrSeriesNameRequired
		}

		series.Name = name
	}

	if req.Triggers != nil {
		series.Triggers = *req.Triggers
	}

	if req.EntryRule != nil {
		series.EntryRule = req.EntryRule
	} else if req.ClearEntryRule {
		series.EntryRule = nil
	}

	if req.ExitRule != nil {
		series.ExitRule = req.ExitRule
	} else if req.ClearExitRule {
		series.ExitRule = nil
	}

	if req.GoalRule != nil {
		series.GoalRule = req.GoalRule
	} else if req.ClearGoalRule {
		series.GoalRule = nil
	}

	series.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.SeriesRepository().Save(ctx, series); err != nil {
		return nil, fmt.Errorf("failed to save series: %w", err)
	}

	return series, nil
}

// Delete removes a series and cascades to its graph, progress, history and
// telemetry.
func (s *SeriesService) Delete(ctx context.Context, workspaceID, seriesID string) error {
	if _, err := s.Get(ctx, workspaceID, seriesID); err != nil {
		return err
	}

	if err := s.persistence.SeriesRepository().Delete(ctx, seriesID); err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}

	s.logger.InfoContext(ctx, "Series deleted", "series_id", seriesID, "workspace_id", workspaceID)

	return nil
}

// Readiness runs the readiness validator against the series graph without
// changing any state.
func (s *SeriesService) Readiness(ctx context.Context, workspaceID, seriesID string) (*readiness.Report, error) {
	series, err := s.Get(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	graph, err := s.loadGraph(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	workspace, err := s.workspaces.GetWorkspaceInfo(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", workspaceID, err)
	}

	report := s.validator.Check(ctx, series, graph, workspace)

	return &report, nil
}

// Activate transitions a draft or paused series to active. The graph must
// pass readiness with zero blockers, and the deploy-wide orchestration
// guard must be up.
func (s *SeriesService) Activate(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	if !s.orchestrationEnabled {
		return nil, ErrOrchestrationDisabledByGuard
	}

	series, err := s.Get(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	if series.Status != models.SeriesStatusDraft && series.Status != models.SeriesStatusPaused {
		return nil, ErrSeriesNotDraftOrPaused
	}

	report, err := s.Readiness(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	if !report.IsReady {
		return nil, &ReadinessBlockedError{SeriesID: seriesID, Report: report}
	}

	now := s.clock.Now().UTC()
	series.Status = models.SeriesStatusActive
	series.ActivatedAt = &now
	series.UpdatedAt = now

	if err := s.persistence.SeriesRepository().Save(ctx, series); err != nil {
		return nil, fmt.Errorf("failed to save series: %w", err)
	}

	s.publish(ctx, series, events.SeriesActivated{
		BaseEvent:  s.baseEvent(events.SeriesActivatedEvent, series),
		SeriesName: series.Name,
	})

	s.logger.InfoContext(ctx, "Series activated", "series_id", seriesID, "workspace_id", workspaceID)

	return series, nil
}

// Pause suspends an active series. Waiting progress stays parked; the
// scheduler resumes it after reactivation.
func (s *SeriesService) Pause(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	series, err := s.Get(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	if series.Status != models.SeriesStatusActive {
		return nil, ErrSeriesNotActive
	}

	series.Status = models.SeriesStatusPaused
	series.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.SeriesRepository().Save(ctx, series); err != nil {
		return nil, fmt.Errorf("failed to save series: %w", err)
	}

	s.publish(ctx, series, events.SeriesPaused{
		BaseEvent:      s.baseEvent(events.SeriesPausedEvent, series),
		ActiveProgress: int(series.Stats.Active + series.Stats.Waiting),
	})

	s.logger.InfoContext(ctx, "Series paused", "series_id", seriesID, "workspace_id", workspaceID)

	return series, nil
}

// Archive retires a series permanently. Archived series never execute
// again and cannot be edited or reactivated.
func (s *SeriesService) Archive(ctx context.Context, workspaceID, seriesID string) (*models.Series, error) {
	series, err := s.Get(ctx, workspaceID, seriesID)
	if err != nil {
		return nil, err
	}

	if series.Status == models.SeriesStatusArchived {
		return series, nil
	}

	series.Status = models.SeriesStatusArchived
	series.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.SeriesRepository().Save(ctx, series); err != nil {
		return nil, fmt.Errorf("failed to save series: %w", err)
	}

	s.publish(ctx, series, events.SeriesArchived{
		BaseEvent: s.baseEvent(events.SeriesArchivedEvent, series),
	})

	s.logger.InfoContext(ctx, "Series archived", "series_id", seriesID, "workspace_id", workspaceID)

	return series, nil
}

func (s *SeriesService) loadGraph(ctx context.Context, seriesID string) (*models.SeriesGraph, error) {
	blocks, err := s.persistence.BlockRepository().GetBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks for series %s: %w", seriesID, err)
	}

	connections, err := s.persistence.ConnectionRepository().GetBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connections for series %s: %w", seriesID, err)
	}

	return models.NewSeriesGraph(blocks, connections), nil
}

func (s *SeriesService) baseEvent(eventType events.EventType, series *models.Series) events.BaseEvent {
	return events.BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   s.clock.Now().UTC(),
		WorkspaceID: series.WorkspaceID,
		SeriesID:    series.ID,
	}
}

func (s *SeriesService) publish(ctx context.Context, series *models.Series, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, series.ID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish lifecycle event", "series_id", series.ID, "error", err)
	}
}

func validSeriesStatus(status models.SeriesStatus) bool {
	switch status {
	case models.SeriesStatusDraft, models.SeriesStatusActive, models.SeriesStatusPaused, models.SeriesStatusArchived:
		return true
	default:
		return false
	}
}
