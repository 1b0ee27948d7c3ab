package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/persistence/file"
	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/readiness"
	"github.com/engageline/series/pkg/rules"
	"github.com/engageline/series/pkg/services"
	"github.com/engageline/series/pkg/tagstore"
	"github.com/engageline/series/pkg/testutil"
	"github.com/engageline/series/pkg/web"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) all() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.events...)
}

type testApp struct {
	app       *fiber.App
	store     persistence.Persistence
	publisher *capturePublisher
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	return setupTestAppWithGuard(t, true)
}

func setupTestAppWithGuard(t *testing.T, orchestrationEnabled bool) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	publisher := &capturePublisher{}

	seriesService := services.NewSeriesService(
		logger,
		store,
		readiness.NewValidator(logger),
		protocol.NewPermissiveWorkspaceDirectory(),
		publisher,
		clock,
		orchestrationEnabled,
	)
	graphService := services.NewGraphService(logger, store, clock)
	queryService := services.NewQueryService(logger, store)

	eng := engine.NewEngine(
		logger,
		store,
		rules.NewEvaluator(),
		[]protocol.ContentAdapter{testutil.NewFakeContentAdapter(models.BlockTypeChat)},
		tagstore.NewMemoryTagStore(),
		publisher,
		clock,
		engine.Config{OrchestrationEnabled: orchestrationEnabled},
	)

	handlers := web.NewAPIHandlers(
		seriesService,
		graphService,
		queryService,
		eng,
		publisher,
		clock,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &testApp{app: app, store: store, publisher: publisher}
}

func (ta *testApp) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Workspace-ID", "workspace-1")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ta.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, raw
}

func (ta *testApp) createSeries(t *testing.T, body web.CreateSeriesRequest) models.Series {
	t.Helper()

	resp, raw := ta.request(t, http.MethodPost, "/series/", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var series models.Series
	require.NoError(t, json.Unmarshal(raw, &series))

	return series
}

func (ta *testApp) createBlock(t *testing.T, seriesID string, body web.CreateBlockRequest) models.Block {
	t.Helper()

	resp, raw := ta.request(t, http.MethodPost, "/series/"+seriesID+"/blocks", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var block models.Block
	require.NoError(t, json.Unmarshal(raw, &block))

	return block
}

func TestSeriesCRUD(t *testing.T) {
	ta := setupTestApp(t)

	created := ta.createSeries(t, web.CreateSeriesRequest{Name: "Onboarding"})
	assert.Equal(t, models.SeriesStatusDraft, created.Status)
	assert.Equal(t, "workspace-1", created.WorkspaceID)

	resp, raw := ta.request(t, http.MethodGet, "/series/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Series
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	name := "Renamed onboarding"
	resp, raw = ta.request(t, http.MethodPatch, "/series/"+created.ID, web.UpdateSeriesRequest{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, _ = ta.request(t, http.MethodDelete, "/series/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ta.request(t, http.MethodGet, "/series/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSeriesValidation(t *testing.T) {
	ta := setupTestApp(t)

	resp, raw := ta.request(t, http.MethodPost, "/series/", web.CreateSeriesRequest{Name: "ab"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "validation_error")
}

func TestMissingWorkspaceHeader(t *testing.T) {
	ta := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/series/", nil)

	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkspaceScoping(t *testing.T) {
	ta := setupTestApp(t)

	created := ta.createSeries(t, web.CreateSeriesRequest{Name: "Onboarding"})

	req := httptest.NewRequest(http.MethodGet, "/series/"+created.ID, nil)
	req.Header.Set("X-Workspace-ID", "workspace-2")

	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivateBlockedCarriesIssues(t *testing.T) {
	ta := setupTestApp(t)

	created := ta.createSeries(t, web.CreateSeriesRequest{Name: "Onboarding"})

	resp, raw := ta.request(t, http.MethodPost, "/series/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem struct {
		Type     string            `json:"type"`
		Blockers []readiness.Issue `json:"blockers"`
	}
	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, "readiness_blocked", problem.Type)
	require.NotEmpty(t, problem.Blockers)
	assert.Equal(t, readiness.CodeEmptyGraph, problem.Blockers[0].Code)
}

func TestActivateWithGuardDownHasDistinctProblemType(t *testing.T) {
	ta := setupTestAppWithGuard(t, false)

	created := ta.createSeries(t, web.CreateSeriesRequest{Name: "Onboarding"})

	resp, raw := ta.request(t, http.MethodPost, "/series/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, "orchestration_disabled", problem.Type)
}

func TestGraphEndpointsAndActivation(t *testing.T) {
	ta := setupTestApp(t)

	created := ta.createSeries(t, web.CreateSeriesRequest{Name: "Onboarding"})

	chat := ta.createBlock(t, created.ID, web.CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Welcome aboard"}`),
	})

	tag := ta.createBlock(t, created.ID, web.CreateBlockRequest{
		Type:   models.BlockTypeTag,
		Config: json.RawMessage(`{"action": "add", "name": "onboarded"}`),
	})

	resp, raw := ta.request(t, http.MethodPost, "/series/"+created.ID+"/connections", web.CreateConnectionRequest{
		FromBlockID: chat.ID,
		ToBlockID:   tag.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	// yes off a non-rule block is rejected.
	resp, _ = ta.request(t, http.MethodPost, "/series/"+created.ID+"/connections", web.CreateConnectionRequest{
		FromBlockID: chat.ID,
		ToBlockID:   tag.ID,
		Condition:   models.ConditionYes,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = ta.request(t, http.MethodGet, "/series/"+created.ID+"/readiness", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report readiness.Report
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.True(t, report.IsReady)

	resp, raw = ta.request(t, http.MethodPost, "/series/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var activated models.Series
	require.NoError(t, json.Unmarshal(raw, &activated))
	assert.Equal(t, models.SeriesStatusActive, activated.Status)
	assert.NotNil(t, activated.ActivatedAt)
}

func TestEnrollEndpoint(t *testing.T) {
	ta := setupTestApp(t)

	created := ta.createSeries(t, web.CreateSeriesRequest{Name: "Onboarding"})
	ta.createBlock(t, created.ID, web.CreateBlockRequest{
		Type:   models.BlockTypeChat,
		Config: json.RawMessage(`{"body": "Welcome aboard"}`),
	})

	resp, _ := ta.request(t, http.MethodPost, "/series/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	visitor := testutil.CreateTestVisitor()
	require.NoError(t, ta.store.VisitorRepository().Save(t.Context(), visitor))

	resp, raw := ta.request(t, http.MethodPost, "/series/"+created.ID+"/enroll", web.EnrollRequest{VisitorID: visitor.ID})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))

	var result web.EnrollResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, string(engine.OutcomeEntered), result.Outcome)
	require.NotEmpty(t, result.ProgressID)

	// The linear one-block graph completes synchronously.
	resp, raw = ta.request(t, http.MethodGet, "/progress/"+result.ProgressID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var progress services.ProgressWithHistory
	require.NoError(t, json.Unmarshal(raw, &progress))
	assert.Equal(t, models.ProgressStatusCompleted, progress.Progress.Status)
	assert.NotEmpty(t, progress.History)

	// Re-enrolling reports the existing row.
	resp, raw = ta.request(t, http.MethodPost, "/series/"+created.ID+"/enroll", web.EnrollRequest{VisitorID: visitor.ID})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, string(engine.OutcomeAlreadyInSeries), result.Outcome)

	resp, raw = ta.request(t, http.MethodGet, "/series/"+created.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats models.SeriesStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, int64(1), stats.Entered)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestIngestVisitorEventPublishes(t *testing.T) {
	ta := setupTestApp(t)

	resp, _ := ta.request(t, http.MethodPost, "/visitors/visitor-1/events", web.VisitorEventRequest{
		Source:    models.TriggerSourceEvent,
		EventName: "signed_up",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	published := ta.publisher.all()
	require.NotEmpty(t, published)

	received, ok := published[len(published)-1].(events.VisitorEventReceived)
	require.True(t, ok)
	assert.Equal(t, "visitor-1", received.VisitorID)
	assert.Equal(t, "signed_up", received.EventName)
	assert.Equal(t, "workspace-1", received.WorkspaceID)
}

func TestIngestVisitorEventValidation(t *testing.T) {
	ta := setupTestApp(t)

	resp, _ := ta.request(t, http.MethodPost, "/visitors/visitor-1/events", web.VisitorEventRequest{
		Source: models.TriggerSourceManual,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
