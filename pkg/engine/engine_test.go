package engine_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence/file"
	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) byType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type fixture struct {
	store     *file.Persistence
	engine    *engine.Engine
	clock     *clockwork.FakeClock
	publisher *recordingPublisher
	tags      *testutil.FakeTagStore
	adapters  map[models.BlockType]*testutil.FakeContentAdapter
}

func newFixture(t *testing.T, config engine.Config) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{}
	tags := testutil.NewFakeTagStore()

	adapters := map[models.BlockType]*testutil.FakeContentAdapter{}

	var adapterList []protocol.ContentAdapter

	for channel := range models.ContentBlockTypes {
		adapter := testutil.NewFakeContentAdapter(channel)
		adapters[channel] = adapter
		adapterList = append(adapterList, adapter)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	rulesEvaluator := attributeEvaluator{}

	eng := engine.NewEngine(logger, store, rulesEvaluator, adapterList, tags, publisher, clock, config)

	return &fixture{
		store:     store,
		engine:    eng,
		clock:     clock,
		publisher: publisher,
		tags:      tags,
		adapters:  adapters,
	}
}

// attributeEvaluator is a minimal evaluator for tests: a tree with
// operator eq matches when the visitor attribute equals the value.
type attributeEvaluator struct{}

func (attributeEvaluator) Evaluate(_ context.Context, tree *models.RuleTree, visitor *models.Visitor) (bool, error) {
	if tree == nil {
		return true, nil
	}

	return visitor.Attributes[tree.Attribute] == tree.Value, nil
}

func enabledConfig() engine.Config {
	return engine.Config{OrchestrationEnabled: true}
}

func (f *fixture) seedSeries(t *testing.T, series *models.Series, blocks []*models.Block, connections []*models.Connection) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, f.store.SeriesRepository().Save(ctx, series))

	for _, block := range blocks {
		block.SeriesID = series.ID
		require.NoError(t, f.store.BlockRepository().Save(ctx, block))
	}

	for _, connection := range connections {
		connection.SeriesID = series.ID
		require.NoError(t, f.store.ConnectionRepository().Save(ctx, connection))
	}
}

func (f *fixture) seedVisitor(t *testing.T, visitor *models.Visitor) {
	t.Helper()
	require.NoError(t, f.store.VisitorRepository().Save(context.Background(), visitor))
}

func (f *fixture) progress(t *testing.T, id string) *models.Progress {
	t.Helper()

	progress, err := f.store.ProgressRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return progress
}

func (f *fixture) series(t *testing.T, id string) *models.Series {
	t.Helper()

	series, err := f.store.SeriesRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return series
}

func manualTrigger() models.TriggerContext {
	return models.TriggerContext{Source: models.TriggerSourceManual}
}

func TestEnrollLinearSeriesRunsToCompletion(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	chat := testutil.CreateTestBlock(series.ID)
	tag := testutil.CreateTestBlock(series.ID, testutil.AsTagBlock(models.TagActionAdd, " VIP Customer "))

	f.seedSeries(t, series, []*models.Block{chat, tag}, []*models.Connection{
		testutil.CreateTestConnection(series.ID, chat.ID, tag.ID, ""),
	})

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeEntered, result.Outcome)

	progress := f.progress(t, result.ProgressID)
	assert.Equal(t, models.ProgressStatusCompleted, progress.Status)
	require.NotNil(t, progress.CompletedAt)

	// Tag name normalized to trim+lowercase.
	assert.True(t, f.tags.HasAssociation(visitor.LastConversationID, "tag-vip customer"))
	assert.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))

	stats := f.series(t, series.ID).Stats
	assert.Equal(t, int64(1), stats.Entered)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(0), stats.Waiting)

	history, err := f.store.HistoryRepository().GetByProgress(ctx, progress.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3) // entered + two completed blocks

	completed := f.publisher.byType(events.ProgressCompletedEvent)
	require.Len(t, completed, 1)
}

func TestEnrollOutcomes(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	paused := testutil.CreateTestSeries(testutil.WithStatus(models.SeriesStatusPaused))
	f.seedSeries(t, paused, []*models.Block{testutil.CreateTestBlock(paused.ID)}, nil)

	result, err := f.engine.Enroll(ctx, paused.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSeriesNotActive, result.Outcome)

	eventOnly := testutil.CreateTestSeries(testutil.WithTriggers(
		models.EntryTrigger{Source: models.TriggerSourceEvent, EventName: "signed_up"},
	))
	f.seedSeries(t, eventOnly, []*models.Block{testutil.CreateTestBlock(eventOnly.ID)}, nil)

	result, err = f.engine.Enroll(ctx, eventOnly.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeNotMatched, result.Outcome)

	gated := testutil.CreateTestSeries(testutil.WithEntryRule(
		&models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "plan", Value: "enterprise"},
	))
	f.seedSeries(t, gated, []*models.Block{testutil.CreateTestBlock(gated.ID)}, nil)

	result, err = f.engine.Enroll(ctx, gated.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeNotEligible, result.Outcome)

	foreign := testutil.CreateTestVisitor(testutil.WithWorkspace("workspace-2"))
	f.seedVisitor(t, foreign)

	open := testutil.CreateTestSeries()
	f.seedSeries(t, open, []*models.Block{testutil.CreateTestBlock(open.ID)}, nil)

	result, err = f.engine.Enroll(ctx, open.ID, foreign.ID, manualTrigger())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeWorkspaceMismatch, result.Outcome)
}

func TestRuleBranchDeterminism(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	predicate := &models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "plan", Value: "pro"}

	series := testutil.CreateTestSeries()
	rule := testutil.CreateTestBlock(series.ID, testutil.AsRuleBlock(predicate))
	yes := testutil.CreateTestBlock(series.ID, testutil.AsContentBlock(models.BlockTypeChat, &models.ContentConfig{Body: "pro path"}))
	no := testutil.CreateTestBlock(series.ID, testutil.AsContentBlock(models.BlockTypePost, &models.ContentConfig{Body: "other path"}))

	f.seedSeries(t, series, []*models.Block{rule, yes, no}, []*models.Connection{
		testutil.CreateTestConnection(series.ID, rule.ID, yes.ID, models.ConditionYes),
		testutil.CreateTestConnection(series.ID, rule.ID, no.ID, models.ConditionNo),
	})

	pro := testutil.CreateTestVisitor()
	f.seedVisitor(t, pro)

	free := testutil.CreateTestVisitor(testutil.WithAttributes(map[string]any{"plan": "free"}))
	f.seedVisitor(t, free)

	_, err := f.engine.Enroll(ctx, series.ID, pro.ID, manualTrigger())
	require.NoError(t, err)

	_, err = f.engine.Enroll(ctx, series.ID, free.ID, manualTrigger())
	require.NoError(t, err)

	assert.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(yes.ID))
	assert.Equal(t, 1, f.adapters[models.BlockTypePost].DeliveryCount(no.ID))

	telemetry, err := f.store.TelemetryRepository().GetBySeries(ctx, series.ID)
	require.NoError(t, err)

	for _, row := range telemetry {
		if row.BlockID == rule.ID {
			assert.Equal(t, int64(1), row.BranchYes)
			assert.Equal(t, int64(1), row.BranchNo)
			assert.Equal(t, int64(2), row.Entered)
		}
	}
}

func TestWaitArithmeticAndResume(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	wait := testutil.CreateTestBlock(series.ID, testutil.AsWaitBlock(2, models.WaitUnitHours))
	chat := testutil.CreateTestBlock(series.ID)

	f.seedSeries(t, series, []*models.Block{wait, chat}, []*models.Connection{
		testutil.CreateTestConnection(series.ID, wait.ID, chat.ID, ""),
	})

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	start := f.clock.Now().UTC()

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	progress := f.progress(t, result.ProgressID)
	require.Equal(t, models.ProgressStatusWaiting, progress.Status)
	require.NotNil(t, progress.WaitUntil)
	assert.Equal(t, int64(2*60*60*1000), progress.WaitUntil.Sub(start).Milliseconds())

	// Early resume delivery is a no-op.
	require.NoError(t, f.engine.ResumeDue(ctx, progress.ID))
	assert.Equal(t, models.ProgressStatusWaiting, f.progress(t, progress.ID).Status)
	assert.Equal(t, 0, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))

	f.clock.Advance(2 * time.Hour)

	require.NoError(t, f.engine.ResumeDue(ctx, progress.ID))
	assert.Equal(t, models.ProgressStatusCompleted, f.progress(t, progress.ID).Status)
	assert.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))

	// Duplicate delivery of the resume task is harmless.
	require.NoError(t, f.engine.ResumeDue(ctx, progress.ID))
	assert.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))

	stats := f.series(t, series.ID).Stats
	assert.Equal(t, int64(0), stats.Waiting)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestContentDeliveryDedup(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	chat := testutil.CreateTestBlock(series.ID)
	f.seedSeries(t, series, []*models.Block{chat}, nil)

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	// A cursor left on a block that history says was already delivered:
	// the crash-recovery shape for at-least-once resumption.
	blockID := chat.ID
	now := f.clock.Now().UTC()
	progress := &models.Progress{
		ID:             "progress-recovered",
		WorkspaceID:    series.WorkspaceID,
		SeriesID:       series.ID,
		VisitorID:      visitor.ID,
		CurrentBlockID: &blockID,
		Status:         models.ProgressStatusActive,
		EnteredAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.store.ProgressRepository().Save(ctx, progress))
	require.NoError(t, f.store.HistoryRepository().Append(ctx, &models.HistoryEntry{
		ID:         "history-1",
		ProgressID: progress.ID,
		SeriesID:   series.ID,
		VisitorID:  visitor.ID,
		BlockID:    chat.ID,
		Action:     models.HistoryActionCompleted,
		Result:     "delivered",
		Timestamp:  now,
	}))

	require.NoError(t, f.engine.Run(ctx, progress.ID))

	assert.Equal(t, models.ProgressStatusCompleted, f.progress(t, progress.ID).Status)
	assert.Equal(t, 0, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))
}

func TestExitRuleSkipsAndExits(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries(testutil.WithExitRule(
		&models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "churned", Value: true},
	))
	chat := testutil.CreateTestBlock(series.ID)
	f.seedSeries(t, series, []*models.Block{chat}, nil)

	visitor := testutil.CreateTestVisitor(testutil.WithAttributes(map[string]any{"churned": true}))
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	progress := f.progress(t, result.ProgressID)
	assert.Equal(t, models.ProgressStatusExited, progress.Status)
	require.NotNil(t, progress.ExitedAt)

	assert.Equal(t, 0, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))

	history, err := f.store.HistoryRepository().GetByProgress(ctx, progress.ID)
	require.NoError(t, err)

	var skipped *models.HistoryEntry

	for _, entry := range history {
		if entry.Action == models.HistoryActionSkipped {
			skipped = entry
		}
	}

	require.NotNil(t, skipped)
	assert.Equal(t, "exit_rules_matched", skipped.Result)
	assert.Equal(t, chat.ID, skipped.BlockID)

	stats := f.series(t, series.ID).Stats
	assert.Equal(t, int64(1), stats.Exited)
	assert.Equal(t, int64(0), stats.Active)
}

func TestGoalRuleReachesGoal(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries(testutil.WithGoalRule(
		&models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "converted", Value: true},
	))
	chat := testutil.CreateTestBlock(series.ID)
	f.seedSeries(t, series, []*models.Block{chat}, nil)

	visitor := testutil.CreateTestVisitor(testutil.WithAttributes(map[string]any{"converted": true}))
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	progress := f.progress(t, result.ProgressID)
	assert.Equal(t, models.ProgressStatusGoalReached, progress.Status)
	assert.Equal(t, int64(1), f.series(t, series.ID).Stats.GoalReached)
}

func TestCyclicGraphFailsAtDepthBound(t *testing.T) {
	config := enabledConfig()
	config.MaxDepth = 10

	f := newFixture(t, config)
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	a := testutil.CreateTestBlock(series.ID, testutil.AsTagBlock(models.TagActionAdd, "loop-a"))
	b := testutil.CreateTestBlock(series.ID, testutil.AsTagBlock(models.TagActionAdd, "loop-b"))

	f.seedSeries(t, series, []*models.Block{a, b}, []*models.Connection{
		testutil.CreateTestConnection(series.ID, a.ID, b.ID, ""),
		testutil.CreateTestConnection(series.ID, b.ID, a.ID, ""),
	})

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	progress := f.progress(t, result.ProgressID)
	assert.Equal(t, models.ProgressStatusFailed, progress.Status)
	assert.Contains(t, progress.LastError, "execution depth exceeded")

	failed := f.publisher.byType(events.ProgressFailedEvent)
	require.Len(t, failed, 1)
}

func TestRetryBackoffAndExhaustion(t *testing.T) {
	config := enabledConfig()
	config.RetryBaseDelay = 5 * time.Minute

	f := newFixture(t, config)
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	chat := testutil.CreateTestBlock(series.ID)
	f.seedSeries(t, series, []*models.Block{chat}, nil)

	f.adapters[models.BlockTypeChat].FailBlocks[chat.ID] = "provider unavailable"

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	progress := f.progress(t, result.ProgressID)
	require.Equal(t, models.ProgressStatusWaiting, progress.Status)
	assert.Equal(t, 1, progress.AttemptCount)
	require.NotNil(t, progress.WaitUntil)
	assert.Equal(t, 5*time.Minute, progress.WaitUntil.Sub(f.clock.Now().UTC()))

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.engine.ResumeDue(ctx, progress.ID))

	progress = f.progress(t, progress.ID)
	require.Equal(t, models.ProgressStatusWaiting, progress.Status)
	assert.Equal(t, 2, progress.AttemptCount)

	// Second retry backs off twice the base delay.
	assert.Equal(t, 10*time.Minute, progress.WaitUntil.Sub(f.clock.Now().UTC()))

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.engine.ResumeDue(ctx, progress.ID))

	progress = f.progress(t, progress.ID)
	assert.Equal(t, models.ProgressStatusFailed, progress.Status)
	assert.Contains(t, progress.LastError, "provider unavailable")
	assert.Equal(t, 3, progress.AttemptCount)
	assert.Equal(t, int64(1), f.series(t, series.ID).Stats.Failed)

	// Delivery succeeds later runs are not attempted once terminal.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.engine.ResumeDue(ctx, progress.ID))
	assert.Equal(t, 3, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))
}

func TestPauseBailsOutWithoutMutation(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	wait := testutil.CreateTestBlock(series.ID, testutil.AsWaitBlock(1, models.WaitUnitHours))
	chat := testutil.CreateTestBlock(series.ID)

	f.seedSeries(t, series, []*models.Block{wait, chat}, []*models.Connection{
		testutil.CreateTestConnection(series.ID, wait.ID, chat.ID, ""),
	})

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	series.Status = models.SeriesStatusPaused
	require.NoError(t, f.store.SeriesRepository().Save(ctx, series))

	f.clock.Advance(time.Hour)

	err = f.engine.ResumeDue(ctx, result.ProgressID)
	require.ErrorIs(t, err, engine.ErrSeriesNotActive)

	progress := f.progress(t, result.ProgressID)
	assert.Equal(t, models.ProgressStatusWaiting, progress.Status)
	assert.NotNil(t, progress.WaitUntil)

	series.Status = models.SeriesStatusActive
	require.NoError(t, f.store.SeriesRepository().Save(ctx, series))

	require.NoError(t, f.engine.ResumeDue(ctx, result.ProgressID))
	assert.Equal(t, models.ProgressStatusCompleted, f.progress(t, result.ProgressID).Status)
}

func TestEventWaitResumesOnVisitorEvent(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	wait := testutil.CreateTestBlock(series.ID, testutil.AsEventWaitBlock("purchase_completed"))
	chat := testutil.CreateTestBlock(series.ID)

	f.seedSeries(t, series, []*models.Block{wait, chat}, []*models.Connection{
		testutil.CreateTestConnection(series.ID, wait.ID, chat.ID, ""),
	})

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	progress := f.progress(t, result.ProgressID)
	require.Equal(t, models.ProgressStatusWaiting, progress.Status)
	require.NotNil(t, progress.WaitEventName)
	assert.Equal(t, "purchase_completed", *progress.WaitEventName)
	assert.Nil(t, progress.WaitUntil)

	// A non-matching event does not wake the progress.
	require.NoError(t, f.engine.HandleVisitorEvent(ctx, visitor.WorkspaceID, visitor.ID, models.TriggerContext{
		Source:    models.TriggerSourceEvent,
		EventName: "page_viewed",
	}))
	assert.Equal(t, models.ProgressStatusWaiting, f.progress(t, progress.ID).Status)

	require.NoError(t, f.engine.HandleVisitorEvent(ctx, visitor.WorkspaceID, visitor.ID, models.TriggerContext{
		Source:    models.TriggerSourceEvent,
		EventName: "purchase_completed",
	}))
	assert.Equal(t, models.ProgressStatusCompleted, f.progress(t, progress.ID).Status)
	assert.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))
}

func TestVisitorEventAutoEnrollment(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	triggered := testutil.CreateTestSeries(testutil.WithTriggers(
		models.EntryTrigger{Source: models.TriggerSourceEvent, EventName: "signed_up"},
	))
	f.seedSeries(t, triggered, []*models.Block{testutil.CreateTestBlock(triggered.ID)}, nil)

	// Trigger-less series only accept manual enrollment.
	openSeries := testutil.CreateTestSeries(testutil.WithTriggers())
	f.seedSeries(t, openSeries, []*models.Block{testutil.CreateTestBlock(openSeries.ID)}, nil)

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	require.NoError(t, f.engine.HandleVisitorEvent(ctx, visitor.WorkspaceID, visitor.ID, models.TriggerContext{
		Source:    models.TriggerSourceEvent,
		EventName: "signed_up",
	}))

	inTriggered, err := f.store.ProgressRepository().GetByVisitorAndSeries(ctx, visitor.ID, triggered.ID)
	require.NoError(t, err)
	assert.Len(t, inTriggered, 1)

	inOpen, err := f.store.ProgressRepository().GetByVisitorAndSeries(ctx, visitor.ID, openSeries.ID)
	require.NoError(t, err)
	assert.Empty(t, inOpen)
}

func TestEnrollmentRaceConvergesToEarliest(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	wait := testutil.CreateTestBlock(series.ID, testutil.AsWaitBlock(1, models.WaitUnitDays))
	f.seedSeries(t, series, []*models.Block{wait}, nil)

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	first, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeEntered, first.Outcome)

	f.clock.Advance(time.Minute)

	second, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeAlreadyInSeries, second.Outcome)
	assert.Equal(t, first.ProgressID, second.ProgressID)

	rows, err := f.store.ProgressRepository().GetByVisitorAndSeries(ctx, visitor.ID, series.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ProgressID, rows[0].ID)

	// The loser's stats contribution is reverted.
	stats := f.series(t, series.ID).Stats
	assert.Equal(t, int64(1), stats.Entered)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestDuplicateEnrollmentDeliversOnce(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	chat := testutil.CreateTestBlock(series.ID)
	f.seedSeries(t, series, []*models.Block{chat}, nil)

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	first, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeEntered, first.Outcome)
	require.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))

	// A repeated trigger mints a second progress row with its own empty
	// trail; delivery idempotency is keyed by the pair, so the content
	// block must not fire again before reconciliation removes the row.
	f.clock.Advance(time.Minute)

	second, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeAlreadyInSeries, second.Outcome)
	assert.Equal(t, 1, f.adapters[models.BlockTypeChat].DeliveryCount(chat.ID))
}

func TestTagBlockWithoutConversationIsNoOp(t *testing.T) {
	f := newFixture(t, enabledConfig())
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	tag := testutil.CreateTestBlock(series.ID, testutil.AsTagBlock(models.TagActionAdd, "vip"))
	f.seedSeries(t, series, []*models.Block{tag}, nil)

	visitor := testutil.CreateTestVisitor(testutil.WithConversation(""))
	f.seedVisitor(t, visitor)

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.NoError(t, err)

	assert.Equal(t, models.ProgressStatusCompleted, f.progress(t, result.ProgressID).Status)
	assert.Empty(t, f.tags.Associations)
}

func TestOrchestrationKillSwitch(t *testing.T) {
	f := newFixture(t, engine.Config{OrchestrationEnabled: false})
	ctx := context.Background()

	series := testutil.CreateTestSeries()
	f.seedSeries(t, series, []*models.Block{testutil.CreateTestBlock(series.ID)}, nil)

	visitor := testutil.CreateTestVisitor()
	f.seedVisitor(t, visitor)

	_, err := f.engine.Enroll(ctx, series.ID, visitor.ID, manualTrigger())
	require.ErrorIs(t, err, engine.ErrOrchestrationDisabled)

	require.ErrorIs(t, f.engine.Run(ctx, "any"), engine.ErrOrchestrationDisabled)
	require.ErrorIs(t, f.engine.ResumeDue(ctx, "any"), engine.ErrOrchestrationDisabled)
	require.ErrorIs(t, f.engine.HandleVisitorEvent(ctx, "w", "v", manualTrigger()), engine.ErrOrchestrationDisabled)
}
