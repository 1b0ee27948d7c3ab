package scheduler_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engageline/series/pkg/channels/gochannel"
	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence/file"
	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/scheduler"
	"github.com/engageline/series/pkg/testutil"
)

type fixture struct {
	store     *file.Persistence
	engine    *engine.Engine
	bus       eventbus.EventBus
	clock     *clockwork.FakeClock
	scheduler *scheduler.Scheduler
	adapter   *testutil.FakeContentAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))

	// The engine publishes follow-up events from inside bus handlers, so
	// the blocking test channel would deadlock here.
	publisher, subscriber, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)
	t.Cleanup(func() { _ = bus.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	adapter := testutil.NewFakeContentAdapter(models.BlockTypeChat)

	eng := engine.NewEngine(
		logger,
		store,
		testutil.PassEvaluator{},
		[]protocol.ContentAdapter{adapter},
		testutil.NewFakeTagStore(),
		bus,
		clock,
		engine.Config{OrchestrationEnabled: true},
	)

	sched, err := scheduler.NewScheduler(logger, store, eng, bus, clock, "* * * * *")
	require.NoError(t, err)

	return &fixture{store: store, engine: eng, bus: bus, clock: clock, scheduler: sched, adapter: adapter}
}

func (f *fixture) seedWaitingProgress(t *testing.T) (seriesID, progressID, chatBlockID string) {
	t.Helper()

	ctx := context.Background()
	series := testutil.CreateTestSeries()
	wait := testutil.CreateTestBlock(series.ID, testutil.AsWaitBlock(1, models.WaitUnitHours))
	chat := testutil.CreateTestBlock(series.ID)

	require.NoError(t, f.store.SeriesRepository().Save(ctx, series))

	for _, block := range []*models.Block{wait, chat} {
		require.NoError(t, f.store.BlockRepository().Save(ctx, block))
	}

	require.NoError(t, f.store.ConnectionRepository().Save(ctx,
		testutil.CreateTestConnection(series.ID, wait.ID, chat.ID, "")))

	visitor := testutil.CreateTestVisitor()
	require.NoError(t, f.store.VisitorRepository().Save(ctx, visitor))

	result, err := f.engine.Enroll(ctx, series.ID, visitor.ID, models.TriggerContext{Source: models.TriggerSourceManual})
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeEntered, result.Outcome)

	progress, err := f.store.ProgressRepository().GetByID(ctx, result.ProgressID)
	require.NoError(t, err)
	require.Equal(t, models.ProgressStatusWaiting, progress.Status)

	return series.ID, result.ProgressID, chat.ID
}

func TestNewSchedulerRejectsInvalidExpression(t *testing.T) {
	_, err := scheduler.NewScheduler(
		slog.New(slog.NewTextHandler(os.Stdout, nil)),
		file.NewPersistence(t.TempDir()),
		nil,
		nil,
		clockwork.NewFakeClock(),
		"not a cron",
	)

	require.ErrorIs(t, err, scheduler.ErrInvalidSweepExpression)
}

func TestSweepResumesOverdueProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, progressID, chatBlockID := f.seedWaitingProgress(t)

	// Not yet due: the sweep leaves the row waiting.
	f.scheduler.Sweep(ctx)

	progress, err := f.store.ProgressRepository().GetByID(ctx, progressID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusWaiting, progress.Status)

	f.clock.Advance(time.Hour)

	f.scheduler.Sweep(ctx)

	progress, err = f.store.ProgressRepository().GetByID(ctx, progressID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusCompleted, progress.Status)
	assert.Equal(t, 1, f.adapter.DeliveryCount(chatBlockID))
}

func TestResumeTaskFromBus(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.scheduler.Start(ctx))
	t.Cleanup(func() { _ = f.scheduler.Stop(context.Background()) })

	seriesID, progressID, chatBlockID := f.seedWaitingProgress(t)

	f.clock.Advance(time.Hour)

	require.NoError(t, f.bus.Publish(ctx, seriesID, events.ProgressResumeDue{
		BaseEvent:  events.BaseEvent{ID: f.bus.GenerateID(), Type: events.ProgressResumeDueEvent, WorkspaceID: "workspace-1", SeriesID: seriesID},
		ProgressID: progressID,
		DueAt:      f.clock.Now().UTC(),
	}))

	assert.Eventually(t, func() bool {
		progress, err := f.store.ProgressRepository().GetByID(context.Background(), progressID)

		return err == nil && progress.Status == models.ProgressStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, f.adapter.DeliveryCount(chatBlockID))
}

func TestVisitorEventFromBusEnrolls(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.scheduler.Start(ctx))
	t.Cleanup(func() { _ = f.scheduler.Stop(context.Background()) })

	series := testutil.CreateTestSeries(testutil.WithTriggers(
		models.EntryTrigger{Source: models.TriggerSourceEvent, EventName: "signed_up"},
	))
	block := testutil.CreateTestBlock(series.ID)

	require.NoError(t, f.store.SeriesRepository().Save(ctx, series))
	require.NoError(t, f.store.BlockRepository().Save(ctx, block))

	visitor := testutil.CreateTestVisitor()
	require.NoError(t, f.store.VisitorRepository().Save(ctx, visitor))

	require.NoError(t, f.bus.Publish(ctx, visitor.ID, events.VisitorEventReceived{
		BaseEvent:  events.BaseEvent{ID: f.bus.GenerateID(), Type: events.VisitorEventReceivedEvent, WorkspaceID: visitor.WorkspaceID},
		VisitorID:  visitor.ID,
		Source:     models.TriggerSourceEvent,
		EventName:  "signed_up",
		OccurredAt: f.clock.Now().UTC(),
	}))

	assert.Eventually(t, func() bool {
		rows, err := f.store.ProgressRepository().GetByVisitorAndSeries(context.Background(), visitor.ID, series.ID)

		return err == nil && len(rows) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopIsIdempotentAndRestartable(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.scheduler.Start(ctx))
	require.NoError(t, f.scheduler.Stop(ctx))
	require.NoError(t, f.scheduler.Stop(ctx))

	// A stopped scheduler must come back up with a fresh poller.
	require.NoError(t, f.scheduler.Start(ctx))
	require.NoError(t, f.scheduler.Stop(ctx))
}
