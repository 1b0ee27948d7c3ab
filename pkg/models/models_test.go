package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestEntryTriggerMatches(t *testing.T) {
	tests := []struct {
		name    string
		trigger EntryTrigger
		ctx     TriggerContext
		want    bool
	}{
		{
			name:    "event trigger matches same event name",
			trigger: EntryTrigger{Source: TriggerSourceEvent, EventName: "signed_up"},
			ctx:     TriggerContext{Source: TriggerSourceEvent, EventName: "signed_up"},
			want:    true,
		},
		{
			name:    "event trigger rejects other event",
			trigger: EntryTrigger{Source: TriggerSourceEvent, EventName: "signed_up"},
			ctx:     TriggerContext{Source: TriggerSourceEvent, EventName: "upgraded"},
			want:    false,
		},
		{
			name:    "empty event name is a wildcard",
			trigger: EntryTrigger{Source: TriggerSourceEvent},
			ctx:     TriggerContext{Source: TriggerSourceEvent, EventName: "anything"},
			want:    true,
		},
		{
			name:    "source mismatch never matches",
			trigger: EntryTrigger{Source: TriggerSourceEvent},
			ctx:     TriggerContext{Source: TriggerSourceAttribute, AttributeKey: "plan"},
			want:    false,
		},
		{
			name: "attribute trigger requires exact from/to when set",
			trigger: EntryTrigger{
				Source:       TriggerSourceAttribute,
				AttributeKey: "plan",
				FromValue:    strPtr("free"),
				ToValue:      strPtr("pro"),
			},
			ctx: TriggerContext{
				Source:       TriggerSourceAttribute,
				AttributeKey: "plan",
				FromValue:    strPtr("free"),
				ToValue:      strPtr("pro"),
			},
			want: true,
		},
		{
			name: "attribute trigger rejects wrong to value",
			trigger: EntryTrigger{
				Source:       TriggerSourceAttribute,
				AttributeKey: "plan",
				ToValue:      strPtr("pro"),
			},
			ctx: TriggerContext{
				Source:       TriggerSourceAttribute,
				AttributeKey: "plan",
				ToValue:      strPtr("enterprise"),
			},
			want: false,
		},
		{
			name: "attribute trigger missing values acts as wildcard",
			trigger: EntryTrigger{
				Source:       TriggerSourceAttribute,
				AttributeKey: "plan",
			},
			ctx: TriggerContext{
				Source:       TriggerSourceAttribute,
				AttributeKey: "plan",
				FromValue:    strPtr("free"),
				ToValue:      strPtr("pro"),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trigger.Matches(tt.ctx))
		})
	}
}

func TestSeriesAcceptsTrigger(t *testing.T) {
	series := &Series{}
	assert.True(t, series.AcceptsTrigger(TriggerContext{Source: TriggerSourceManual}),
		"series with no triggers accepts any attempt")

	series.Triggers = []EntryTrigger{{Source: TriggerSourceEvent, EventName: "signed_up"}}
	assert.True(t, series.AcceptsTrigger(TriggerContext{Source: TriggerSourceEvent, EventName: "signed_up"}))
	assert.False(t, series.AcceptsTrigger(TriggerContext{Source: TriggerSourceManual}))
}

func TestBlockConfigUnionJSON(t *testing.T) {
	block := Block{
		ID:       "b1",
		SeriesID: "s1",
		Type:     BlockTypeWait,
		Config:   &WaitConfig{Mode: WaitModeDuration, Duration: 2, Unit: WaitUnitHours},
	}

	data, err := json.Marshal(block)
	require.NoError(t, err)

	var decoded Block

	require.NoError(t, json.Unmarshal(data, &decoded))

	wait, ok := decoded.Config.(*WaitConfig)
	require.True(t, ok, "config should decode into the wait variant")
	assert.Equal(t, WaitModeDuration, wait.Mode)
	assert.Equal(t, int64(2), wait.Duration)
	assert.Equal(t, WaitUnitHours, wait.Unit)
}

func TestBlockUnmarshalRejectsUnknownType(t *testing.T) {
	var block Block

	err := json.Unmarshal([]byte(`{"id":"b1","type":"teleport","config":{}}`), &block)
	require.ErrorIs(t, err, ErrUnknownBlockType)
}

func TestBlockValidateMismatchedConfig(t *testing.T) {
	block := Block{ID: "b1", Type: BlockTypeRule, Config: &WaitConfig{Mode: WaitModeEvent, EventName: "x"}}
	require.ErrorIs(t, block.Validate(), ErrInvalidBlockConfig)
}

func TestWaitConfigWakeTime(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	wait := &WaitConfig{Mode: WaitModeDuration, Duration: 2, Unit: WaitUnitHours}
	wake, err := wait.WakeTime(now)
	require.NoError(t, err)
	assert.Equal(t, int64(7_200_000), wake.Sub(now).Milliseconds())

	date := now.Add(48 * time.Hour)
	wait = &WaitConfig{Mode: WaitModeDate, Date: &date}
	wake, err = wait.WakeTime(now)
	require.NoError(t, err)
	assert.True(t, wake.Equal(date))

	wait = &WaitConfig{Mode: WaitModeDuration, Duration: -1, Unit: WaitUnitHours}
	_, err = wait.WakeTime(now)
	require.ErrorIs(t, err, ErrInvalidBlockConfig)

	wait = &WaitConfig{Mode: WaitModeEvent, EventName: "order_placed"}
	_, err = wait.WakeTime(now)
	require.ErrorIs(t, err, ErrInvalidBlockConfig, "event waits have no wake time")
}

func TestContentConfigValidate(t *testing.T) {
	email := &ContentConfig{Subject: "Welcome", Body: "Hello"}
	require.NoError(t, email.Validate(BlockTypeEmail))

	require.ErrorIs(t, (&ContentConfig{Body: "no subject"}).Validate(BlockTypeEmail), ErrInvalidBlockConfig)
	require.ErrorIs(t, (&ContentConfig{Title: "no body"}).Validate(BlockTypePush), ErrInvalidBlockConfig)

	// In-app content may be empty at the config level.
	require.NoError(t, (&ContentConfig{}).Validate(BlockTypeChat))
}

func TestTagConfig(t *testing.T) {
	tag := &TagConfig{Action: TagActionAdd, Name: "  VIP Customer "}
	require.NoError(t, tag.Validate(BlockTypeTag))
	assert.Equal(t, "vip customer", tag.NormalizedName())

	require.ErrorIs(t, (&TagConfig{Action: "toggle", Name: "x"}).Validate(BlockTypeTag), ErrInvalidBlockConfig)
	require.ErrorIs(t, (&TagConfig{Action: TagActionRemove, Name: "  "}).Validate(BlockTypeTag), ErrInvalidBlockConfig)
}

func TestProgressBefore(t *testing.T) {
	earlier := Progress{ID: "b", EnteredAt: time.Unix(100, 0)}
	later := Progress{ID: "a", EnteredAt: time.Unix(200, 0)}

	assert.True(t, earlier.Before(&later))
	assert.False(t, later.Before(&earlier))

	// Same timestamp falls back to id ordering.
	tied := Progress{ID: "a", EnteredAt: time.Unix(100, 0)}
	assert.True(t, tied.Before(&earlier))
}

func TestProgressStatusIsTerminal(t *testing.T) {
	assert.False(t, ProgressStatusActive.IsTerminal())
	assert.False(t, ProgressStatusWaiting.IsTerminal())

	for _, status := range []ProgressStatus{
		ProgressStatusCompleted, ProgressStatusExited, ProgressStatusGoalReached, ProgressStatusFailed,
	} {
		assert.True(t, status.IsTerminal(), string(status))
	}
}
