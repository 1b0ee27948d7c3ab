// Package events defines the event types published on the series bus:
// lifecycle changes, enrollment, resume triggers and delivery requests.
package events

import (
	"time"

	"github.com/engageline/series/pkg/models"
)

type EventType string

// Topic carries every series event; consumers route on the
// event_type metadata header.
const Topic = "series.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Series lifecycle events.
	SeriesActivatedEvent EventType = "series.activated"
	SeriesPausedEvent    EventType = "series.paused"
	SeriesArchivedEvent  EventType = "series.archived"

	// Visitor progression events.
	VisitorEnrolledEvent      EventType = "visitor.enrolled"
	VisitorEventReceivedEvent EventType = "visitor.event.received"
	ProgressResumeDueEvent    EventType = "progress.resume.due"
	ProgressCompletedEvent    EventType = "progress.completed"
	ProgressFailedEvent       EventType = "progress.failed"

	// Delivery events.
	ContentDeliveryRequestedEvent EventType = "content.delivery.requested"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkspaceID string         `json:"workspace_id"`
	SeriesID    string         `json:"series_id,omitempty"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type SeriesActivated struct {
	BaseEvent

	SeriesName string `json:"series_name"`
}

func (e SeriesActivated) GetType() EventType {
	return SeriesActivatedEvent
}

type SeriesPaused struct {
	BaseEvent

	ActiveProgress int `json:"active_progress"`
}

func (e SeriesPaused) GetType() EventType {
	return SeriesPausedEvent
}

type SeriesArchived struct {
	BaseEvent
}

func (e SeriesArchived) GetType() EventType {
	return SeriesArchivedEvent
}

type VisitorEnrolled struct {
	BaseEvent

	ProgressID    string               `json:"progress_id"`
	VisitorID     string               `json:"visitor_id"`
	TriggerSource models.TriggerSource `json:"trigger_source"`
	EventName     string               `json:"event_name,omitempty"`
}

func (e VisitorEnrolled) GetType() EventType {
	return VisitorEnrolledEvent
}

// VisitorEventReceived carries an inbound visitor-side occurrence that may
// match entry triggers or wake event waits.
type VisitorEventReceived struct {
	BaseEvent

	VisitorID      string               `json:"visitor_id"`
	Source         models.TriggerSource `json:"source"`
	EventName      string               `json:"event_name,omitempty"`
	AttributeKey   string               `json:"attribute_key,omitempty"`
	FromValue      *string              `json:"from_value,omitempty"`
	ToValue        *string              `json:"to_value,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
	ConversationID string               `json:"conversation_id,omitempty"`
}

func (e VisitorEventReceived) GetType() EventType {
	return VisitorEventReceivedEvent
}

// ProgressResumeDue tells a worker that a waiting progress reached its
// wake time. Delivery is at-least-once; the engine re-checks the clock.
type ProgressResumeDue struct {
	BaseEvent

	ProgressID string    `json:"progress_id"`
	VisitorID  string    `json:"visitor_id"`
	DueAt      time.Time `json:"due_at"`
}

func (e ProgressResumeDue) GetType() EventType {
	return ProgressResumeDueEvent
}

type ProgressCompleted struct {
	BaseEvent

	ProgressID string                `json:"progress_id"`
	VisitorID  string                `json:"visitor_id"`
	Status     models.ProgressStatus `json:"status"`
	DurationMs int64                 `json:"duration_ms"`
}

func (e ProgressCompleted) GetType() EventType {
	return ProgressCompletedEvent
}

type ProgressFailed struct {
	BaseEvent

	ProgressID   string `json:"progress_id"`
	VisitorID    string `json:"visitor_id"`
	BlockID      string `json:"block_id"`
	Error        string `json:"error"`
	AttemptCount int    `json:"attempt_count"`
}

func (e ProgressFailed) GetType() EventType {
	return ProgressFailedEvent
}

// ContentDeliveryRequested asks the channel infrastructure to deliver one
// rendered content block to one visitor.
type ContentDeliveryRequested struct {
	BaseEvent

	ProgressID string           `json:"progress_id"`
	VisitorID  string           `json:"visitor_id"`
	BlockID    string           `json:"block_id"`
	Channel    models.BlockType `json:"channel"`
	Subject    string           `json:"subject,omitempty"`
	Title      string           `json:"title,omitempty"`
	Body       string           `json:"body"`
}

func (e ContentDeliveryRequested) GetType() EventType {
	return ContentDeliveryRequestedEvent
}
