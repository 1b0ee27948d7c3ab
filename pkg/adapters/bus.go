// Package adapters ships the reference content adapters. The bus adapter
// hands delivery off to downstream channel workers over the event bus;
// real provider integration lives outside this repository.
package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/events"
	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/protocol"
)

// BusContentAdapter publishes a ContentDeliveryRequested event per
// delivery. Prerequisite checks happen here; the downstream worker only
// sees deliverable requests.
type BusContentAdapter struct {
	channel   models.BlockType
	publisher eventbus.EventPublisher
}

func NewBusContentAdapter(channel models.BlockType, publisher eventbus.EventPublisher) *BusContentAdapter {
	return &BusContentAdapter{channel: channel, publisher: publisher}
}

// NewBusContentAdapters returns one bus adapter per content channel.
func NewBusContentAdapters(publisher eventbus.EventPublisher) []protocol.ContentAdapter {
	adapters := make([]protocol.ContentAdapter, 0, len(models.ContentBlockTypes))
	for channel := range models.ContentBlockTypes {
		adapters = append(adapters, NewBusContentAdapter(channel, publisher))
	}

	return adapters
}

func (a *BusContentAdapter) Channel() models.BlockType {
	return a.channel
}

func (a *BusContentAdapter) AttemptDelivery(ctx context.Context, delivery protocol.DeliveryContext) protocol.DeliveryResult {
	config, ok := delivery.Block.Config.(*models.ContentConfig)
	if !ok {
		return protocol.DeliveryResult{Failed: true, Err: fmt.Sprintf("block %s has no content configuration", delivery.Block.ID)}
	}

	if reason := a.contactability(delivery.Visitor); reason != "" {
		return protocol.DeliveryResult{Failed: true, Err: reason}
	}

	event := events.ContentDeliveryRequested{
		BaseEvent: events.BaseEvent{
			ID:          uuid.New().String(),
			Type:        events.ContentDeliveryRequestedEvent,
			WorkspaceID: delivery.WorkspaceID,
			SeriesID:    delivery.SeriesID,
		},
		ProgressID: delivery.ProgressID,
		VisitorID:  delivery.Visitor.ID,
		BlockID:    delivery.Block.ID,
		Channel:    a.channel,
		Subject:    config.Subject,
		Title:      config.Title,
		Body:       config.Body,
	}

	if err := a.publisher.Publish(ctx, delivery.SeriesID, event); err != nil {
		return protocol.DeliveryResult{Attempted: true, Failed: true, Err: fmt.Sprintf("publish delivery request: %s", err)}
	}

	return protocol.DeliveryResult{Attempted: true}
}

// contactability reports why the visitor cannot receive this channel, or
// empty when deliverable.
func (a *BusContentAdapter) contactability(visitor *models.Visitor) string {
	switch a.channel {
	case models.BlockTypeEmail:
		if strings.TrimSpace(visitor.Email) == "" {
			return "visitor has no email address"
		}
	case models.BlockTypePush:
		if strings.TrimSpace(visitor.PushToken) == "" {
			return "visitor has no push token"
		}
	}

	return ""
}
