package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/RelayDigital/vrem-sub004/internal/services"
)

// PubSubCalendarPublisher publishes calendar sync events to a Pub/Sub topic
// consumed by the calendar worker.
type PubSubCalendarPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCalendarPublisher constructs a Pub/Sub backed calendar publisher.
func NewPubSubCalendarPublisher(topic *pubsub.Topic) (*PubSubCalendarPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub calendar publisher: topic is required")
	}
	return &PubSubCalendarPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCalendarEvent enqueues a calendar sync message on the configured topic.
func (p *PubSubCalendarPublisher) PublishCalendarEvent(ctx context.Context, message services.CalendarEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub calendar publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal calendar event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "action", message.Action)
	setAttr(attrs, "projectId", message.ProjectID)
	setAttr(attrs, "orgId", message.OrgID)
	setAttr(attrs, "assigneeId", message.AssigneeID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish calendar event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var _ services.CalendarPublisher = (*PubSubCalendarPublisher)(nil)
