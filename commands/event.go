package commands

import (
	"context"
	"encoding/json"

	"regjournal/infra/kafka"
)

// PublishEvent announces a registration. Its rollback announces the
// retraction under the same event id, so consumers can pair the two.
type PublishEvent struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Type string `json:"type"`

	events kafka.Publisher
}

func NewPublishEvent(events kafka.Publisher, id, code string) *PublishEvent {
	return &PublishEvent{ID: id, Code: code, Type: kafka.EventRegistered, events: events}
}

func (c *PublishEvent) Kind() string                   { return KindPublishEvent }
func (c *PublishEvent) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *PublishEvent) String() string                 { return "publish " + c.Type + " " + c.Code }

func (c *PublishEvent) Execute(ctx context.Context) error {
	if c.events == nil {
		return errNoDeps
	}
	return kafka.PublishEvent(ctx, c.events, kafka.Event{Type: c.Type, ID: c.ID, Code: c.Code})
}

func (c *PublishEvent) Rollback(ctx context.Context) error {
	if c.events == nil {
		return errNoDeps
	}
	return kafka.PublishEvent(ctx, c.events, kafka.Event{Type: kafka.EventRetracted, ID: c.ID, Code: c.Code})
}
