package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/eventgate/internal/messaging"
	"github.com/telhawk-systems/eventgate/internal/models"
)

// JetStreamScheduler publishes admitted events to events.ingest.<channel>.
// Workers consume them with explicit acks.
type JetStreamScheduler struct {
	pub messaging.Publisher
}

func NewJetStreamScheduler(pub messaging.Publisher) *JetStreamScheduler {
	return &JetStreamScheduler{pub: pub}
}

func (s *JetStreamScheduler) Schedule(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	msg := &messaging.Message{
		Subject: messaging.IngestSubject(event.Channel),
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderCorrelationID: event.CorrelationID,
			messaging.HeaderEventID:       event.EventID,
			messaging.HeaderChannel:       event.Channel,
		},
	}

	if err := s.pub.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("schedule event %s: %w", event.EventID, err)
	}
	return nil
}
