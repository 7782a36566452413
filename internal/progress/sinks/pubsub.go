package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
)

// PubSubSink publishes progress events to a Google Cloud Pub/Sub topic so
// downstream dashboards can follow long comparison runs in near real time.
type PubSubSink struct {
	topic *pubsub.Topic
}

// pubsubEvent is the JSON wire form of a progress event.
type pubsubEvent struct {
	RunID   string        `json:"run_id"`
	TS      time.Time     `json:"ts"`
	Stage   string        `json:"stage"`
	Role    string        `json:"role,omitempty"`
	Ordinal int           `json:"ordinal,omitempty"`
	Key     string        `json:"key,omitempty"`
	Status  int           `json:"status,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	DurMS   int64         `json:"dur_ms,omitempty"`
	Note    string        `json:"note,omitempty"`
}

// NewPubSubSink constructs a sink publishing to the provided topic.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume publishes each event and waits for server acknowledgements so that
// failures surface to the hub instead of vanishing in the async publisher.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.topic == nil {
		return nil
	}
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(pubsubEvent{
			RunID:   uuid.UUID(evt.RunID).String(),
			TS:      evt.TS,
			Stage:   string(evt.Stage),
			Role:    evt.Role,
			Ordinal: evt.Ordinal,
			Key:     evt.Key,
			Status:  evt.Status,
			Reason:  evt.Reason,
			DurMS:   evt.Dur.Milliseconds(),
			Note:    evt.Note,
		})
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"stage": string(evt.Stage)},
		}))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish progress event: %w", err)
		}
	}
	return nil
}

// Close stops the topic's background publisher goroutines.
func (s *PubSubSink) Close(context.Context) error {
	if s != nil && s.topic != nil {
		s.topic.Stop()
	}
	return nil
}
