package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/progress"
)

// Publisher delivers one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// Notice is the completion message published for a finished site or batch.
type Notice struct {
	RunID      string    `json:"run_id"`
	Site       string    `json:"site,omitempty"`
	Status     string    `json:"status"`
	Steps      int64     `json:"steps,omitempty"`
	Note       string    `json:"note,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// PubSubSink publishes a Notice for every RUN_DONE and RUN_ERROR event.
// Other stages are ignored.
type PubSubSink struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewPubSubSink constructs a PubSubSink.
func NewPubSubSink(publisher Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{publisher: publisher, logger: logger}
}

// Consume implements progress.Sink.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		var status string
		switch evt.Stage {
		case progress.StageRunDone:
			status = "success"
		case progress.StageRunError:
			status = "error"
		default:
			continue
		}
		notice := Notice{
			RunID:      evt.RunUUID().String(),
			Site:       evt.Site,
			Status:     status,
			Steps:      evt.Steps,
			Note:       evt.Note,
			DurationMS: evt.Dur.Milliseconds(),
			FinishedAt: evt.TS.UTC(),
		}
		attrs := map[string]string{
			"run_id": notice.RunID,
			"status": status,
		}
		if evt.Site != "" {
			attrs["site"] = evt.Site
		}
		id, err := s.publisher.Publish(ctx, notice, attrs)
		if err != nil {
			return fmt.Errorf("publish completion notice: %w", err)
		}
		s.logger.Debug("completion notice published",
			zap.String("run_id", notice.RunID),
			zap.String("site", evt.Site),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close implements progress.Sink. The publisher is closed by its owner.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}
