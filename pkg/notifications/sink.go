package notifications

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/chasef07/marketplace/pkg/metrics"
	"github.com/chasef07/marketplace/pkg/models"
)

// Sink derives notifications from engine transitions and writes them to the
// feed. It plugs into the engine as a transition sink.
type Sink struct {
	feed   Feed
	logger ectologger.Logger
}

// NewSink creates a sink writing to the given feed.
func NewSink(feed Feed, logger ectologger.Logger) *Sink {
	return &Sink{feed: feed, logger: logger}
}

func (s *Sink) HandleTransition(ctx context.Context, t models.Transition) error {
	for _, n := range Derive(t) {
		if err := s.feed.Add(ctx, n); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": n.NegotiationID,
				"recipient":      n.Recipient,
				"kind":           n.Kind,
			}).Error("failed to store notification")
			return err
		}
		metrics.NotificationsDerivedTotal.WithLabelValues(string(n.Kind)).Inc()
	}
	return nil
}
