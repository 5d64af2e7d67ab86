package service

import (
	"context"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/rs/zerolog"
)

// Notifier reports terminal marker transitions. Delivery to people is out
// of scope; the log line is the hand-off point.
type Notifier struct {
	bus *EventBus
	log zerolog.Logger
}

func NewNotifier(bus *EventBus, log zerolog.Logger) *Notifier {
	return &Notifier{bus: bus, log: log.With().Str("component", "notifier").Logger()}
}

// Run consumes events until ctx is done, then drains what is buffered.
func (n *Notifier) Run(ctx context.Context) {
	ch := n.bus.SubscribeAll()
	for {
		select {
		case ev := <-ch:
			n.handle(ev)
		case <-ctx.Done():
			n.bus.UnsubscribeAll(ch)
			for ev := range ch {
				n.handle(ev)
			}
			return
		}
	}
}

func (n *Notifier) handle(ev MarkerEvent) {
	switch ev.Status {
	case domain.MarkerStatusReady:
		n.log.Info().
			Str("content_id", ev.ContentID).
			Str("job_id", ev.JobID).
			Int("attempt", ev.Attempt).
			Msg("marker ready notification")
	case domain.MarkerStatusFailed:
		n.log.Warn().
			Str("content_id", ev.ContentID).
			Str("job_id", ev.JobID).
			Int("attempt", ev.Attempt).
			Str("error_kind", string(ev.ErrorKind)).
			Str("error", ev.Message).
			Msg("marker failed notification")
	}
}
