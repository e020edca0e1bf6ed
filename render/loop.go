package render

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/facial-attribute-service/models"

	"github.com/sirupsen/logrus"
)

// Source produces the overlay for one render tick.
type Source interface {
	Render(now time.Time) models.Overlay
}

// Consumer receives every rendered overlay. Consume runs on the render
// goroutine and must not block on network or inference.
type Consumer interface {
	Consume(ctx context.Context, overlay models.Overlay) error
}

// Loop polls the source at a fixed interval. The source never calls back
// into the loop or its consumers.
type Loop struct {
	source    Source
	interval  time.Duration
	consumers []Consumer
	latest    atomic.Pointer[models.Overlay]
	log       logrus.FieldLogger
}

func NewLoop(source Source, interval time.Duration, logger logrus.FieldLogger, consumers ...Consumer) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{
		source:    source,
		interval:  interval,
		consumers: consumers,
		log:       logger.WithField("component", "render"),
	}
}

func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.WithField("interval", l.interval).Info("render loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("render loop stopped")
			return
		case now := <-ticker.C:
			l.Tick(ctx, now)
		}
	}
}

// Tick renders one overlay, keeps it as the latest and hands it to every
// consumer. A failing consumer does not stop the others.
func (l *Loop) Tick(ctx context.Context, now time.Time) models.Overlay {
	overlay := l.source.Render(now)
	l.latest.Store(&overlay)

	for _, c := range l.consumers {
		if err := c.Consume(ctx, overlay); err != nil {
			l.log.WithError(err).Debug("overlay consumer failed")
		}
	}
	return overlay
}

// Latest returns the overlay of the most recent tick.
func (l *Loop) Latest() (models.Overlay, bool) {
	overlay := l.latest.Load()
	if overlay == nil {
		return models.Overlay{}, false
	}
	return *overlay, true
}
