package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultDispatchInterval = 33 * time.Millisecond

// Dispatcher drains the pending frame slot on a fixed tick. Each taken frame
// is processed on its own goroutine; the gate sheds the ones that arrive
// while an inference is running.
type Dispatcher struct {
	pipeline *Pipeline
	interval time.Duration
	log      logrus.FieldLogger

	wg sync.WaitGroup
}

func NewDispatcher(p *Pipeline, interval time.Duration, logger logrus.FieldLogger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		pipeline: p,
		interval: interval,
		log:      logger.WithField("component", "dispatcher"),
	}
}

// Run ticks until ctx is done, then waits for dispatched frames to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.WithField("interval", d.interval).Info("frame dispatch started")
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.log.Info("frame dispatch stopped")
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick hands the pending frame, if any, to the pipeline and reports whether
// there was one.
func (d *Dispatcher) Tick() bool {
	frame := d.pipeline.TakeFrame()
	if frame == nil {
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pipeline.ProcessFrame(frame)
	}()
	return true
}

// Wait blocks until every dispatched frame has been processed or dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
