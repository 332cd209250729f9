// README: Fire-and-forget fan-out of domain events to notification sinks.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropmart/internal/logger"
)

// Sink delivers one event to one channel. Retries are the channel's concern.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher publishes asynchronously so collaborator latency never blocks
// order-state progress.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(log *zap.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, log: logger.OrNop(log)}
}

// Emit returns immediately. A nil Dispatcher drops events.
func (d *Dispatcher) Emit(ev Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range d.sinks {
			s := s
			g.Go(func() error {
				if err := s.Publish(gctx, ev); err != nil {
					d.log.Warn("[Emit] publish failed",
						zap.String("sink", s.Name()),
						zap.String("event", string(ev.Type)),
						zap.Error(err))
					return err
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until in-flight publishes finish; used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
