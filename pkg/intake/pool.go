package intake

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool consumes anchored events from a channel with a fixed number of
// workers. Each event is one unit of work; event-level failures are
// logged and recorded on the stored event, they do not stop the pool.
type Pool struct {
	intake  *Intake
	workers int
	log     *slog.Logger
}

// NewPool builds a worker pool over the intake.
func NewPool(i *Intake, workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{intake: i, workers: workers, log: log.With("component", "intake_pool")}
}

// Run processes events until the channel closes or the context is
// cancelled.
func (p *Pool) Run(ctx context.Context, events <-chan AnchoredEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < p.workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					res, err := p.intake.Handle(ctx, ev)
					if err != nil {
						p.log.ErrorContext(ctx, "event handling failed",
							"content_hash", ev.ContentHash, "action", ev.ActionName, "error", err)
						continue
					}
					p.log.DebugContext(ctx, "event handled",
						"content_hash", ev.ContentHash, "status", res.Status)
				}
			}
		})
	}
	return g.Wait()
}
