package session

import (
	"context"
	"time"

	"examhall/internal/exam"
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type wallTicker struct {
	t *time.Ticker
}

// NewTicker ticks once per second on the wall clock.
func NewTicker() Ticker {
	return &wallTicker{t: time.NewTicker(time.Second)}
}

func (w *wallTicker) C() <-chan time.Time { return w.t.C }

func (w *wallTicker) Stop() { w.t.Stop() }

// Run drives Tick from t until the session is submitted or ctx ends. A failed
// timeout submission is returned; the caller may still retry with Submit.
func (c *Controller) Run(ctx context.Context, t Ticker) (*exam.Submission, error) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return c.Result(), nil
		case <-t.C():
			sub, err := c.Tick(ctx)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				return sub, nil
			}
		}
	}
}
