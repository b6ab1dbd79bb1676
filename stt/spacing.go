package stt

import (
	"context"
	"time"
)

// Gate admits one call at a time and keeps at least spacing between the
// end of one call and the start of the next.
type Gate struct {
	spacing time.Duration
	slot    chan struct{}
	last    time.Time // guarded by slot
	now     func() time.Time
}

func NewGate(spacing time.Duration) *Gate {
	g := &Gate{
		spacing: spacing,
		slot:    make(chan struct{}, 1),
		now:     time.Now,
	}
	g.slot <- struct{}{}
	return g
}

func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-g.slot:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { g.slot <- struct{}{} }()

	if !g.last.IsZero() {
		if wait := g.spacing - g.now().Sub(g.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	defer func() { g.last = g.now() }()
	return fn(ctx)
}
