package competition

import (
	"context"
	"time"
)

// Poller runs a check function on a fixed interval until the context is
// cancelled or MaxRuns checks have completed. Runs never overlap; a slow
// check simply delays the next tick.
type Poller struct {
	Interval time.Duration
	// MaxRuns caps the number of checks; zero means unlimited.
	MaxRuns int
	Check   func(ctx context.Context) error
	// OnError receives check failures. Nil means failures are dropped.
	OnError func(err error)
}

// Run performs one immediate check and then ticks. It returns the
// context error on cancellation, nil when MaxRuns is reached.
func (p *Poller) Run(ctx context.Context) error {
	runs := 0
	run := func() bool {
		if err := p.Check(ctx); err != nil && p.OnError != nil {
			p.OnError(err)
		}
		runs++
		return p.MaxRuns > 0 && runs >= p.MaxRuns
	}
	if run() {
		return nil
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if run() {
				return nil
			}
		}
	}
}
