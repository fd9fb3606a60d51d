package checkout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/scanbill/internal/domain/unit"
)

// Sweeper releases units that stayed SOLD without an order for longer than
// the lease. Such units are left behind by checkouts abandoned between
// reservation and order creation. The lease must exceed the checkout timeout
// so that in-flight checkouts are never swept.
type Sweeper struct {
	ledger  unit.Ledger
	lease   time.Duration
	now     func() time.Time
	metrics *metrics
	// lastPass holds the unix nanos of the last completed pass.
	lastPass atomic.Int64
}

// NewSweeper creates a Sweeper with the given lease.
func NewSweeper(ledger unit.Ledger, lease time.Duration, mp metric.MeterProvider) (*Sweeper, error) {
	if lease <= 0 {
		return nil, errors.New("sweeper lease must be positive")
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m, err := newMetrics(mp)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	s := &Sweeper{
		ledger:  ledger,
		lease:   lease,
		now:     time.Now,
		metrics: m,
	}
	s.lastPass.Store(s.now().UnixNano())
	return s, nil
}

// LastPass returns when the last pass completed, or the creation time
// before the first pass.
func (s *Sweeper) LastPass() time.Time {
	return time.Unix(0, s.lastPass.Load())
}

// Sweep runs one pass and returns the number of released units.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	orphans, err := s.ledger.Orphans(ctx, s.now().Add(-s.lease))
	if err != nil {
		return 0, errors.Wrap(err, "list orphans")
	}

	lg := zctx.From(ctx)
	released := 0
	for _, u := range orphans {
		if err := s.ledger.Release(ctx, u.SerialNumber, u.Version); err != nil {
			lg.Warn("Release orphaned unit", zap.String("serial", u.SerialNumber), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		lg.Info("Released orphaned units", zap.Int("count", released))
		s.metrics.swept.Add(ctx, int64(released))
	}
	s.lastPass.Store(s.now().UnixNano())
	return released, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				zctx.From(ctx).Error("Sweep orphaned units", zap.Error(err))
			}
		}
	}
}
