package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/scanbill/internal/domain/checkout"

// Checkout outcomes recorded on the checkout counter.
const (
	outcomeCreated     = "created"
	outcomeReplayed    = "replayed"
	outcomeRaceLost    = "race_lost"
	outcomeKeyConflict = "key_conflict"
	outcomeEmptyCart   = "empty_cart"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

type metrics struct {
	checkouts metric.Int64Counter
	released  metric.Int64Counter
	stranded  metric.Int64Counter
	swept     metric.Int64Counter
	duration  metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)

	var (
		m   metrics
		err error
	)
	if m.checkouts, err = meter.Int64Counter("scanbill.checkout.count",
		metric.WithDescription("Checkout attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout counter")
	}
	if m.released, err = meter.Int64Counter("scanbill.checkout.released_units",
		metric.WithDescription("Units released by checkout compensation"),
	); err != nil {
		return nil, errors.Wrap(err, "released counter")
	}
	if m.stranded, err = meter.Int64Counter("scanbill.checkout.stranded_units",
		metric.WithDescription("Units left SOLD after compensation gave up"),
	); err != nil {
		return nil, errors.Wrap(err, "stranded counter")
	}
	if m.swept, err = meter.Int64Counter("scanbill.checkout.swept_units",
		metric.WithDescription("Orphaned units released by the sweeper"),
	); err != nil {
		return nil, errors.Wrap(err, "swept counter")
	}
	if m.duration, err = meter.Float64Histogram("scanbill.checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	return &m, nil
}

func (m *metrics) observe(ctx context.Context, outcome string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.checkouts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
