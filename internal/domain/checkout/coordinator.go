// Package checkout converts a cart into an order exactly once.
//
// Units are reserved one compare-and-set at a time in ascending serial order.
// A failure on any line releases every unit reserved so far before the error
// is returned, so callers never observe a partially reserved cart.
package checkout

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/domain/order"
	"github.com/xenking/scanbill/internal/domain/unit"
)

// Carts is the part of the cart service used by checkout.
type Carts interface {
	Load(ctx context.Context, userID, storeID string) (*cart.Cart, error)
	Clear(ctx context.Context, userID, storeID string) error
}

// Request holds the input of a checkout.
type Request struct {
	UserID         string
	StoreID        string
	CustomerName   string
	CustomerMobile string
	CustomerEmail  string
	PaymentMethod  order.PaymentMethod
	IdempotencyKey string
}

func (r *Request) normalize() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.StoreID = strings.TrimSpace(r.StoreID)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.UserID == "" || r.StoreID == "" {
		return errors.Wrap(ErrInvalidRequest, "user and store are required")
	}
	if r.PaymentMethod != "" && !r.PaymentMethod.Valid() {
		return errors.Wrapf(ErrInvalidRequest, "unknown payment method %q", r.PaymentMethod)
	}
	return nil
}

// Options configures a Coordinator. Zero values are replaced by defaults.
type Options struct {
	Pricer    order.Pricer
	Publisher order.Publisher

	// Timeout bounds the reserve and persist phases of one checkout.
	Timeout time.Duration
	// ReleaseTimeout bounds the retries of compensating releases.
	ReleaseTimeout time.Duration

	DefaultPaymentMethod order.PaymentMethod
	Currency             string

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

func (o *Options) setDefaults() {
	if o.Pricer == nil {
		o.Pricer = order.FlatRate{}
	}
	if o.Publisher == nil {
		o.Publisher = order.NopPublisher{}
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.ReleaseTimeout == 0 {
		o.ReleaseTimeout = 30 * time.Second
	}
	if o.DefaultPaymentMethod == "" {
		o.DefaultPaymentMethod = order.PaymentCash
	}
	if o.Currency == "" {
		o.Currency = "INR"
	}
	if o.MeterProvider == nil {
		o.MeterProvider = noop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
}

// Coordinator orchestrates the cart, unit ledger and order repository.
type Coordinator struct {
	carts  Carts
	ledger unit.Ledger
	orders order.Repository
	opts   Options

	inflight singleflight.Group
	metrics  *metrics
	tracer   trace.Tracer
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(carts Carts, ledger unit.Ledger, orders order.Repository, opts Options) (*Coordinator, error) {
	opts.setDefaults()

	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}

	return &Coordinator{
		carts:   carts,
		ledger:  ledger,
		orders:  orders,
		opts:    opts,
		metrics: m,
		tracer:  opts.TracerProvider.Tracer(instrumentationName),
	}, nil
}

// Checkout converts the cart of (UserID, StoreID) into an order.
//
// With an idempotency key, a request whose key already produced an order
// returns that order unchanged without touching inventory, and a key that
// produced an order for another user fails with ErrIdempotencyKeyConflict.
// Concurrent requests of one user sharing a key within this process are
// collapsed into one.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (*order.Order, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return c.checkout(ctx, req)
	}

	// The flight is shared by every caller holding the key, so it outlives
	// the cancellation of any single one; each caller stops waiting when its
	// own context ends. Timeout still bounds the flight.
	flight := c.inflight.DoChan(req.UserID+"\x00"+req.IdempotencyKey, func() (any, error) {
		return c.checkout(context.WithoutCancel(ctx), req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*order.Order), nil
	}
}

func (c *Coordinator) checkout(ctx context.Context, req Request) (_ *order.Order, rerr error) {
	start := c.opts.Now()
	ctx, span := c.tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("store_id", req.StoreID),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	lg := zctx.From(ctx).With(
		zap.String("user_id", req.UserID),
		zap.String("store_id", req.StoreID),
	)
	if req.IdempotencyKey != "" {
		lg = lg.With(zap.String("idempotency_key", req.IdempotencyKey))
	}

	// Idempotency check, before any inventory mutation.
	if req.IdempotencyKey != "" {
		existing, err := c.orders.FindByKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil && existing.UserID != req.UserID:
			lg.Warn("Idempotency key held by another user", zap.String("order_id", existing.ID))
			c.metrics.observe(ctx, outcomeKeyConflict, start)
			return nil, ErrIdempotencyKeyConflict
		case err == nil:
			lg.Info("Checkout replayed", zap.String("order_id", existing.ID))
			c.metrics.observe(ctx, outcomeReplayed, start)
			return existing, nil
		case !errors.Is(err, order.ErrNotFound):
			c.metrics.observe(ctx, outcomeError, start)
			return nil, errors.Wrap(err, "find order by idempotency key")
		}
	}

	crt, err := c.carts.Load(ctx, req.UserID, req.StoreID)
	if err != nil {
		c.metrics.observe(ctx, outcomeError, start)
		return nil, errors.Wrap(err, "load cart")
	}
	if len(crt.Lines) == 0 {
		c.metrics.observe(ctx, outcomeEmptyCart, start)
		return nil, ErrEmptyCart
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reserved, err := c.reserve(ctx, req.StoreID, crt.Lines)
	if err != nil {
		c.release(ctx, lg, reserved)
		if winner, ok := c.winner(ctx, req.IdempotencyKey); ok {
			return c.adopt(ctx, lg, req, winner, start)
		}
		var unavailable *ItemUnavailableError
		if errors.As(err, &unavailable) {
			lg.Info("Checkout aborted", zap.String("serial", unavailable.SerialNumber), zap.Error(unavailable.Err))
			c.metrics.observe(ctx, outcomeUnavailable, start)
		} else {
			c.metrics.observe(ctx, outcomeError, start)
		}
		return nil, err
	}

	o, err := c.newOrder(req, crt)
	if err != nil {
		c.release(ctx, lg, reserved)
		c.metrics.observe(ctx, outcomeError, start)
		return nil, err
	}

	if err := c.persist(ctx, lg, o, reserved); err != nil {
		if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
			winner, ferr := c.orders.FindByKey(ctx, req.IdempotencyKey)
			if ferr != nil {
				c.metrics.observe(ctx, outcomeError, start)
				return nil, errors.Wrap(ferr, "find winning order")
			}
			return c.adopt(ctx, lg, req, winner, start)
		}
		c.metrics.observe(ctx, outcomeError, start)
		return nil, err
	}

	// The order is durable from here on; later failures are only reported.
	if err := c.carts.Clear(ctx, req.UserID, req.StoreID); err != nil {
		lg.Warn("Clear cart after checkout", zap.String("order_id", o.ID), zap.Error(err))
	}
	if err := c.opts.Publisher.Publish(ctx, order.NewEvent(order.EventCreated, o)); err != nil {
		lg.Warn("Publish order created", zap.String("order_id", o.ID), zap.Error(err))
	}

	lg.Info("Checkout completed",
		zap.String("order_id", o.ID),
		zap.Int("items", len(o.Items)),
		zap.Stringer("total", o.Total),
	)
	c.metrics.observe(ctx, outcomeCreated, start)
	return o, nil
}

// reserve reserves every line in ascending serial order. On failure it
// returns the units reserved so far together with an *ItemUnavailableError
// for reservation failures or a wrapped error otherwise.
func (c *Coordinator) reserve(ctx context.Context, storeID string, lines []cart.Line) ([]*unit.Unit, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.reserve", trace.WithAttributes(
		attribute.Int("lines", len(lines)),
	))
	defer span.End()

	serials := make([]string, len(lines))
	for i, l := range lines {
		serials[i] = l.SerialNumber
	}
	slices.Sort(serials)

	reserved := make([]*unit.Unit, 0, len(serials))
	for _, serial := range serials {
		u, err := c.ledger.Reserve(ctx, serial, storeID)
		if err != nil {
			if errors.Is(err, unit.ErrNotAvailable) ||
				errors.Is(err, unit.ErrConflict) ||
				errors.Is(err, unit.ErrNotFound) {
				return reserved, &ItemUnavailableError{SerialNumber: serial, Err: err}
			}
			return reserved, errors.Wrapf(err, "reserve unit %s", serial)
		}
		reserved = append(reserved, u)
	}
	return reserved, nil
}

func (c *Coordinator) newOrder(req Request, crt *cart.Cart) (*order.Order, error) {
	items := make([]order.Item, len(crt.Lines))
	for i, l := range crt.Lines {
		items[i] = order.Item{
			SerialNumber: l.SerialNumber,
			ProductID:    l.ProductID,
			Name:         l.Name,
			Price:        l.Price,
			Quantity:     l.Quantity,
		}
	}

	totals, err := c.opts.Pricer.Price(items)
	if err != nil {
		return nil, errors.Wrap(err, "price order")
	}

	method := req.PaymentMethod
	if method == "" {
		method = c.opts.DefaultPaymentMethod
	}
	status, payment := order.StatusPending, order.Payment{Method: method, Status: order.PaymentInitiated}
	if method.Settled() {
		status, payment.Status = order.StatusPaid, order.PaymentSuccess
	}

	return &order.Order{
		ID:      c.opts.NewID(),
		UserID:  req.UserID,
		StoreID: req.StoreID,
		Customer: order.Customer{
			Name:   req.CustomerName,
			Mobile: req.CustomerMobile,
			Email:  req.CustomerEmail,
		},
		Items:          items,
		Subtotal:       totals.Subtotal,
		Tax:            totals.Tax,
		Discount:       totals.Discount,
		Total:          totals.Total,
		Currency:       c.opts.Currency,
		Status:         status,
		Payment:        payment,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      c.opts.Now().UTC(),
	}, nil
}

// persist stores o. Reservations are released when the order is known not to
// exist. When the outcome of the write is ambiguous they are kept and left
// to the Sweeper, since releasing units of a committed order would allow a
// second sale.
func (c *Coordinator) persist(ctx context.Context, lg *zap.Logger, o *order.Order, reserved []*unit.Unit) error {
	ctx, span := c.tracer.Start(ctx, "checkout.persist")
	defer span.End()

	err := c.orders.Create(ctx, o)
	if err == nil {
		return nil
	}
	if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
		c.release(ctx, lg, reserved)
		return err
	}

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReleaseTimeout)
	defer cancel()
	_, gerr := c.orders.GetByID(lookupCtx, o.ID)
	switch {
	case gerr == nil:
		lg.Warn("Order create reported failure but order exists", zap.String("order_id", o.ID), zap.Error(err))
		return nil
	case errors.Is(gerr, order.ErrNotFound):
		c.release(ctx, lg, reserved)
	default:
		lg.Error("Order outcome unknown, leaving reservations to sweeper",
			zap.String("order_id", o.ID),
			zap.Strings("serials", o.Serials()),
			zap.Error(gerr),
		)
		c.metrics.stranded.Add(ctx, int64(len(reserved)))
	}
	return errors.Wrap(err, "create order")
}

// winner returns the order stored under key by a concurrent request.
// adopt returns the order a concurrent checkout stored under the key of req,
// provided it belongs to the same user.
func (c *Coordinator) adopt(ctx context.Context, lg *zap.Logger, req Request, winner *order.Order, start time.Time) (*order.Order, error) {
	if winner.UserID != req.UserID {
		lg.Warn("Idempotency key held by another user", zap.String("order_id", winner.ID))
		c.metrics.observe(ctx, outcomeKeyConflict, start)
		return nil, ErrIdempotencyKeyConflict
	}
	lg.Info("Checkout lost idempotency race", zap.String("order_id", winner.ID))
	c.metrics.observe(ctx, outcomeRaceLost, start)
	return winner, nil
}

func (c *Coordinator) winner(ctx context.Context, key string) (*order.Order, bool) {
	if key == "" {
		return nil, false
	}
	o, err := c.orders.FindByKey(context.WithoutCancel(ctx), key)
	if err != nil {
		return nil, false
	}
	return o, true
}

// release returns reserved units to AVAILABLE. Each release is retried with
// exponential backoff until it succeeds or ReleaseTimeout passes, on a
// context detached from caller cancellation.
func (c *Coordinator) release(ctx context.Context, lg *zap.Logger, reserved []*unit.Unit) {
	if len(reserved) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReleaseTimeout)
	defer cancel()

	for _, u := range reserved {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := c.ledger.Release(ctx, u.SerialNumber, u.Version)
			if errors.Is(err, unit.ErrNotFound) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(newReleaseBackOff()),
			backoff.WithMaxElapsedTime(c.opts.ReleaseTimeout),
		)
		if err != nil {
			lg.Error("Release unit", zap.String("serial", u.SerialNumber), zap.Int64("version", u.Version), zap.Error(err))
			c.metrics.stranded.Add(ctx, 1)
			continue
		}
		c.metrics.released.Add(ctx, 1)
	}
}

func newReleaseBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}
