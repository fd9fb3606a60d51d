// Package handler exposes carts, checkout, orders and payments over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/scanbill/internal/domain/auth"
	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/domain/checkout"
	"github.com/xenking/scanbill/internal/domain/order"
	"github.com/xenking/scanbill/internal/domain/payment"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
)

// APIKeyHeader carries the staff or provider API key.
const APIKeyHeader = "api_key"

// IdempotencyKeyHeader carries the client-generated checkout key.
const IdempotencyKeyHeader = "Idempotency-Key"

// CartService is the cart use case surface.
type CartService interface {
	GetOrCreate(ctx context.Context, userID, storeID string) (*cart.Cart, error)
	AddLine(ctx context.Context, userID, serial, storeID string) (*cart.Cart, error)
	RemoveLine(ctx context.Context, userID, serial, storeID string) (*cart.Cart, error)
}

// Checkout converts carts into orders.
type Checkout interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
}

// Orders is the read side of the order repository.
type Orders interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	ListByStore(ctx context.Context, storeID string) ([]order.Order, error)
}

// Units lists sellable units.
type Units interface {
	ListAvailable(ctx context.Context, barcode, storeID string) ([]unit.Unit, error)
}

// Payments records payment progress.
type Payments interface {
	Initiate(ctx context.Context, orderID string) (*payment.Intent, error)
	Confirm(ctx context.Context, orderID, providerTxnID string, success bool) (*order.Order, error)
}

// Authenticator validates API keys for staff routes.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// Deps holds the services used by Handler. Auth may be nil, which leaves
// staff routes open.
type Deps struct {
	Carts    CartService
	Checkout Checkout
	Orders   Orders
	Catalog  product.Catalog
	Units    Units
	Payments Payments
	Auth     Authenticator
}

// Handler serves the /api routes.
type Handler struct {
	carts    CartService
	checkout Checkout
	orders   Orders
	catalog  product.Catalog
	units    Units
	payments Payments
	auth     Authenticator
}

// NewHandler constructs a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		carts:    d.Carts,
		checkout: d.Checkout,
		orders:   d.Orders,
		catalog:  d.Catalog,
		units:    d.Units,
		payments: d.Payments,
		auth:     d.Auth,
	}
}

// Routes returns the API router, to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/cart/{userID}", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Post("/add", h.AddToCart)
		r.Delete("/remove", h.RemoveFromCart)
	})

	r.Route("/orders", func(r chi.Router) {
		r.With(h.requireScope(auth.ScopeOrdersRead)).Get("/", h.ListOrders)
		r.Post("/checkout/{userID}", h.Checkout)
		r.Get("/{orderID}", h.GetOrder)
	})

	r.Route("/products/{barcode}", func(r chi.Router) {
		r.Get("/", h.GetProduct)
		r.Get("/units", h.ListUnits)
	})

	r.Route("/payments/{orderID}", func(r chi.Router) {
		r.Post("/initiate", h.InitiatePayment)
		r.With(h.requireScope(auth.ScopePaymentsWrite)).Post("/confirm", h.ConfirmPayment)
	})

	return r
}

// requireScope rejects requests whose API key is missing, unknown or lacks
// scope.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if h.auth == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), scope); err != nil {
				h.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
