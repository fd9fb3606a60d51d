package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/scanbill/internal/domain/checkout"
	"github.com/xenking/scanbill/internal/domain/order"
)

// Checkout converts the user's cart into an order. A retried request with
// the same Idempotency-Key returns the first order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		h.fail(w, r, missingParam("userID"))
		return
	}

	req := checkout.Request{
		UserID:         userID,
		CustomerEmail:  strings.TrimSpace(r.URL.Query().Get("customerEmail")),
		PaymentMethod:  order.PaymentMethod(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("paymentMethod")))),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"storeId", &req.StoreID},
		{"customerName", &req.CustomerName},
		{"customerMobile", &req.CustomerMobile},
	} {
		v, err := requiredQuery(r, p.name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		*p.dst = v
	}

	o, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, o)
}

// GetOrder returns one order by id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, o)
}

// ListOrders returns the orders of a store, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	storeID, err := requiredQuery(r, "storeId")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	orders, err := h.orders.ListByStore(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func writeOrder(w http.ResponseWriter, o *order.Order) {
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, e.Bytes())
}
