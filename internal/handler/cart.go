package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/scanbill/internal/domain/cart"
)

// GetCart returns the cart of a user at a store, creating it when absent.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, storeID, err := cartKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.carts.GetOrCreate(r.Context(), userID, storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCart(w, c)
}

// AddToCart adds the scanned unit to the cart.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	userID, storeID, err := cartKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	serial, err := requiredQuery(r, "serialNumber")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.carts.AddLine(r.Context(), userID, serial, storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCart(w, c)
}

// RemoveFromCart drops a unit from the cart.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	userID, storeID, err := cartKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	serial, err := requiredQuery(r, "serialNumber")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.carts.RemoveLine(r.Context(), userID, serial, storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCart(w, c)
}

func cartKey(r *http.Request) (userID, storeID string, err error) {
	userID = strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		return "", "", missingParam("userID")
	}
	storeID, err = requiredQuery(r, "storeId")
	return userID, storeID, err
}

func requiredQuery(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", missingParam(name)
	}
	return v, nil
}

func writeCart(w http.ResponseWriter, c *cart.Cart) {
	var e jx.Encoder
	encodeCart(&e, c)
	writeJSON(w, http.StatusOK, e.Bytes())
}
