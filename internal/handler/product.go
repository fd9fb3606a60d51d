package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// GetProduct returns the catalog entry for a barcode.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var e jx.Encoder
	encodeProduct(&e, p)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// ListUnits returns the available units of a barcode at a store.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	storeID, err := requiredQuery(r, "storeId")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	units, err := h.units.ListAvailable(r.Context(), chi.URLParam(r, "barcode"), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, u := range units {
			encodeUnit(e, u)
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}
