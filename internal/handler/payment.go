package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxConfirmBody = 1 << 16

// InitiatePayment starts an online payment for an order.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	in, err := h.payments.Initiate(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var e jx.Encoder
	encodeIntent(&e, in)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// ConfirmPayment applies the provider outcome of a payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfirmBody))
	if err != nil {
		h.fail(w, r, errors.Wrap(errBadRequest, "read body"))
		return
	}

	var req confirmRequest
	if err := req.Decode(jx.DecodeBytes(body)); err != nil {
		h.fail(w, r, errors.Wrap(errBadRequest, "invalid json body"))
		return
	}
	if !req.hasSuccess {
		h.fail(w, r, missingParam("success"))
		return
	}

	o, err := h.payments.Confirm(r.Context(), chi.URLParam(r, "orderID"), req.ProviderTxnID, req.Success)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, o)
}
