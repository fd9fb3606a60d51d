package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/scanbill/internal/domain/auth"
	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/domain/checkout"
	"github.com/xenking/scanbill/internal/domain/order"
	"github.com/xenking/scanbill/internal/domain/payment"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
)

// errBadRequest marks request validation failures raised by the handler.
var errBadRequest = errors.New("bad request")

func missingParam(name string) error {
	return errors.Wrapf(errBadRequest, "missing %s", name)
}

// fail maps a domain error to its HTTP response. Unmapped errors are logged
// and reported as 500 without details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var unavailable *checkout.ItemUnavailableError
	if errors.As(err, &unavailable) {
		writeUnavailable(w, unavailable)
		return
	}

	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, checkout.ErrInvalidRequest),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, payment.ErrMissingTransaction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, unit.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cart.ErrAlreadyInCart),
		errors.Is(err, unit.ErrNotAvailable),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, checkout.ErrIdempotencyKeyConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeUnavailable(w http.ResponseWriter, u *checkout.ItemUnavailableError) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusConflict) })
		e.Field("message", func(e *jx.Encoder) { e.Str(u.Error()) })
		e.Field("serialNumber", func(e *jx.Encoder) { e.Str(u.SerialNumber) })
	})
	writeJSON(w, http.StatusConflict, e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
