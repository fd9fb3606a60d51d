package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/domain/order"
	"github.com/xenking/scanbill/internal/domain/payment"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
)

// money writes d as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(c.UserID) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(c.StoreID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines {
					encodeLine(e, l.SerialNumber, l.ProductID, l.Name, l.Price, l.Quantity)
				}
			})
		})
		e.Field("totalAmount", func(e *jx.Encoder) { money(e, c.Total) })
		if !c.UpdatedAt.IsZero() {
			e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, c.UpdatedAt) })
		}
	})
}

func encodeLine(e *jx.Encoder, serial, productID, name string, price decimal.Decimal, qty int) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("serialNumber", func(e *jx.Encoder) { e.Str(serial) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(productID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(name) })
		e.Field("price", func(e *jx.Encoder) { money(e, price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(qty) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(o.StoreID) })
		e.Field("customerName", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
		e.Field("customerMobile", func(e *jx.Encoder) { e.Str(o.Customer.Mobile) })
		if o.Customer.Email != "" {
			e.Field("customerEmail", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					encodeLine(e, it.SerialNumber, it.ProductID, it.Name, it.Price, it.Quantity)
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("tax", func(e *jx.Encoder) { money(e, o.Tax) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("totalAmount", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.Payment.Method)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.Payment.Status)) })
		if o.Payment.ProviderTxnID != "" {
			e.Field("paymentId", func(e *jx.Encoder) { e.Str(o.Payment.ProviderTxnID) })
		}
		if o.ReceiptURL != "" {
			e.Field("receiptUrl", func(e *jx.Encoder) { e.Str(o.ReceiptURL) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
	})
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("barcode", func(e *jx.Encoder) { e.Str(p.Barcode) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(p.StoreID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
	})
}

func encodeUnit(e *jx.Encoder, u unit.Unit) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("serialNumber", func(e *jx.Encoder) { e.Str(u.SerialNumber) })
		e.Field("barcode", func(e *jx.Encoder) { e.Str(u.Barcode) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(u.StoreID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(u.Status)) })
	})
}

func encodeIntent(e *jx.Encoder, in *payment.Intent) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(in.OrderID) })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(in.AmountMinor) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(in.Currency) })
		e.Field("customerName", func(e *jx.Encoder) { e.Str(in.Customer.Name) })
		e.Field("customerMobile", func(e *jx.Encoder) { e.Str(in.Customer.Mobile) })
		if in.Customer.Email != "" {
			e.Field("customerEmail", func(e *jx.Encoder) { e.Str(in.Customer.Email) })
		}
		e.Field("description", func(e *jx.Encoder) { e.Str(in.Description) })
	})
}

// confirmRequest is the body of POST /payments/{orderID}/confirm.
type confirmRequest struct {
	ProviderTxnID string
	Success       bool
	hasSuccess    bool
}

func (c *confirmRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "providerTxnId":
			v, err := d.Str()
			c.ProviderTxnID = v
			return err
		case "success":
			v, err := d.Bool()
			c.Success, c.hasSuccess = v, true
			return err
		default:
			return d.Skip()
		}
	})
}
