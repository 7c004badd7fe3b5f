package checkout

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
)

// Handler wires checkout to HTTP.
type Handler struct {
	Svc *Service
}

// Checkout turns the cart at /carts/{id}/checkout into an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	user := common.UserUUID(r.Context())
	if !user.Valid {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	cartID, err := common.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var payload struct {
		DeliveryType  string `json:"deliveryType" validate:"omitempty,oneof=delivery pickup dine_in"`
		RequireCoupon bool   `json:"requireCoupon"`
	}
	if r.ContentLength > 0 {
		if err := common.DecodeJSON(r, &payload); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	out, err := h.Svc.Checkout(r.Context(), user, Input{
		CartID:        cartID,
		DeliveryType:  db.DeliveryType(payload.DeliveryType),
		RequireCoupon: payload.RequireCoupon,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	body := OrderJSON(out.Order)
	body["details"] = DetailsJSON(out.Details)
	body["summary"] = out.Summary
	common.Data(w, http.StatusCreated, body)
}

// OrderJSON renders the frozen order header.
func OrderJSON(o db.Order) map[string]any {
	var user *string
	if o.UserID.Valid {
		s := o.UserID.UUID.String()
		user = &s
	}
	return map[string]any{
		"id":            o.ID,
		"cartId":        o.CartID,
		"userId":        user,
		"shopId":        o.ShopID,
		"currencyId":    o.CurrencyID,
		"rate":          o.Rate,
		"status":        o.Status,
		"deliveryType":  o.DeliveryType,
		"originPrice":   o.OriginPrice,
		"totalDiscount": o.TotalDiscount,
		"tax":           o.Tax,
		"deliveryFee":   o.DeliveryFee,
		"commissionFee": o.CommissionFee,
		"couponCode":    o.CouponCode,
		"couponPrice":   o.CouponPrice,
		"totalPrice":    o.TotalPrice,
		"pointsEarned":  o.PointsEarned,
		"createdAt":     o.CreatedAt,
	}
}

// DetailsJSON renders frozen order lines.
func DetailsJSON(ds []db.OrderDetail) []map[string]any {
	out := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, detailJSON(d))
	}
	return out
}

func detailJSON(d db.OrderDetail) map[string]any {
	var parent *string
	if d.ParentID.Valid {
		s := d.ParentID.UUID.String()
		parent = &s
	}
	return map[string]any{
		"id":          d.ID,
		"stockId":     d.StockID,
		"parentId":    parent,
		"quantity":    d.Quantity,
		"bonus":       d.Bonus,
		"unitPrice":   d.UnitPrice,
		"originPrice": d.OriginPrice,
		"discount":    d.Discount,
		"totalPrice":  d.TotalPrice,
	}
}
