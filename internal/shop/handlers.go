package shop

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/cashback"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
)

// Handler exposes shop pricing configuration and the cashback preview.
type Handler struct {
	Svc      *Service
	Cashback *cashback.Service
}

// Routes mounts the endpoints below /shops/{id}. Guard wraps the write route.
func (h *Handler) Routes(guard func(http.Handler) http.Handler) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/pricing", h.GetPricing)
		r.Get("/cashback", h.CashbackPreview)
		r.With(guard).Put("/pricing", h.UpdatePricing)
	}
}

// GetPricing returns the resolved configuration of a shop.
func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	cfg, err := h.Svc.Config(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, cfg)
}

// UpdatePricing replaces the pricing configuration of a shop and drops its cache entry.
func (h *Handler) UpdatePricing(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var payload struct {
		TaxRate             decimal.Decimal     `json:"taxRate"`
		CommissionRate      decimal.Decimal     `json:"commissionRate"`
		DeliveryFee         decimal.Decimal     `json:"deliveryFee"`
		FreeDeliveryOver    decimal.NullDecimal `json:"freeDeliveryOver"`
		MinOrderAmount      decimal.Decimal     `json:"minOrderAmount"`
		BonusCouponEligible bool                `json:"bonusCouponEligible"`
		CashbackTiers       []db.CashbackTier   `json:"cashbackTiers" validate:"omitempty,max=20"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	cfg, err := h.Svc.Update(r.Context(), db.Shop{
		ID:                  id,
		TaxRate:             payload.TaxRate,
		CommissionRate:      payload.CommissionRate,
		DeliveryFee:         payload.DeliveryFee,
		FreeDeliveryOver:    payload.FreeDeliveryOver,
		MinOrderAmount:      payload.MinOrderAmount,
		BonusCouponEligible: payload.BonusCouponEligible,
		CashbackTiers:       payload.CashbackTiers,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, cfg)
}

// CashbackPreview reports the points a spend of ?amount= would earn.
func (h *Handler) CashbackPreview(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "amount must be a decimal number", map[string]string{"amount": "invalid"})
		return
	}
	preview, err := h.Cashback.Check(r.Context(), id, amount)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, preview)
}
