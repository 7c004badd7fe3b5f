package cart

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc *Service
	// Checkout is mounted at /{id}/checkout when set.
	Checkout http.Handler
}

// Routes mounts the cart endpoints below /carts.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/items", h.AddItem)
		r.Delete("/items", h.DeleteItems)
		r.Patch("/items/{itemID}", h.UpdateItem)
		r.Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.RemoveCoupon)
		r.Post("/group", h.SetGroup)
		r.Post("/members", h.AddMember)
		r.Patch("/members/{memberID}", h.SetMemberReady)
		r.Delete("/members/{memberID}", h.DeleteMember)
		r.Post("/calculate", h.Calculate)
		if h.Checkout != nil {
			r.Method(http.MethodPost, "/checkout", h.Checkout)
		}
	})
}

// Create opens a cart, or returns the caller's open cart at the shop.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ShopID     uuid.UUID `json:"shopId" validate:"required"`
		CurrencyID uuid.UUID `json:"currencyId" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	cart, err := h.Svc.Create(r.Context(), CreateInput{
		OwnerID:    common.UserUUID(r.Context()),
		ShopID:     payload.ShopID,
		CurrencyID: payload.CurrencyID,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, cartJSON(cart))
}

// Get returns the cart with its stored lines and members.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(view.Items))
	for _, it := range view.Items {
		items = append(items, itemJSON(it))
	}
	members := make([]map[string]any, 0, len(view.Members))
	for _, m := range view.Members {
		members = append(members, memberJSON(m))
	}
	body := cartJSON(view.Cart)
	body["items"] = items
	body["members"] = members
	common.Data(w, http.StatusOK, body)
}

// Delete soft deletes the cart.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem adds a line or merges it into an identical one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var payload struct {
		StockID  uuid.UUID   `json:"stockId" validate:"required"`
		Quantity int32       `json:"quantity" validate:"required,min=1"`
		ParentID *uuid.UUID  `json:"parentId"`
		MemberID *uuid.UUID  `json:"memberId"`
		ExtraIDs []uuid.UUID `json:"extraIds"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	item, err := h.Svc.AddItem(r.Context(), id, AddItemInput{
		StockID:  payload.StockID,
		Quantity: payload.Quantity,
		ParentID: nullable(payload.ParentID),
		MemberID: nullable(payload.MemberID),
		ExtraIDs: payload.ExtraIDs,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, itemJSON(item))
}

// UpdateItem changes the quantity of a line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	itemID, err := common.ParseUUID(chi.URLParam(r, "itemID"), "itemID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var payload struct {
		Quantity int32 `json:"quantity" validate:"required,min=1"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	item, err := h.Svc.UpdateQty(r.Context(), id, itemID, payload.Quantity)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, itemJSON(item))
}

// DeleteItems removes lines and everything nested under them.
func (h *Handler) DeleteItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var payload struct {
		IDs []uuid.UUID `json:"ids" validate:"required,min=1"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Svc.DeleteItems(r.Context(), id, payload.IDs); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyCoupon validates and stores a coupon code, returning the priced summary.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Code         string `json:"code" validate:"required,max=64"`
		DeliveryType string `json:"deliveryType" validate:"omitempty,oneof=delivery pickup dine_in"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	summary, err := h.Svc.ApplyCoupon(r.Context(), id, payload.Code, deliveryType(payload.DeliveryType))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// RemoveCoupon clears the stored coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.RemoveCoupon(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetGroup switches the cart between a private and a group cart.
func (h *Handler) SetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Group *bool `json:"group" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	cart, err := h.Svc.SetGroup(r.Context(), id, *payload.Group)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, cartJSON(cart))
}

// AddMember joins the caller, or a named guest, to a group cart.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name" validate:"required,max=80"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	member, err := h.Svc.AddMember(r.Context(), id, AddMemberInput{UserID: common.UserUUID(r.Context()), Name: payload.Name})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, memberJSON(member))
}

// SetMemberReady flags a member as done choosing.
func (h *Handler) SetMemberReady(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	memberID, err := common.ParseUUID(chi.URLParam(r, "memberID"), "memberID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var payload struct {
		Ready *bool `json:"ready" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Svc.SetMemberReady(r.Context(), id, memberID, *payload.Ready); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMember removes a member and their lines.
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	memberID, err := common.ParseUUID(chi.URLParam(r, "memberID"), "memberID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Svc.DeleteMember(r.Context(), id, memberID); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Calculate returns the priced summary of the cart.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var payload struct {
		DeliveryType string `json:"deliveryType" validate:"omitempty,oneof=delivery pickup dine_in"`
	}
	if r.ContentLength > 0 {
		if err := common.DecodeJSON(r, &payload); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	summary, err := h.Svc.Calculate(r.Context(), id, deliveryType(payload.DeliveryType))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// cartID parses the path id and checks the caller may see the cart.
func (h *Handler) cartID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return uuid.Nil, false
	}
	id, err := common.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		common.WriteError(w, err)
		return uuid.Nil, false
	}
	if err := h.Svc.Authorize(r.Context(), id, common.UserUUID(r.Context())); err != nil {
		common.WriteError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func deliveryType(raw string) db.DeliveryType {
	if raw == "" {
		return db.DeliveryTypeDelivery
	}
	return db.DeliveryType(raw)
}

func nullable(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullableUUID(v uuid.NullUUID) *string {
	if !v.Valid {
		return nil
	}
	s := v.UUID.String()
	return &s
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func cartJSON(c db.Cart) map[string]any {
	return map[string]any{
		"id":         c.ID.String(),
		"ownerId":    nullableUUID(c.OwnerID),
		"shopId":     c.ShopID.String(),
		"currencyId": c.CurrencyID.String(),
		"rate":       c.Rate,
		"status":     c.Status,
		"group":      c.Group,
		"couponCode": c.CouponCode,
		"orderId":    nullableUUID(c.OrderID),
		"createdAt":  c.CreatedAt.UTC().Format(time.RFC3339),
		"deletedAt":  nullableTime(c.DeletedAt),
	}
}

func itemJSON(it db.CartItem) map[string]any {
	extras := it.ExtraIDs
	if extras == nil {
		extras = []uuid.UUID{}
	}
	return map[string]any{
		"id":            it.ID.String(),
		"stockId":       it.StockID.String(),
		"memberId":      nullableUUID(it.MemberID),
		"parentId":      nullableUUID(it.ParentID),
		"quantity":      it.Quantity,
		"extraIds":      extras,
		"bonus":         it.Bonus,
		"bonusSourceId": nullableUUID(it.BonusSourceID),
	}
}

func memberJSON(m db.CartMember) map[string]any {
	return map[string]any{
		"id":     m.ID.String(),
		"userId": nullableUUID(m.UserID),
		"name":   m.Name,
		"ready":  m.Ready,
	}
}
