package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing/internal/checkout"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/db"
)

// Handler exposes frozen orders and the point balance of the caller.
type Handler struct {
	Q db.Querier
}

// Get returns the order snapshot. Orders of other users are reported as missing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order queries not configured", nil)
		return
	}
	user := common.UserUUID(r.Context())
	if !user.Valid {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	id, err := common.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ord, err := h.Q.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load order", nil)
		return
	}
	if ord.UserID.Valid && ord.UserID != user {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
		return
	}
	details, err := h.Q.ListOrderDetails(r.Context(), ord.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load order details", nil)
		return
	}
	body := checkout.OrderJSON(ord)
	body["details"] = checkout.DetailsJSON(details)
	common.Data(w, http.StatusOK, body)
}

// Points returns the cashback balance of the caller.
func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order queries not configured", nil)
		return
	}
	user := common.UserUUID(r.Context())
	if !user.Valid {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	balance, err := h.Q.GetPointBalance(r.Context(), user.UUID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load points", nil)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"userId": user.UUID, "points": balance})
}
