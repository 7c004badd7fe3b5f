package shop_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cashback"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/shop"
)

func serve(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestHandlersUpdatePricingAndPreviewCashback(t *testing.T) {
	svc, q, _ := newService(t)
	s := q.PutShop(db.Shop{TaxRate: decimal.RequireFromString("0.05")})
	h := &shop.Handler{Svc: svc, Cashback: &cashback.Service{Tiers: svc}}
	guarded := 0
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded++
			next.ServeHTTP(w, r)
		})
	}
	r := chi.NewRouter()
	r.Route("/shops/{id}", h.Routes(guard))
	base := "/shops/" + s.ID.String()

	code, _ := serve(t, r, http.MethodPut, base+"/pricing", `{"taxRate":"1.5"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body := serve(t, r, http.MethodPut, base+"/pricing", `{"taxRate":"0.1","deliveryFee":"15","cashbackTiers":[{"threshold":"100","rate":"0.02"}]}`)
	require.Equal(t, http.StatusOK, code)
	rates := body["data"].(map[string]any)["rates"].(map[string]any)
	require.Equal(t, "0.1", rates["taxRate"])
	require.Equal(t, 2, guarded)

	code, body = serve(t, r, http.MethodGet, base+"/cashback?amount=250", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 5, body["data"].(map[string]any)["points"])

	code, _ = serve(t, r, http.MethodGet, base+"/cashback?amount=abc", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, r, http.MethodGet, "/shops/00000000-0000-0000-0000-000000000001/pricing", "")
	require.Equal(t, http.StatusNotFound, code)
}
