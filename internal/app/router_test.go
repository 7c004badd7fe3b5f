package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/db/memdb"
)

type apiFixture struct {
	srv   *httptest.Server
	store *memdb.Store
	shop  db.Shop
	cur   db.Currency
	stock db.Stock
	cfg   *config.Config
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memdb.New()
	sh := store.PutShop(db.Shop{TaxRate: decimal.RequireFromString("0.05"), DeliveryFee: decimal.NewFromInt(10)})
	cur := store.PutCurrency(db.Currency{Code: "IDR", Rate: decimal.NewFromInt(1), Default: true})
	st := store.PutStock(db.Stock{ProductID: uuid.New(), ShopID: sh.ID, Price: decimal.NewFromInt(100), Quantity: 5})

	cfg := &config.Config{
		JWTSecret:        "router-secret",
		CartLockTTL:      10 * time.Second,
		CartLockWait:     time.Second,
		ShopCacheTTL:     time.Minute,
		RateLimit:        "100-M",
		IdempotencyTTL:   time.Hour,
		MaxBodyBytes:     1 << 16,
		MetricsNamespace: "routertest",
		SecurityHeaders:  true,
	}
	deps := &Dependencies{Store: store, Redis: client, MetricsRegistry: prometheus.NewRegistry()}
	handler, err := NewRouter(cfg, deps, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, store: store, shop: sh, cur: cur, stock: st, cfg: cfg}
}

func (f *apiFixture) token(t *testing.T, user uuid.UUID, role string) string {
	t.Helper()
	tok, err := auth.Verifier{Secret: []byte(f.cfg.JWTSecret)}.Issue(user.String(), role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string, header map[string]string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data envelope: %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestRouterCartToOrderFlow(t *testing.T) {
	f := newAPIFixture(t)
	user := uuid.New()
	tok := f.token(t, user, "")

	status, body := f.do(t, http.MethodPost, "/api/v1/carts", tok,
		`{"shopId":"`+f.shop.ID.String()+`","currencyId":"`+f.cur.ID.String()+`"}`, nil)
	require.Equal(t, http.StatusCreated, status)
	cartID := data(t, body)["id"].(string)

	status, _ = f.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/items", tok,
		`{"stockId":"`+f.stock.ID.String()+`","quantity":3}`, nil)
	require.Equal(t, http.StatusCreated, status)

	status, _ = f.do(t, http.MethodGet, "/api/v1/carts/"+cartID, "", "", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", errorCode(body))

	idem := map[string]string{"Idempotency-Key": "checkout-1"}
	status, body = f.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", tok, "", idem)
	require.Equal(t, http.StatusCreated, status)
	orderID := data(t, body)["id"].(string)
	details := data(t, body)["details"].([]any)
	require.Len(t, details, 1)

	stock, err := f.store.GetStock(context.Background(), f.stock.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stock.Quantity)

	status, body = f.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", tok, "", idem)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "IDEMPOTENT_REPLAY", errorCode(body))

	status, body = f.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", tok, "", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "CART_NOT_OPEN", errorCode(body))

	status, body = f.do(t, http.MethodGet, "/api/v1/orders/"+orderID, tok, "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, cartID, data(t, body)["cartId"])

	other := f.token(t, uuid.New(), "")
	status, _ = f.do(t, http.MethodGet, "/api/v1/orders/"+orderID, other, "", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/api/v1/me/points", tok, "", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, data(t, body)["points"])
}

func TestRouterShopPricingRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/v1/shops/" + f.shop.ID.String() + "/pricing"

	status, body := f.do(t, http.MethodGet, path, "", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, f.shop.ID.String(), data(t, body)["shopId"])

	payload := `{"taxRate":"0.1","deliveryFee":"5"}`
	status, _ = f.do(t, http.MethodPut, path, f.token(t, uuid.New(), ""), payload, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodPut, path, f.token(t, uuid.New(), AdminRole), payload, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, "/api/v1/shops/"+f.shop.ID.String()+"/cashback?amount=100", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, data(t, body)["points"])
}

func TestRouterOperationalEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(t, http.MethodGet, "/health/live", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodGet, "/health/ready", "", "", nil)
	require.Equal(t, http.StatusOK, status)

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "routertest_http_requests_total")
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	big := `{"shopId":"` + strings.Repeat("x", 1<<16) + `"}`
	status, body := f.do(t, http.MethodPost, "/api/v1/carts", "", big, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, status)
	require.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(body))
}
