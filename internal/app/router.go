package app

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/cashback"
	"github.com/noah-isme/toko-pricing/internal/checkout"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/health"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/ratelimit"
	"github.com/noah-isme/toko-pricing/internal/security"
	"github.com/noah-isme/toko-pricing/internal/shop"
	"github.com/noah-isme/toko-pricing/internal/tasks"
)

// AccessCookie is the cookie read when no bearer token is sent.
const AccessCookie = "access_token"

// AdminRole may change shop pricing.
const AdminRole = "admin"

// NewRouter builds the HTTP surface on top of d.
func NewRouter(cfg *config.Config, d *Dependencies, log zerolog.Logger) (http.Handler, error) {
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, d.MetricsRegistry)
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, d.MetricsRegistry)

	shopSvc := &shop.Service{Q: d.Store, Cache: cache.New(d.Redis, cfg.ShopCacheTTL), Log: log}
	coupons := &coupon.Evaluator{}
	calc := &cart.Calculator{Shops: shopSvc, Coupons: coupons}
	cartSvc := &cart.Service{
		Store:   d.Store,
		Calc:    calc,
		Lock:    lock.Locker{R: d.Redis, Wait: cfg.CartLockWait},
		LockTTL: cfg.CartLockTTL,
		Log:     log,
	}
	checkoutSvc := &checkout.Service{
		Store:   d.Store,
		Calc:    calc,
		Coupons: coupons,
		Tasks:   tasks.Client{C: d.TaskClient},
		Log:     log,
	}

	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}
	orderHandler := &order.Handler{Q: d.Store}
	shopHandler := &shop.Handler{Svc: shopSvc, Cashback: &cashback.Service{Tiers: shopSvc}}
	healthHandler := health.Handler{Checker: health.Probes{Store: d.Store, Redis: d.Redis}}

	authMiddleware := auth.Middleware{
		Verifier: auth.Verifier{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		AccessCookie: AccessCookie,
	}
	checkoutLimiter, err := ratelimit.NewLimiter(d.Redis, cfg.RateLimit, "rl:checkout:")
	if err != nil {
		return nil, fmt.Errorf("checkout rate limit: %w", err)
	}
	rateLimit := ratelimit.Handler{
		Limiter: checkoutLimiter,
		OnError: func(err error) { log.Warn().Err(err).Msg("rate limit store unavailable") },
	}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Trace)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: log}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(d.MetricsRegistry, promhttp.HandlerOpts{}))
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
		v.Use(authMiddleware.Authenticate)

		cartHandler := &cart.Handler{
			Svc: cartSvc,
			Checkout: chi.Chain(authMiddleware.RequireAuth, rateLimit.Middleware, idem.Middleware).
				HandlerFunc(checkoutHandler.Checkout),
		}
		v.Route("/carts", cartHandler.Routes)

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)
			authR.Get("/orders/{id}", orderHandler.Get)
			authR.Get("/me/points", orderHandler.Points)
		})

		v.Route("/shops/{id}", shopHandler.Routes(authMiddleware.RequireRole(AdminRole)))
	})

	return r, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
