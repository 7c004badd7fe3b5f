package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteTotal counts cart quotes by outcome.
	QuoteTotal *prometheus.CounterVec
	// CheckoutTotal counts order materializations by outcome.
	CheckoutTotal *prometheus.CounterVec
	// CheckoutLatency records checkout transaction latency in milliseconds.
	CheckoutLatency *prometheus.HistogramVec
	// CouponRedemptions counts coupons consumed by orders.
	CouponRedemptions prometheus.Counter
	// CouponRejections counts coupons priced out of a quote with a warning.
	CouponRejections prometheus.Counter
	// CashbackCredits counts cashback task outcomes.
	CashbackCredits *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers pricing and checkout collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_quote_total",
			Help:      "Count of cart quotes by outcome.",
		}, []string{"result"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by outcome.",
		}, []string{"result"})
		CheckoutLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_ms",
			Help:      "Checkout transaction latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"result"})
		CouponRedemptions = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_redemptions_total",
			Help:      "Number of coupons consumed by orders.",
		})
		CouponRejections = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_rejections_total",
			Help:      "Number of stored coupons that no longer applied at checkout.",
		})
		CashbackCredits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cashback_credits_total",
			Help:      "Count of cashback credit tasks by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, QuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CheckoutLatency = v
			}
		})
		mustRegisterCollector(reg, CouponRedemptions, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CouponRedemptions = v
			}
		})
		mustRegisterCollector(reg, CouponRejections, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CouponRejections = v
			}
		})
		mustRegisterCollector(reg, CashbackCredits, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CashbackCredits = v
			}
		})
	})
}

// ObserveCheckout records one checkout outcome. It is a no-op until the metrics are registered.
func ObserveCheckout(result string, took time.Duration) {
	if CheckoutTotal == nil || CheckoutLatency == nil {
		return
	}
	CheckoutTotal.WithLabelValues(result).Inc()
	CheckoutLatency.WithLabelValues(result).Observe(DurationMillis(took))
}

// ObserveQuote records one quote outcome.
func ObserveQuote(result string) {
	if QuoteTotal != nil {
		QuoteTotal.WithLabelValues(result).Inc()
	}
}

// ObserveCoupon records a coupon redemption or a rejection turned into a warning.
func ObserveCoupon(redeemed bool) {
	switch {
	case redeemed && CouponRedemptions != nil:
		CouponRedemptions.Inc()
	case !redeemed && CouponRejections != nil:
		CouponRejections.Inc()
	}
}

// ObserveCashback records a cashback task outcome.
func ObserveCashback(result string) {
	if CashbackCredits != nil {
		CashbackCredits.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
