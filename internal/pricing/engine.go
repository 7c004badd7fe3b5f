package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/money"
)

// TaxBase selects the amount tax is charged on.
type TaxBase string

const (
	// TaxBaseNet charges tax on the subtotal after line discounts and before the coupon.
	TaxBaseNet TaxBase = "net"
	// TaxBaseGross charges tax on the subtotal before line discounts.
	TaxBaseGross TaxBase = "gross"
)

// DefaultTaxBase is the convention used by every quote and order.
const DefaultTaxBase = TaxBaseNet

// ShopRates carries the shop inputs of the aggregation. Rates are fractions (0.05 is 5%).
type ShopRates struct {
	TaxRate          decimal.Decimal     `json:"taxRate"`
	CommissionRate   decimal.Decimal     `json:"commissionRate"`
	DeliveryFee      decimal.Decimal     `json:"deliveryFee"`
	FreeDeliveryOver decimal.NullDecimal `json:"freeDeliveryOver"`
}

// CouponOutcome describes the coupon part of a quote. Applied is false when no coupon
// was requested or it was rejected, in which case Reason says why.
type CouponOutcome struct {
	Applied bool            `json:"applied"`
	Code    string          `json:"code,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason,omitempty"`
}

// CashbackOutcome holds the points the order would earn.
type CashbackOutcome struct {
	Points int64 `json:"points"`
}

// Input is everything Aggregate needs.
type Input struct {
	Lines        []LinePrice
	Shop         ShopRates
	DeliveryType db.DeliveryType
	// Coupon is the requested coupon reduction in base currency. It is capped at the net subtotal.
	Coupon  decimal.Decimal
	Rate    decimal.Decimal
	TaxBase TaxBase
}

// Amounts is one currency rendition of the cart totals.
type Amounts struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	NetSubtotal   decimal.Decimal `json:"netSubtotal"`
	Tax           decimal.Decimal `json:"tax"`
	DeliveryFee   decimal.Decimal `json:"deliveryFee"`
	CommissionFee decimal.Decimal `json:"commissionFee"`
	CouponPrice   decimal.Decimal `json:"couponPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	OriginPrice   decimal.Decimal `json:"originPrice"`
}

// Reconciled reports whether origin = total + discount - tax - delivery + coupon.
func (a Amounts) Reconciled() bool {
	return a.OriginPrice.Equal(a.TotalPrice.Add(a.TotalDiscount).Sub(a.Tax).Sub(a.DeliveryFee).Add(a.CouponPrice))
}

// LineSummary is the per line breakdown in both currencies.
type LineSummary struct {
	ID              uuid.UUID       `json:"id"`
	StockID         uuid.UUID       `json:"stockId"`
	ParentID        uuid.NullUUID   `json:"parentId"`
	MemberID        uuid.NullUUID   `json:"memberId"`
	Quantity        int32           `json:"quantity"`
	Bonus           bool            `json:"bonus"`
	BonusSourceID   uuid.NullUUID   `json:"bonusSourceId"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	OriginPrice     decimal.Decimal `json:"originPrice"`
	Discount        decimal.Decimal `json:"discount"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	DisplayUnit     decimal.Decimal `json:"displayUnitPrice"`
	DisplayOrigin   decimal.Decimal `json:"displayOriginPrice"`
	DisplayDiscount decimal.Decimal `json:"displayDiscount"`
	DisplayTotal    decimal.Decimal `json:"displayTotalPrice"`
}

// Summary is the complete priced cart. Every field is always present.
type Summary struct {
	Rate     decimal.Decimal `json:"rate"`
	TaxBase  TaxBase         `json:"taxBase"`
	Base     Amounts         `json:"base"`
	Display  Amounts         `json:"display"`
	Lines    []LineSummary   `json:"lines"`
	Coupon   CouponOutcome   `json:"coupon"`
	Cashback CashbackOutcome `json:"cashback"`
	Warnings []string        `json:"warnings"`
}

// Aggregate combines priced lines with the shop rates into cart totals. Every component is
// rounded before totals are derived from it, so the reconciliation identity holds exactly in
// both currencies. Display figures are converted component by component with the cart rate.
func Aggregate(in Input) (Summary, error) {
	conv, err := money.NewConverter(in.Rate)
	if err != nil {
		return Summary{}, err
	}
	base := in.TaxBase
	if base == "" {
		base = DefaultTaxBase
	}

	subtotal, discount := decimal.Zero, decimal.Zero
	lines := make([]LineSummary, 0, len(in.Lines))
	for _, l := range in.Lines {
		subtotal = subtotal.Add(l.Origin)
		discount = discount.Add(l.Discount)
		dOrigin := conv.ToDisplay(l.Origin)
		dTotal := conv.ToDisplay(l.Total)
		lines = append(lines, LineSummary{
			ID:              l.ID,
			StockID:         l.StockID,
			ParentID:        l.ParentID,
			MemberID:        l.MemberID,
			Quantity:        l.Quantity,
			Bonus:           l.Bonus,
			BonusSourceID:   l.BonusSourceID,
			UnitPrice:       money.Round(l.UnitPrice),
			OriginPrice:     l.Origin,
			Discount:        l.Discount,
			TotalPrice:      l.Total,
			DisplayUnit:     conv.ToDisplay(l.UnitPrice),
			DisplayOrigin:   dOrigin,
			DisplayDiscount: dOrigin.Sub(dTotal),
			DisplayTotal:    dTotal,
		})
	}
	net := subtotal.Sub(discount)

	taxable := net
	if base == TaxBaseGross {
		taxable = subtotal
	}
	tax := money.Round(taxable.Mul(in.Shop.TaxRate))
	delivery := deliveryFee(in.Shop, in.DeliveryType, net)
	commission := money.Round(net.Mul(in.Shop.CommissionRate))
	coupon := money.Min(money.NonNegative(money.Round(in.Coupon)), net)

	baseAmounts := derive(subtotal, discount, tax, delivery, commission, coupon)
	display := derive(
		conv.ToDisplay(subtotal),
		conv.ToDisplay(discount),
		conv.ToDisplay(tax),
		conv.ToDisplay(delivery),
		conv.ToDisplay(commission),
		conv.ToDisplay(coupon),
	)

	return Summary{
		Rate:     conv.Rate(),
		TaxBase:  base,
		Base:     baseAmounts,
		Display:  display,
		Lines:    lines,
		Coupon:   CouponOutcome{Amount: baseAmounts.CouponPrice},
		Warnings: []string{},
	}, nil
}

// derive computes the dependent totals from rounded components.
func derive(subtotal, discount, tax, delivery, commission, coupon decimal.Decimal) Amounts {
	net := subtotal.Sub(discount)
	coupon = money.Min(coupon, money.NonNegative(net))
	total := money.NonNegative(net.Add(tax).Add(delivery).Sub(coupon))
	return Amounts{
		Subtotal:      subtotal,
		TotalDiscount: discount,
		NetSubtotal:   net,
		Tax:           tax,
		DeliveryFee:   delivery,
		CommissionFee: commission,
		CouponPrice:   coupon,
		TotalPrice:    total,
		OriginPrice:   total.Add(discount).Sub(tax).Sub(delivery).Add(coupon),
	}
}

func deliveryFee(shop ShopRates, kind db.DeliveryType, net decimal.Decimal) decimal.Decimal {
	switch kind {
	case db.DeliveryTypePickup, db.DeliveryTypeDineIn:
		return decimal.Zero
	}
	if shop.FreeDeliveryOver.Valid && net.GreaterThanOrEqual(shop.FreeDeliveryOver.Decimal) {
		return decimal.Zero
	}
	return money.Round(money.NonNegative(shop.DeliveryFee))
}
