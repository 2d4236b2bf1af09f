// Package fees holds the pure pricing rules: forward pricing of a base price,
// organizer payout from collected revenue, refunds and the date/price gates.
//
// All arithmetic is on integer minor units. Percentages are converted to basis
// points and products are rounded half-up to the nearest minor unit.
package fees

import (
	"math"
	"time"

	"ticketgate/internal/domain"
)

// bps converts a percentage in [0,100] to basis points.
func bps(field string, pct float64) (int64, error) {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return 0, domain.Invalid(field, "rate %v must be within [0,100]", pct)
	}
	return int64(math.Round(pct * 100)), nil
}

// applyRate returns amount*rate rounded half-up, for a non-negative amount.
func applyRate(amount, rateBps int64) int64 {
	return (amount*rateBps + 5000) / 10000
}

// maxAmount keeps amount*rateBps within int64 for any rate up to 100%.
const maxAmount = math.MaxInt64 / 10000

func checkAmount(field string, m domain.Money) error {
	if m.Amount < 0 {
		return domain.Invalid(field, "amount must not be negative")
	}
	if m.Amount > maxAmount {
		return domain.Invalid(field, "amount %d exceeds %d", m.Amount, int64(maxAmount))
	}
	return nil
}

// ForwardPricing prices a base amount. The buyer pays base plus commission
// plus processing fee, both computed on the base; the artist receives the base.
func ForwardPricing(base domain.Money, rates domain.RateSheet) (domain.PriceBreakdown, error) {
	if err := checkAmount("base", base); err != nil {
		return domain.PriceBreakdown{}, err
	}
	commission, err := bps("commission_rate", rates.CommissionRate)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	processing, err := bps("processing_fee_rate", rates.ProcessingFeeRate)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	c := domain.NewMoney(applyRate(base.Amount, commission), base.Currency)
	p := domain.NewMoney(applyRate(base.Amount, processing), base.Currency)
	return domain.PriceBreakdown{
		Base:           base,
		Commission:     c,
		ProcessingFee:  p,
		Total:          base.Add(c).Add(p),
		ArtistReceives: base,
	}, nil
}

// Payout is the organizer settlement over collected revenue.
type Payout struct {
	Revenue       domain.Money `json:"revenue"`
	Commission    domain.Money `json:"commission"`
	ProcessingFee domain.Money `json:"processing_fee"`
	Payout        domain.Money `json:"payout"`
}

// PayoutFromRevenue deducts commission and processing, each computed on the
// whole revenue. This is a separate settlement model and is not the inverse
// of ForwardPricing.
func PayoutFromRevenue(revenue domain.Money, rates domain.RateSheet) (Payout, error) {
	if err := checkAmount("revenue", revenue); err != nil {
		return Payout{}, err
	}
	commission, err := bps("commission_rate", rates.CommissionRate)
	if err != nil {
		return Payout{}, err
	}
	processing, err := bps("processing_fee_rate", rates.ProcessingFeeRate)
	if err != nil {
		return Payout{}, err
	}
	c := domain.NewMoney(applyRate(revenue.Amount, commission), revenue.Currency)
	p := domain.NewMoney(applyRate(revenue.Amount, processing), revenue.Currency)
	return Payout{
		Revenue:       revenue,
		Commission:    c,
		ProcessingFee: p,
		Payout:        revenue.Sub(c).Sub(p),
	}, nil
}

// RefundAmount returns price less the refund fee.
func RefundAmount(price domain.Money, refundFeeRate float64) (domain.Money, error) {
	if err := checkAmount("price", price); err != nil {
		return domain.Money{}, err
	}
	fee, err := bps("refund_fee_rate", refundFeeRate)
	if err != nil {
		return domain.Money{}, err
	}
	return price.Sub(domain.NewMoney(applyRate(price.Amount, fee), price.Currency)), nil
}

// IsValidPrice reports min <= price <= max, inclusive on both ends.
func IsValidPrice(price, minPrice, maxPrice int64) bool {
	return price >= minPrice && price <= maxPrice
}

// IsLeadTimeSatisfied reports whether eventDate is at least leadDays after now.
func IsLeadTimeSatisfied(eventDate, now time.Time, leadDays int) bool {
	return !eventDate.Before(now.Add(time.Duration(leadDays) * 24 * time.Hour))
}

// IsRefundAllowed reports whether now is at least cancellationPeriodHours
// before eventDate. The boundary itself is allowed.
func IsRefundAllowed(eventDate, now time.Time, cancellationPeriodHours int) bool {
	return !now.After(eventDate.Add(-time.Duration(cancellationPeriodHours) * time.Hour))
}

// ValidateRates checks every rate of the sheet and its price bounds.
func ValidateRates(rates domain.RateSheet) error {
	if _, err := bps("commission_rate", rates.CommissionRate); err != nil {
		return err
	}
	if _, err := bps("processing_fee_rate", rates.ProcessingFeeRate); err != nil {
		return err
	}
	if _, err := bps("refund_fee_rate", rates.RefundFeeRate); err != nil {
		return err
	}
	if rates.MinPrice < 0 || rates.MaxPrice < rates.MinPrice {
		return domain.Invalid("max_price", "price bounds [%d,%d] are invalid", rates.MinPrice, rates.MaxPrice)
	}
	if rates.LeadTimeDays < 0 {
		return domain.Invalid("lead_time_days", "must not be negative")
	}
	if rates.CancellationPeriodHours < 0 {
		return domain.Invalid("cancellation_period_hours", "must not be negative")
	}
	return nil
}
