package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor units (cents) of Currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

func (m Money) Add(o Money) Money { return Money{Amount: m.Amount + o.Amount, Currency: m.Currency} }
func (m Money) Sub(o Money) Money { return Money{Amount: m.Amount - o.Amount, Currency: m.Currency} }
func (m Money) IsNegative() bool  { return m.Amount < 0 }

// String formats the amount in major units with two decimals.
func (m Money) String() string {
	sign := ""
	a := m.Amount
	if a < 0 {
		sign = "-"
		a = -a
	}
	s := fmt.Sprintf("%s%d.%02d", sign, a/100, a%100)
	if m.Currency == "" {
		return s
	}
	return s + " " + m.Currency
}

// ParseMajor parses a decimal major-unit amount such as "500.25" into Money.
// More than two fractional digits is rejected.
func ParseMajor(s, currency string) (Money, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return Money{}, Invalid("amount", "at most two decimal places")
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, Invalid("amount", "invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return Money{}, Invalid("amount", "invalid amount %q", s)
	}
	amt := w*100 + f
	if neg {
		amt = -amt
	}
	return NewMoney(amt, currency), nil
}

// RateSheet is the immutable set of rates and limits for one domain.
type RateSheet struct {
	CommissionRate            float64 `json:"commission_rate" yaml:"commission_rate"`
	ProcessingFeeRate         float64 `json:"processing_fee_rate" yaml:"processing_fee_rate"`
	RefundFeeRate             float64 `json:"refund_fee_rate" yaml:"refund_fee_rate"`
	MinPrice                  int64   `json:"min_price" yaml:"min_price"`
	MaxPrice                  int64   `json:"max_price" yaml:"max_price"`
	LeadTimeDays              int     `json:"lead_time_days" yaml:"lead_time_days"`
	CancellationPeriodHours   int     `json:"cancellation_period_hours" yaml:"cancellation_period_hours"`
	MaxEventsPerActorPerMonth int64   `json:"max_events_per_actor_per_month" yaml:"max_events_per_actor_per_month"`
	Currency                  string  `json:"currency" yaml:"currency"`
}

// PriceBreakdown is the forward pricing of one base price.
type PriceBreakdown struct {
	Base           Money `json:"base"`
	Commission     Money `json:"commission"`
	ProcessingFee  Money `json:"processing_fee"`
	Total          Money `json:"total"`
	ArtistReceives Money `json:"artist_receives"`
}
