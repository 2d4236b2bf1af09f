package fees

import (
	"errors"
	"math"
	"testing"
	"time"

	"ticketgate/internal/domain"
)

var eventRates = domain.RateSheet{
	CommissionRate:          10,
	ProcessingFeeRate:       2.9,
	RefundFeeRate:           5,
	MinPrice:                100000,
	MaxPrice:                100000000,
	LeadTimeDays:            7,
	CancellationPeriodHours: 24,
	Currency:                "KES",
}

func kes(minor int64) domain.Money { return domain.NewMoney(minor, "KES") }

func TestForwardPricing(t *testing.T) {
	got, err := ForwardPricing(kes(5000000), eventRates)
	if err != nil {
		t.Fatalf("forward pricing: %v", err)
	}
	if got.Commission != kes(500000) {
		t.Fatalf("commission = %s", got.Commission)
	}
	if got.ProcessingFee != kes(145000) {
		t.Fatalf("processing fee = %s", got.ProcessingFee)
	}
	if got.Total != kes(5645000) {
		t.Fatalf("total = %s", got.Total)
	}
	if got.ArtistReceives != kes(5000000) {
		t.Fatalf("artist receives = %s", got.ArtistReceives)
	}
}

func TestForwardPricingRoundsHalfUp(t *testing.T) {
	// 2.9% of 150 minor units is 4.35, 10% of 5 is 0.5.
	got, err := ForwardPricing(kes(150), eventRates)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessingFee.Amount != 4 || got.Commission.Amount != 15 {
		t.Fatalf("unexpected rounding: %+v", got)
	}
	got, err = ForwardPricing(kes(5), eventRates)
	if err != nil {
		t.Fatal(err)
	}
	if got.Commission.Amount != 1 {
		t.Fatalf("commission on 5 = %d, want 1", got.Commission.Amount)
	}
}

func TestPayoutFromRevenue(t *testing.T) {
	got, err := PayoutFromRevenue(kes(5645000), eventRates)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if got.Payout != kes(4916795) {
		t.Fatalf("payout = %s, want 49167.95 KES", got.Payout)
	}
	if got.Payout.String() != "49167.95 KES" {
		t.Fatalf("formatted payout = %q", got.Payout.String())
	}
	// Not the inverse of forward pricing.
	if got.Payout == kes(5000000) {
		t.Fatalf("payout must not equal the original base")
	}
}

func TestRefundAmount(t *testing.T) {
	got, err := RefundAmount(kes(5000000), 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != kes(4750000) {
		t.Fatalf("refund = %s", got)
	}
	full, _ := RefundAmount(kes(5000000), 0)
	if full != kes(5000000) {
		t.Fatalf("zero fee refund = %s", full)
	}
	none, _ := RefundAmount(kes(5000000), 100)
	if none.Amount != 0 {
		t.Fatalf("full fee refund = %s", none)
	}
}

func TestInvalidInputs(t *testing.T) {
	cases := []struct {
		name string
		run  func() error
	}{
		{"negative base", func() error { _, err := ForwardPricing(kes(-1), eventRates); return err }},
		{"rate over 100", func() error {
			r := eventRates
			r.CommissionRate = 101
			_, err := ForwardPricing(kes(100), r)
			return err
		}},
		{"negative rate", func() error {
			r := eventRates
			r.ProcessingFeeRate = -0.1
			_, err := PayoutFromRevenue(kes(100), r)
			return err
		}},
		{"negative refund price", func() error { _, err := RefundAmount(kes(-5), 5); return err }},
		{"refund rate over 100", func() error { _, err := RefundAmount(kes(5), 100.5); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Field == "" {
				t.Fatalf("expected field in validation error, got %v", err)
			}
		})
	}
}

func TestIsValidPrice(t *testing.T) {
	cases := []struct {
		price int64
		want  bool
	}{
		{100000, true},
		{100000000, true},
		{99999, false},
		{100000001, false},
	}
	for _, tc := range cases {
		if got := IsValidPrice(tc.price, eventRates.MinPrice, eventRates.MaxPrice); got != tc.want {
			t.Fatalf("IsValidPrice(%d) = %v, want %v", tc.price, got, tc.want)
		}
	}
}

func TestDateGates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !IsRefundAllowed(now.Add(48*time.Hour), now, 24) {
		t.Fatalf("refund 48h ahead should be allowed")
	}
	if IsRefundAllowed(now.Add(12*time.Hour), now, 24) {
		t.Fatalf("refund 12h ahead should be refused")
	}
	if !IsRefundAllowed(now.Add(24*time.Hour), now, 24) {
		t.Fatalf("refund exactly at the cancellation boundary should be allowed")
	}
	if !IsLeadTimeSatisfied(now.Add(10*24*time.Hour), now, 7) {
		t.Fatalf("10 days ahead satisfies 7 day lead time")
	}
	if IsLeadTimeSatisfied(now.Add(3*24*time.Hour), now, 7) {
		t.Fatalf("3 days ahead does not satisfy 7 day lead time")
	}
}

func TestValidateRates(t *testing.T) {
	if err := ValidateRates(eventRates); err != nil {
		t.Fatalf("valid sheet rejected: %v", err)
	}
	bad := eventRates
	bad.MaxPrice = 10
	if err := ValidateRates(bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for inverted bounds, got %v", err)
	}
}

func TestAmountsBeyondRateRangeRejected(t *testing.T) {
	limit := int64(math.MaxInt64 / 10000)
	if _, err := ForwardPricing(domain.NewMoney(limit, "KES"), eventRates); err != nil {
		t.Fatalf("largest amount: %v", err)
	}
	if _, err := ForwardPricing(domain.NewMoney(limit+1, "KES"), eventRates); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("overflowing base: expected validation error, got %v", err)
	}
	if _, err := PayoutFromRevenue(domain.NewMoney(math.MaxInt64, "KES"), eventRates); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("overflowing revenue: expected validation error, got %v", err)
	}
}
