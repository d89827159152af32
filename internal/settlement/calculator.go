// Package settlement splits an order's gross amount into the platform fee and
// the seller payout and schedules the payout date.
package settlement

import (
	"time"

	"wholesale-market/internal/apperr"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Split is the result of a settlement computation.
type Split struct {
	OrderAmount       int64
	PlatformFeeRate   decimal.Decimal
	PlatformFee       int64
	SellerAmount      int64
	ScheduledPayoutAt time.Time
}

// ValidateRate rejects fee rates outside [0, 1].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return apperr.Newf(apperr.KindConfiguration, "platform fee rate %s is outside [0,1]", rate.String())
	}
	return nil
}

// Calculate floors the fee in the platform's favour; the seller receives the
// complement so the two always sum to orderAmount.
func Calculate(orderAmount int64, rate decimal.Decimal, leadDays int, now time.Time) (Split, error) {
	if err := ValidateRate(rate); err != nil {
		return Split{}, err
	}
	if leadDays < 0 {
		return Split{}, apperr.Newf(apperr.KindConfiguration, "payout lead time %d is negative", leadDays)
	}
	if orderAmount < 0 {
		return Split{}, apperr.Validation("order amount must not be negative")
	}

	fee := decimal.NewFromInt(orderAmount).Mul(rate).Floor().IntPart()

	return Split{
		OrderAmount:       orderAmount,
		PlatformFeeRate:   rate,
		PlatformFee:       fee,
		SellerAmount:      orderAmount - fee,
		ScheduledPayoutAt: AddBusinessDays(now, leadDays),
	}, nil
}

// AddBusinessDays advances from by n weekdays. Holidays are not modelled.
func AddBusinessDays(from time.Time, n int) time.Time {
	t := from
	for added := 0; added < n; {
		t = t.AddDate(0, 0, 1)
		if isBusinessDay(t) {
			added++
		}
	}
	return t
}

func isBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// Calculator binds the platform-wide rate and lead time.
type Calculator struct {
	rate     decimal.Decimal
	leadDays int
	now      func() time.Time
}

// NewCalculator validates the configuration once at startup.
func NewCalculator(rate decimal.Decimal, leadDays int) (*Calculator, error) {
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	if leadDays < 0 {
		return nil, apperr.Newf(apperr.KindConfiguration, "payout lead time %d is negative", leadDays)
	}
	return &Calculator{rate: rate, leadDays: leadDays, now: time.Now}, nil
}

// WithClock replaces the clock, for tests.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

func (c *Calculator) Split(orderAmount int64) (Split, error) {
	return Calculate(orderAmount, c.rate, c.leadDays, c.now())
}
