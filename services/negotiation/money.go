package negotiation

import (
	"context"
	"math"

	"haggle/models"
)

// TaxFunc is the injected external tax function: given a gross amount it
// returns the tax-adjusted figure the payer actually owes. It must be pure
// for a given input.
type TaxFunc func(ctx context.Context, amount float64) (models.TaxBreakdown, error)

// MoneyPolicy computes the platform fee and the payable total for a
// negotiated price. Pure and deterministic; the tax step is delegated.
type MoneyPolicy struct {
	FeeRate    float64
	Currency   string
	computeNet TaxFunc
}

// NewMoneyPolicy builds a MoneyPolicy with the configured fee rate and the
// injected tax function.
func NewMoneyPolicy(feeRate float64, currency string, computeNet TaxFunc) *MoneyPolicy {
	return &MoneyPolicy{FeeRate: feeRate, Currency: currency, computeNet: computeNet}
}

// roundCents keeps monetary figures stable across repeated computations.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Fee returns the platform's management fee for the given price.
func (p *MoneyPolicy) Fee(price float64) float64 {
	return roundCents(price * p.FeeRate)
}

// GrossTotal returns price plus the platform fee.
func (p *MoneyPolicy) GrossTotal(price float64) float64 {
	return roundCents(price + p.Fee(price))
}

// NetPayable runs the gross total through the external tax function. Payment
// is always initiated against this figure, never the raw gross total.
func (p *MoneyPolicy) NetPayable(ctx context.Context, price float64) (models.TaxBreakdown, error) {
	return p.computeNet(ctx, p.GrossTotal(price))
}

// Quote assembles the full fee/tax breakdown for a price.
func (p *MoneyPolicy) Quote(ctx context.Context, price float64) (*models.QuoteBreakdown, error) {
	breakdown, err := p.NetPayable(ctx, price)
	if err != nil {
		return nil, err
	}
	return &models.QuoteBreakdown{
		Price:      price,
		FeeRate:    p.FeeRate,
		Fee:        p.Fee(price),
		GrossTotal: p.GrossTotal(price),
		TaxRate:    breakdown.Rate,
		TaxAmount:  breakdown.TaxAmount,
		NetPayable: breakdown.NetAmount,
		Currency:   p.Currency,
	}, nil
}

// FlatRateTax returns a TaxFunc adding a flat fraction on top of the amount.
// Stands in where no jurisdiction-specific tax service is wired.
func FlatRateTax(rate float64) TaxFunc {
	return func(_ context.Context, amount float64) (models.TaxBreakdown, error) {
		tax := roundCents(amount * rate)
		return models.TaxBreakdown{
			NetAmount: roundCents(amount + tax),
			TaxAmount: tax,
			Rate:      rate,
		}, nil
	}
}
