package core

import (
	"github.com/shopspring/decimal"
)

type InterestRateModelParameters struct {
	// Utilization at which the curve kinks, as a fraction of ONE.
	OptimalUtilization decimal.Decimal `json:"optimalUtilization"`

	BaseRate          decimal.Decimal `json:"baseRate"`
	SlopeBelowOptimal decimal.Decimal `json:"slopeBelowOptimal"`
	SlopeAboveOptimal decimal.Decimal `json:"slopeAboveOptimal"`
}

func (m *InterestRateModelParameters) Validate() error {
	optimalUr := m.OptimalUtilization

	if optimalUr.LessThanOrEqual(decimal.Zero) || optimalUr.GreaterThanOrEqual(ONE) {
		return ErrOptimalUtilization
	}
	if m.BaseRate.LessThan(decimal.Zero) ||
		m.SlopeBelowOptimal.LessThan(decimal.Zero) ||
		m.SlopeAboveOptimal.LessThan(decimal.Zero) {
		return ErrNegativeRate
	}

	return nil
}

// Update overwrites any parameter set to a non-zero value, mirroring a
// partial configuration update. Callers are responsible for settling
// outstanding interest before swapping parameters; a later settlement
// applies the active curve to the whole elapsed interval.
func (m *InterestRateModelParameters) Update(params *InterestRateModelParameters) {
	if !params.OptimalUtilization.IsZero() {
		m.OptimalUtilization = params.OptimalUtilization
	}
	if !params.BaseRate.IsZero() {
		m.BaseRate = params.BaseRate
	}
	if !params.SlopeBelowOptimal.IsZero() {
		m.SlopeBelowOptimal = params.SlopeBelowOptimal
	}
	if !params.SlopeAboveOptimal.IsZero() {
		m.SlopeAboveOptimal = params.SlopeAboveOptimal
	}
}

// CurrentRate returns the annualized borrow rate for a utilization
// fraction. The curve is continuous and piecewise-linear with a kink at
// the optimal utilization.
func (m *InterestRateModelParameters) CurrentRate(utilization decimal.Decimal) decimal.Decimal {
	optimalUr := m.OptimalUtilization

	if utilization.LessThan(optimalUr) {
		// base + slopeBelow * ur / optimal_ur
		return m.BaseRate.Add(m.SlopeBelowOptimal.Mul(utilization).Div(optimalUr))
	}

	// base + slopeBelow + slopeAbove * (ur - optimal_ur) / (1 - optimal_ur)
	excessUr := utilization.Sub(optimalUr)
	oneMinusOptimalUr := ONE.Sub(optimalUr)
	return m.BaseRate.
		Add(m.SlopeBelowOptimal).
		Add(m.SlopeAboveOptimal.Mul(excessUr).Div(oneMinusOptimalUr))
}

// Utilization returns utilized / total, zero when the pool is empty.
func Utilization(utilizedAssets, totalAssets decimal.Decimal) decimal.Decimal {
	if totalAssets.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return utilizedAssets.Div(totalAssets)
}

// NextCumulativeIndex advances the cumulative interest index across an
// elapsed interval. Each advance is simple interest on the prior index;
// compounding emerges across successive settlements.
func (m *InterestRateModelParameters) NextCumulativeIndex(
	utilizedAssets decimal.Decimal,
	totalAssets decimal.Decimal,
	elapsedSeconds int64,
	priorIndex decimal.Decimal,
) decimal.Decimal {
	if elapsedSeconds <= 0 || utilizedAssets.LessThanOrEqual(decimal.Zero) {
		return priorIndex
	}

	rate := m.CurrentRate(Utilization(utilizedAssets, totalAssets))
	accrual := rate.
		Mul(decimal.NewFromInt(elapsedSeconds)).
		Div(decimal.NewFromInt(SECONDS_PER_YEAR))

	return priorIndex.Add(accrual)
}

// InterestOwed returns the interest accrued on a loan between two index
// observations, truncated so the borrower is never overcharged.
func InterestOwed(loanAmount, indexAtLastSettlement, indexNow decimal.Decimal) decimal.Decimal {
	if loanAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	indexDelta := indexNow.Sub(indexAtLastSettlement)
	if indexDelta.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	return loanAmount.Mul(indexDelta).Truncate(TRANSFER_PRECISION)
}
