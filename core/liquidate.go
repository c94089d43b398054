package core

import (
	"github.com/shopspring/decimal"
)

// LiquidationWaterfall is the ordered split of a liquidated account's
// remaining value between lenders, the liquidator and the insurance
// buffer.
type LiquidationWaterfall struct {
	// Loan value that collateral plus liquidated assets cannot cover.
	LoanLoss decimal.Decimal `json:"loanLoss"`

	// Collateral consumed to repay the loan (lenders come first).
	CollateralForLoan decimal.Decimal `json:"collateralForLoan"`

	ExecutorPremium  decimal.Decimal `json:"executorPremium"`
	InsurancePremium decimal.Decimal `json:"insurancePremium"`

	// Collateral remaining for the borrower after loan repayment and
	// premiums.
	RemainingCollateral decimal.Decimal `json:"remainingCollateral"`

	// Loan value repaid out of the account's liquidated assets.
	RepayFromAccount decimal.Decimal `json:"repayFromAccount"`
}

// CalcLiquidationWaterfall computes the deduction order of the base
// waterfall, premiums after lenders: collateral is consumed for the
// loan first, then the liquidator and the insurance fund are paid only
// from what remains.
func CalcLiquidationWaterfall(
	loan decimal.Decimal,
	collateral decimal.Decimal,
	availableAccountAssets decimal.Decimal,
	executorPremiumRate decimal.Decimal,
	liquidationInsuranceRate decimal.Decimal,
) LiquidationWaterfall {
	repayFromAccount := decimal.Min(loan, availableAccountAssets)

	loanLoss := loan.Sub(decimal.Min(loan, availableAccountAssets.Add(collateral)))

	// Any loan loss means collateral is fully consumed; otherwise only
	// the shortfall between loan and liquid assets comes out of it.
	collateralForLoan := loan.Sub(repayFromAccount)
	if loanLoss.GreaterThan(decimal.Zero) {
		collateralForLoan = collateral
	}

	remaining := collateral.Sub(collateralForLoan)

	executorPremium := decimal.Min(
		availableAccountAssets.Mul(executorPremiumRate).Truncate(TRANSFER_PRECISION),
		remaining,
	)
	remaining = remaining.Sub(executorPremium)

	insurancePremium := decimal.Min(
		availableAccountAssets.Mul(liquidationInsuranceRate).Truncate(TRANSFER_PRECISION),
		remaining,
	)
	remaining = remaining.Sub(insurancePremium)

	return LiquidationWaterfall{
		LoanLoss:            loanLoss,
		CollateralForLoan:   collateralForLoan,
		ExecutorPremium:     executorPremium,
		InsurancePremium:    insurancePremium,
		RemainingCollateral: remaining,
		RepayFromAccount:    repayFromAccount,
	}
}

// LiquidationResult records a completed liquidation, pre and post
// holdings included, for journaling and callers.
type LiquidationResult struct {
	AccountId    string `json:"accountId"`
	LiquidatorId string `json:"liquidatorId"`

	PreHoldings  *StrategyAccountHoldings `json:"preHoldings"`
	PostHoldings *StrategyAccountHoldings `json:"postHoldings"`

	InterestPaid decimal.Decimal `json:"interestPaid"`

	Waterfall LiquidationWaterfall `json:"waterfall"`

	// Drawn from the insurance buffer to offset loan loss.
	InsuranceDraw decimal.Decimal `json:"insuranceDraw"`

	// Loan value returned to the reserve; the residual loss, if any, is
	// socialized to shareholders.
	RepayAmount  decimal.Decimal `json:"repayAmount"`
	ResidualLoss decimal.Decimal `json:"residualLoss"`
}
