package core

import (
	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
)

// BankAccountWrapper operates one strategy account's holdings against
// its bank and reserve. Callers load the aggregates, run an operation
// and persist all of them together on success; a failed operation
// leaves nothing persisted.
type BankAccountWrapper struct {
	clk clock.Clock

	Bank     *Bank
	Reserve  *Reserve
	Holdings *StrategyAccountHoldings
}

type OptionFunc func(ba *BankAccountWrapper)

func WithClock(clk clock.Clock) OptionFunc {
	return func(ba *BankAccountWrapper) {
		ba.clk = clk
	}
}

func NewBankAccountWrapper(bank *Bank, reserve *Reserve, holdings *StrategyAccountHoldings, opts ...OptionFunc) *BankAccountWrapper {
	ba := &BankAccountWrapper{
		clk:      clock.New(),
		Bank:     bank,
		Reserve:  reserve,
		Holdings: holdings,
	}
	for _, opt := range opts {
		opt(ba)
	}
	return ba
}

// SettleAccountInterest charges accrued interest against the account's
// collateral, capped at what is posted. The pool-wide side of the same
// settlement reduces the aggregate collateral counter inside
// GetInterestAndTakeInsurance.
func (ba *BankAccountWrapper) SettleAccountInterest(log Log) (decimal.Decimal, error) {
	owed, indexNow, err := ba.Reserve.SettleInterest(log, ba.clk, ba.Bank, ba.Holdings.Loan, ba.Holdings.InterestIndexLast)
	if err != nil {
		return decimal.Zero, err
	}

	paid := decimal.Min(owed, ba.Holdings.Collateral)
	ba.Holdings.Collateral = ba.Holdings.Collateral.Sub(paid)
	ba.Holdings.InterestIndexLast = indexNow
	ba.Holdings.LastUpdate = ba.clk.Now().Unix()

	return paid, nil
}

// HoldingsAfterPayingInterest projects the account row with interest
// that would accrue right now, without touching any state.
func (ba *BankAccountWrapper) HoldingsAfterPayingInterest() *StrategyAccountHoldings {
	owed, indexNow := ba.Reserve.SettleInterestView(ba.clk, ba.Holdings.Loan, ba.Holdings.InterestIndexLast)

	projected := ba.Holdings.Clone()
	projected.Collateral = projected.Collateral.Sub(decimal.Min(owed, projected.Collateral))
	projected.InterestIndexLast = indexNow
	return projected
}

// AddCollateral settles interest, then posts amount to the account.
func (ba *BankAccountWrapper) AddCollateral(log Log, amount decimal.Decimal) error {
	if !amount.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return NegativeAmount
	}

	if _, err := ba.SettleAccountInterest(log); err != nil {
		return err
	}

	collateral := ba.Holdings.Collateral.Add(amount)
	if collateral.GreaterThan(decimal.Zero) && collateral.LessThan(ba.Bank.MinimumCollateralBalance) {
		return CollateralBelowMinimum
	}

	ba.Holdings.Collateral = collateral
	ba.Bank.TotalCollateral = ba.Bank.TotalCollateral.Add(amount)
	ba.Bank.AssetBalance = ba.Bank.AssetBalance.Add(amount)
	ba.Bank.UpdatedAt = ba.clk.Now().Unix()

	log.Debug().Msgf("Collateral added: %s (account %s)", amount, ba.Holdings.AccountId)
	return nil
}

// BorrowFunds settles interest, grows the loan and draws the assets
// from the reserve. The health check uses the reported account value
// inclusive of the new loan proceeds.
func (ba *BankAccountWrapper) BorrowFunds(log Log, amount, accountValue decimal.Decimal) error {
	if !amount.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return NegativeAmount
	}

	if _, err := ba.SettleAccountInterest(log); err != nil {
		return err
	}

	loan := ba.Holdings.Loan.Add(amount)
	health := GetHealthScore(loan, accountValue.Add(amount))
	if health.LessThan(ba.Bank.MinimumOpenHealthScore) {
		return HealthScoreBelowMinimumOpen
	}

	if err := ba.Reserve.BorrowAssets(log, ba.clk, amount); err != nil {
		return err
	}

	ba.Holdings.Loan = loan
	ba.Holdings.LastUpdate = ba.clk.Now().Unix()

	log.Info().Msgf("Borrowed %s (account %s, loan now %s)", amount, ba.Holdings.AccountId, loan)
	return nil
}

// RepayLoan settles interest and retires repayAmount of the loan. The
// portion the strategy's liquid value cannot cover comes out of posted
// collateral. Repaying while liquidatable is disallowed; collateral
// must be topped up first.
func (ba *BankAccountWrapper) RepayLoan(log Log, repayAmount, accountValue decimal.Decimal) error {
	if !repayAmount.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return NegativeAmount
	}

	if _, err := ba.SettleAccountInterest(log); err != nil {
		return err
	}

	if repayAmount.GreaterThan(ba.Holdings.Loan) {
		return RepayExceedsLoan
	}
	if ba.Bank.IsLiquidatable(ba.Holdings, accountValue) {
		return AccountIsLiquidatable
	}

	collateralRepayment := repayAmount.Sub(decimal.Min(repayAmount, accountValue))
	if collateralRepayment.GreaterThan(ba.Holdings.Collateral) {
		return InsufficientCollateral
	}

	ba.Holdings.Collateral = ba.Holdings.Collateral.Sub(collateralRepayment)
	ba.Holdings.Loan = ba.Holdings.Loan.Sub(repayAmount)
	ba.Holdings.LastUpdate = ba.clk.Now().Unix()
	ba.Bank.TotalCollateral = ba.Bank.TotalCollateral.Sub(collateralRepayment)
	ba.Bank.AssetBalance = ba.Bank.AssetBalance.Sub(collateralRepayment)
	ba.Bank.UpdatedAt = ba.clk.Now().Unix()

	if err := ba.Reserve.Repay(log, ba.clk, repayAmount, repayAmount); err != nil {
		return err
	}

	log.Info().Msgf("Repaid %s (%s from collateral, account %s)", repayAmount, collateralRepayment, ba.Holdings.AccountId)
	return nil
}

// WithdrawCollateral settles interest and releases collateral up to the
// withdrawable amount. With soft withdrawal the request silently clamps
// instead of failing. Returns the amount actually withdrawn.
func (ba *BankAccountWrapper) WithdrawCollateral(log Log, requested, accountValue decimal.Decimal, useSoftWithdrawal bool) (decimal.Decimal, error) {
	if !requested.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return decimal.Zero, NegativeAmount
	}

	if _, err := ba.SettleAccountInterest(log); err != nil {
		return decimal.Zero, err
	}

	withdrawable := ba.Bank.WithdrawableCollateral(ba.Holdings, accountValue)

	amount := requested
	if requested.GreaterThan(withdrawable) {
		if !useSoftWithdrawal {
			return decimal.Zero, WithdrawalExceedsAvailable
		}
		amount = withdrawable
	}

	remaining := ba.Holdings.Collateral.Sub(amount)
	if remaining.GreaterThan(decimal.Zero) && remaining.LessThan(ba.Bank.MinimumCollateralBalance) {
		return decimal.Zero, CollateralBelowMinimum
	}

	ba.Holdings.Collateral = remaining
	ba.Holdings.LastUpdate = ba.clk.Now().Unix()
	ba.Bank.TotalCollateral = ba.Bank.TotalCollateral.Sub(amount)
	ba.Bank.AssetBalance = ba.Bank.AssetBalance.Sub(amount)
	ba.Bank.UpdatedAt = ba.clk.Now().Unix()

	log.Debug().Msgf("Collateral withdrawn: %s of %s requested (account %s)", amount, requested, ba.Holdings.AccountId)
	return amount, nil
}

// ProcessLiquidation runs the liquidation waterfall once the strategy
// layer has fully unwound the account. availableAccountAssets is the
// settlement-asset value the unwind produced.
func (ba *BankAccountWrapper) ProcessLiquidation(log Log, liquidatorKey string, availableAccountAssets decimal.Decimal) (*LiquidationResult, error) {
	if availableAccountAssets.LessThan(decimal.Zero) {
		return nil, NegativeAmount
	}
	if !ba.Holdings.HasLoan() {
		return nil, AccountNotLiquidatable
	}

	interestPaid, err := ba.SettleAccountInterest(log)
	if err != nil {
		return nil, err
	}

	preHoldings := ba.Holdings.Clone()
	loan := ba.Holdings.Loan
	collateral := ba.Holdings.Collateral

	wf := CalcLiquidationWaterfall(
		loan,
		collateral,
		availableAccountAssets,
		ba.Bank.ExecutorPremium,
		ba.Bank.LiquidationInsurancePremium,
	)

	// Collateral consumed for the loan and the executor premium leave
	// the bank; the liquidation insurance premium stays and joins the
	// buffer once untracked.
	collateralOut := collateral.Sub(wf.RemainingCollateral)
	ba.Bank.TotalCollateral = ba.Bank.TotalCollateral.Sub(collateralOut)
	ba.Bank.AssetBalance = ba.Bank.AssetBalance.
		Sub(wf.CollateralForLoan).
		Sub(wf.ExecutorPremium)

	// Loan loss is offset from the insurance buffer, capped at what the
	// buffer actually holds; the residual is socialized to the reserve.
	insuranceDraw := decimal.Zero
	if wf.LoanLoss.GreaterThan(decimal.Zero) {
		insuranceDraw = decimal.Min(wf.LoanLoss, ba.Bank.InsuranceBuffer())
		ba.Bank.AssetBalance = ba.Bank.AssetBalance.Sub(insuranceDraw)
	}
	residualLoss := wf.LoanLoss.Sub(insuranceDraw)

	repayAmount := wf.RepayFromAccount.Add(wf.CollateralForLoan).Add(insuranceDraw)
	if err := ba.Reserve.Repay(log, ba.clk, loan, repayAmount); err != nil {
		return nil, err
	}

	ba.Holdings.ResetAfterLiquidation(ba.clk, wf.RemainingCollateral)
	ba.Bank.UpdatedAt = ba.clk.Now().Unix()

	result := &LiquidationResult{
		AccountId:     ba.Holdings.AccountId.String(),
		LiquidatorId:  liquidatorKey,
		PreHoldings:   preHoldings,
		PostHoldings:  ba.Holdings.Clone(),
		InterestPaid:  interestPaid,
		Waterfall:     wf,
		InsuranceDraw: insuranceDraw,
		RepayAmount:   repayAmount,
		ResidualLoss:  residualLoss,
	}

	log.Info().Msgf("Liquidation processed: account %s, repay %s, loss %s (insurance covered %s), executor premium %s",
		result.AccountId, repayAmount, wf.LoanLoss, insuranceDraw, wf.ExecutorPremium)
	return result, nil
}
