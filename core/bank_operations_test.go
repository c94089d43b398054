package core

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opFixture struct {
	mock     *clock.Mock
	log      Log
	reserve  *Reserve
	bank     *Bank
	position *LenderPosition
	ba       *BankAccountWrapper
}

func newOpFixture(t *testing.T, params BankParameters, depositAmount int64) *opFixture {
	t.Helper()

	mock := clock.NewMock()
	log := NopLog()

	reserve := newTestReserve(t, mock, 1_000_000)
	position := newTestPosition(mock, reserve)
	if depositAmount > 0 {
		_, err := reserve.Deposit(log, mock, position, decimal.NewFromInt(depositAmount))
		require.NoError(t, err)
	}

	bank, err := NewBank(mock, reserve.Id, "bank-owner", params)
	require.NoError(t, err)

	holdings := NewHoldings(mock, uuid.Must(uuid.NewV4()), bank.Id)
	ba := NewBankAccountWrapper(bank, reserve, holdings, WithClock(mock))

	return &opFixture{
		mock:     mock,
		log:      log,
		reserve:  reserve,
		bank:     bank,
		position: position,
		ba:       ba,
	}
}

// openPosition posts collateral and borrows in one go. The account value
// reported to the health check is the posted collateral.
func (f *opFixture) openPosition(t *testing.T, collateral, loan int64) {
	t.Helper()
	require.NoError(t, f.ba.AddCollateral(f.log, decimal.NewFromInt(collateral)))
	require.NoError(t, f.ba.BorrowFunds(f.log, decimal.NewFromInt(loan), decimal.NewFromInt(collateral)))
}

func TestAddCollateralUpdatesAggregates(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 0)

	require.NoError(t, f.ba.AddCollateral(f.log, decimal.NewFromInt(500)))

	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(500)))
	assert.True(t, f.bank.TotalCollateral.Equal(decimal.NewFromInt(500)))
	assert.True(t, f.bank.AssetBalance.Equal(decimal.NewFromInt(500)))

	err := f.ba.AddCollateral(f.log, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, NegativeAmount)
}

func TestAddCollateralBelowMinimumFails(t *testing.T) {
	params := newTestBankParams()
	params.MinimumCollateralBalance = decimal.NewFromInt(50)
	f := newOpFixture(t, params, 0)

	err := f.ba.AddCollateral(f.log, decimal.NewFromInt(20))
	assert.ErrorIs(t, err, CollateralBelowMinimum)
	assert.True(t, f.ba.Holdings.Collateral.IsZero())

	assert.NoError(t, f.ba.AddCollateral(f.log, decimal.NewFromInt(50)))
}

func TestBorrowFundsHealthGate(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)

	require.NoError(t, f.ba.AddCollateral(f.log, decimal.NewFromInt(100)))

	// (100 + 1000) / 1000 = 1.1, below the 1.25 minimum open score.
	err := f.ba.BorrowFunds(f.log, decimal.NewFromInt(1000), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, HealthScoreBelowMinimumOpen)
	assert.True(t, f.ba.Holdings.Loan.IsZero())
	assert.True(t, f.reserve.UtilizedAssets.IsZero(), "failed borrow must not draw liquidity")

	// (100 + 300) / 300 = 1.33... clears it.
	require.NoError(t, f.ba.BorrowFunds(f.log, decimal.NewFromInt(300), decimal.NewFromInt(100)))
	assert.True(t, f.ba.Holdings.Loan.Equal(decimal.NewFromInt(300)))
	assert.True(t, f.reserve.UtilizedAssets.Equal(decimal.NewFromInt(300)))
}

func TestCollateralConservation(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)

	second := NewHoldings(f.mock, uuid.Must(uuid.NewV4()), f.bank.Id)
	ba2 := NewBankAccountWrapper(f.bank, f.reserve, second, WithClock(f.mock))

	sum := func() decimal.Decimal {
		return f.ba.Holdings.Collateral.Add(second.Collateral)
	}
	assertConserved := func() {
		require.True(t, f.bank.TotalCollateral.Equal(sum()),
			"aggregate %s, holdings sum %s", f.bank.TotalCollateral, sum())
	}

	require.NoError(t, f.ba.AddCollateral(f.log, decimal.NewFromInt(100)))
	assertConserved()

	require.NoError(t, ba2.AddCollateral(f.log, decimal.NewFromInt(200)))
	assertConserved()

	require.NoError(t, f.ba.BorrowFunds(f.log, decimal.NewFromInt(50), decimal.NewFromInt(100)))
	assertConserved()

	require.NoError(t, f.ba.RepayLoan(f.log, decimal.NewFromInt(50), decimal.NewFromInt(150)))
	assertConserved()

	withdrawn, err := ba2.WithdrawCollateral(f.log, decimal.NewFromInt(200), decimal.NewFromInt(200), false)
	require.NoError(t, err)
	require.True(t, withdrawn.Equal(decimal.NewFromInt(200)))
	assertConserved()
}

func TestRepayLoanRoundTrip(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	shareValueBefore := f.reserve.ConvertToAssets(f.position.Shares)

	require.NoError(t, f.ba.RepayLoan(f.log, decimal.NewFromInt(1000), decimal.NewFromInt(1500)))

	assert.True(t, f.ba.Holdings.Loan.IsZero())
	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(500)), "liquid value covered the full repayment")
	assert.True(t, f.reserve.UtilizedAssets.IsZero())
	assert.True(t, f.reserve.TotalAssets().Equal(decimal.NewFromInt(2000)))
	assert.True(t, f.reserve.ConvertToAssets(f.position.Shares).Equal(shareValueBefore),
		"lossless round trip leaves share value unchanged")
}

func TestRepayLoanFromCollateral(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	// Liquid value covers 980, collateral the remaining 20.
	require.NoError(t, f.ba.RepayLoan(f.log, decimal.NewFromInt(1000), decimal.NewFromInt(980)))

	assert.True(t, f.ba.Holdings.Loan.IsZero())
	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(480)))
	assert.True(t, f.bank.TotalCollateral.Equal(decimal.NewFromInt(480)))
	assert.True(t, f.bank.AssetBalance.Equal(decimal.NewFromInt(480)))
	assert.True(t, f.reserve.UtilizedAssets.IsZero())
}

func TestRepayLoanGuards(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	err := f.ba.RepayLoan(f.log, decimal.NewFromInt(1100), decimal.NewFromInt(1500))
	assert.ErrorIs(t, err, RepayExceedsLoan)

	// 900 / 1000 = 0.9, at or below the 0.95 liquidation threshold.
	err = f.ba.RepayLoan(f.log, decimal.NewFromInt(500), decimal.NewFromInt(900))
	assert.ErrorIs(t, err, AccountIsLiquidatable)

	assert.True(t, f.ba.Holdings.Loan.Equal(decimal.NewFromInt(1000)), "failed repayments leave the loan untouched")
}

func TestWithdrawCollateralSoftClamp(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 900, 1000)

	// required = 1000 / 1.25 = 800, withdrawable = 100.
	value := decimal.NewFromInt(1900)

	_, err := f.ba.WithdrawCollateral(f.log, decimal.NewFromInt(200), value, false)
	assert.ErrorIs(t, err, WithdrawalExceedsAvailable)
	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(900)))

	withdrawn, err := f.ba.WithdrawCollateral(f.log, decimal.NewFromInt(200), value, true)
	require.NoError(t, err)
	assert.True(t, withdrawn.Equal(decimal.NewFromInt(100)), "got %s", withdrawn)
	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(800)))
	assert.True(t, f.bank.TotalCollateral.Equal(decimal.NewFromInt(800)))
}

func TestWithdrawCollateralMinimumFloor(t *testing.T) {
	params := newTestBankParams()
	params.MinimumCollateralBalance = decimal.NewFromInt(50)
	f := newOpFixture(t, params, 0)

	require.NoError(t, f.ba.AddCollateral(f.log, decimal.NewFromInt(100)))

	_, err := f.ba.WithdrawCollateral(f.log, decimal.NewFromInt(60), decimal.NewFromInt(100), false)
	assert.ErrorIs(t, err, CollateralBelowMinimum)

	// Withdrawing to exactly zero is always allowed.
	withdrawn, err := f.ba.WithdrawCollateral(f.log, decimal.NewFromInt(100), decimal.NewFromInt(100), false)
	require.NoError(t, err)
	assert.True(t, withdrawn.Equal(decimal.NewFromInt(100)))
	assert.True(t, f.ba.Holdings.Collateral.IsZero())
}

func TestHoldingsAfterPayingInterestView(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	f.mock.Add(SECONDS_PER_YEAR * time.Second)

	projected := f.ba.HoldingsAfterPayingInterest()
	assert.True(t, projected.Collateral.Equal(decimal.NewFromInt(400)), "got %s", projected.Collateral)
	assert.True(t, projected.InterestIndexLast.Equal(decimal.NewFromFloat(0.1)))

	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(500)), "projection must not mutate holdings")
	assert.True(t, f.ba.Holdings.InterestIndexLast.IsZero())
	assert.True(t, f.reserve.CumulativeInterestIndex.IsZero(), "projection must not advance the index")
}

// Deposit 2000, post 500 collateral, borrow 1000 and let a year pass:
// utilization 0.5 puts the rate at 0.10, charging 100 of interest. With
// 600 recovered from the account the waterfall fully repays the loan
// from the 400 of post-interest collateral and no loss remains.
func TestProcessLiquidationAfterInterestAccrual(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	f.mock.Add(SECONDS_PER_YEAR * time.Second)

	result, err := f.ba.ProcessLiquidation(f.log, "liquidator", decimal.NewFromInt(600))
	require.NoError(t, err)

	assert.True(t, result.InterestPaid.Equal(decimal.NewFromInt(100)), "got %s", result.InterestPaid)
	assert.True(t, result.Waterfall.LoanLoss.IsZero())
	assert.True(t, result.Waterfall.RepayFromAccount.Equal(decimal.NewFromInt(600)))
	assert.True(t, result.Waterfall.CollateralForLoan.Equal(decimal.NewFromInt(400)))
	assert.True(t, result.Waterfall.ExecutorPremium.IsZero())
	assert.True(t, result.Waterfall.RemainingCollateral.IsZero())
	assert.True(t, result.RepayAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, result.ResidualLoss.IsZero())

	assert.True(t, f.ba.Holdings.Loan.IsZero())
	assert.True(t, f.ba.Holdings.Collateral.IsZero())
	assert.True(t, f.ba.Holdings.InterestIndexLast.IsZero())

	assert.True(t, f.bank.TotalCollateral.IsZero())
	assert.True(t, f.bank.AssetBalance.IsZero())

	assert.True(t, f.reserve.UtilizedAssets.IsZero())
	assert.True(t, f.reserve.TotalAssets().Equal(decimal.NewFromInt(2100)),
		"lenders keep the collected interest, got %s", f.reserve.TotalAssets())
}

// With only 305 recovered the loan cannot be made whole: 305 + 500 of
// collateral covers 805 of the 1000 loan and the 195 residual is
// socialized to shareholders.
func TestProcessLiquidationWithLoanLoss(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	result, err := f.ba.ProcessLiquidation(f.log, "liquidator", decimal.NewFromInt(305))
	require.NoError(t, err)

	assert.True(t, result.Waterfall.LoanLoss.Equal(decimal.NewFromInt(195)), "got %s", result.Waterfall.LoanLoss)
	assert.True(t, result.Waterfall.CollateralForLoan.Equal(decimal.NewFromInt(500)), "loss consumes all collateral")
	assert.True(t, result.Waterfall.RemainingCollateral.IsZero())
	assert.True(t, result.InsuranceDraw.IsZero(), "empty buffer covers nothing")
	assert.True(t, result.RepayAmount.Equal(decimal.NewFromInt(805)))
	assert.True(t, result.ResidualLoss.Equal(decimal.NewFromInt(195)))

	assert.True(t, f.ba.Holdings.Loan.IsZero())
	assert.True(t, f.ba.Holdings.Collateral.IsZero())

	assert.True(t, f.bank.TotalCollateral.IsZero())
	assert.True(t, f.bank.AssetBalance.IsZero())

	assert.True(t, f.reserve.UtilizedAssets.IsZero())
	assert.True(t, f.reserve.TotalAssets().Equal(decimal.NewFromInt(1805)),
		"loss socialized to shareholders, got %s", f.reserve.TotalAssets())
}

func TestProcessLiquidationInsuranceBufferAbsorbsLoss(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)
	f.openPosition(t, 500, 1000)

	// Seed the buffer: balance beyond tracked collateral.
	f.bank.AssetBalance = f.bank.AssetBalance.Add(decimal.NewFromInt(150))
	require.True(t, f.bank.InsuranceBuffer().Equal(decimal.NewFromInt(150)))

	result, err := f.ba.ProcessLiquidation(f.log, "liquidator", decimal.NewFromInt(305))
	require.NoError(t, err)

	assert.True(t, result.Waterfall.LoanLoss.Equal(decimal.NewFromInt(195)))
	assert.True(t, result.InsuranceDraw.Equal(decimal.NewFromInt(150)), "got %s", result.InsuranceDraw)
	assert.True(t, result.RepayAmount.Equal(decimal.NewFromInt(955)))
	assert.True(t, result.ResidualLoss.Equal(decimal.NewFromInt(45)))

	assert.True(t, f.bank.AssetBalance.IsZero(), "buffer fully drawn")
	assert.True(t, f.reserve.TotalAssets().Equal(decimal.NewFromInt(1955)),
		"only the uncovered residual is socialized, got %s", f.reserve.TotalAssets())
}

func TestProcessLiquidationPremiums(t *testing.T) {
	params := newTestBankParams()
	params.ExecutorPremium = decimal.NewFromFloat(0.0025)
	params.LiquidationInsurancePremium = decimal.NewFromFloat(0.0025)
	f := newOpFixture(t, params, 2000)
	f.openPosition(t, 500, 1000)

	result, err := f.ba.ProcessLiquidation(f.log, "liquidator", decimal.NewFromInt(1000))
	require.NoError(t, err)

	// Loan fully covered from liquid assets; premiums of 2.5 each come
	// out of the untouched collateral.
	assert.True(t, result.Waterfall.LoanLoss.IsZero())
	assert.True(t, result.Waterfall.CollateralForLoan.IsZero())
	assert.True(t, result.Waterfall.ExecutorPremium.Equal(decimal.NewFromFloat(2.5)), "got %s", result.Waterfall.ExecutorPremium)
	assert.True(t, result.Waterfall.InsurancePremium.Equal(decimal.NewFromFloat(2.5)))
	assert.True(t, result.Waterfall.RemainingCollateral.Equal(decimal.NewFromInt(495)))
	assert.True(t, result.RepayAmount.Equal(decimal.NewFromInt(1000)))

	assert.True(t, f.ba.Holdings.Collateral.Equal(decimal.NewFromInt(495)), "borrower keeps the remainder")
	assert.True(t, f.bank.TotalCollateral.Equal(decimal.NewFromInt(495)))
	assert.True(t, f.bank.AssetBalance.Equal(decimal.NewFromFloat(497.5)), "executor premium left, insurance premium stayed")
	assert.True(t, f.bank.InsuranceBuffer().Equal(decimal.NewFromFloat(2.5)),
		"insurance premium joins the buffer, got %s", f.bank.InsuranceBuffer())
}

func TestProcessLiquidationGuards(t *testing.T) {
	f := newOpFixture(t, newTestBankParams(), 2000)

	_, err := f.ba.ProcessLiquidation(f.log, "liquidator", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, NegativeAmount)

	_, err = f.ba.ProcessLiquidation(f.log, "liquidator", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, AccountNotLiquidatable, "no loan, nothing to liquidate")
}
