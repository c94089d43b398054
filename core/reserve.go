package core

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoldLink-Protocol/goldlink-contracts-v1-sub000/utils"
)

type (
	ReserveStore interface {
		CreateReserve(ctx context.Context, reserve *Reserve) error
		UpsertReserve(ctx context.Context, reserve *Reserve) error
		GetReserveById(ctx context.Context, reserveId uuid.UUID) (*Reserve, error)
		GetReserveByName(ctx context.Context, name string) (*Reserve, error)
		ListReserves(ctx context.Context) ([]*Reserve, error)
	}

	// Reserve is the pooled share vault holding the settlement asset.
	// ReserveBalance is the ledger's total assets under management;
	// assets lent to borrowers stay counted there while UtilizedAssets
	// tracks how much of it is out on loan.
	Reserve struct {
		Id       uuid.UUID `json:"id"`
		OwnerKey string    `json:"ownerKey"`
		Name     string    `json:"name"`

		TotalShares    decimal.Decimal `json:"totalShares"`
		ReserveBalance decimal.Decimal `json:"reserveBalance"`
		UtilizedAssets decimal.Decimal `json:"utilizedAssets"`
		TvlCap         decimal.Decimal `json:"tvlCap"`

		CumulativeInterestIndex decimal.Decimal `json:"cumulativeInterestIndex"`
		LastUpdate              int64           `json:"lastUpdate"`

		InterestRateModelParameters `json:"interestRateModel"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}
)

// InterestCollector is the bank-side hook the reserve settles against:
// it splits the requested interest into an insurance cut and a reserve
// cut and returns how much the reserve actually receives.
type InterestCollector interface {
	GetInterestAndTakeInsurance(log Log, totalRequested decimal.Decimal) (decimal.Decimal, error)
}

func NewReserve(clk clock.Clock, ownerKey, name string, tvlCap decimal.Decimal, params InterestRateModelParameters) (*Reserve, error) {
	return NewReserveWithCreateTime(clk, ownerKey, name, tvlCap, params, clk.Now())
}

func NewReserveWithCreateTime(clk clock.Clock, ownerKey, name string, tvlCap decimal.Decimal, params InterestRateModelParameters, createTime time.Time) (*Reserve, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &Reserve{
		Id:                          uuid.Must(uuid.FromString(utils.GenUuidFromStrings(ownerKey, name))),
		OwnerKey:                    ownerKey,
		Name:                        name,
		TotalShares:                 decimal.Zero,
		ReserveBalance:              decimal.Zero,
		UtilizedAssets:              decimal.Zero,
		TvlCap:                      tvlCap,
		CumulativeInterestIndex:     decimal.Zero,
		LastUpdate:                  createTime.Unix(),
		InterestRateModelParameters: params,
		CreatedAt:                   createTime.Unix(),
		UpdatedAt:                   createTime.Unix(),
	}, nil
}

func (r *Reserve) Clone() *Reserve {
	return &Reserve{
		Id:                          r.Id,
		OwnerKey:                    r.OwnerKey,
		Name:                        r.Name,
		TotalShares:                 r.TotalShares,
		ReserveBalance:              r.ReserveBalance,
		UtilizedAssets:              r.UtilizedAssets,
		TvlCap:                      r.TvlCap,
		CumulativeInterestIndex:     r.CumulativeInterestIndex,
		LastUpdate:                  r.LastUpdate,
		InterestRateModelParameters: r.InterestRateModelParameters,
		CreatedAt:                   r.CreatedAt,
		UpdatedAt:                   r.UpdatedAt,
	}
}

// TotalAssets is the ledger's total, including assets out on loan.
func (r *Reserve) TotalAssets() decimal.Decimal {
	return r.ReserveBalance
}

// AvailableLiquidity is what can physically leave the reserve.
func (r *Reserve) AvailableLiquidity() decimal.Decimal {
	return decimal.Max(decimal.Zero, r.TotalAssets().Sub(r.UtilizedAssets))
}

func (r *Reserve) ComputeUtilizationRate() decimal.Decimal {
	return Utilization(r.UtilizedAssets, r.TotalAssets())
}

func (r *Reserve) CheckUtilization() error {
	if r.UtilizedAssets.GreaterThan(r.TotalAssets()) {
		return IllegalUtilization
	}
	return nil
}

// ------------ share conversion

// ConvertToShares floors, favoring the pool over the depositor. The
// virtual unit offset on both sides keeps the first-depositor donation
// attack unprofitable.
func (r *Reserve) ConvertToShares(assets decimal.Decimal) decimal.Decimal {
	return assets.
		Mul(r.TotalShares.Add(VIRTUAL_SHARE_OFFSET)).
		Div(r.TotalAssets().Add(VIRTUAL_SHARE_OFFSET)).
		Truncate(TRANSFER_PRECISION)
}

func (r *Reserve) ConvertToAssets(shares decimal.Decimal) decimal.Decimal {
	return shares.
		Mul(r.TotalAssets().Add(VIRTUAL_SHARE_OFFSET)).
		Div(r.TotalShares.Add(VIRTUAL_SHARE_OFFSET)).
		Truncate(TRANSFER_PRECISION)
}

func (r *Reserve) PreviewDeposit(assets decimal.Decimal) decimal.Decimal {
	return r.ConvertToShares(assets)
}

func (r *Reserve) PreviewMint(shares decimal.Decimal) decimal.Decimal {
	return shares.
		Mul(r.TotalAssets().Add(VIRTUAL_SHARE_OFFSET)).
		Div(r.TotalShares.Add(VIRTUAL_SHARE_OFFSET)).
		RoundCeil(TRANSFER_PRECISION)
}

func (r *Reserve) PreviewWithdraw(assets decimal.Decimal) decimal.Decimal {
	return assets.
		Mul(r.TotalShares.Add(VIRTUAL_SHARE_OFFSET)).
		Div(r.TotalAssets().Add(VIRTUAL_SHARE_OFFSET)).
		RoundCeil(TRANSFER_PRECISION)
}

func (r *Reserve) PreviewRedeem(shares decimal.Decimal) decimal.Decimal {
	return r.ConvertToAssets(shares)
}

// ------------ caps

func (r *Reserve) MaxDeposit() decimal.Decimal {
	return decimal.Max(decimal.Zero, r.TvlCap.Sub(r.TotalAssets()))
}

func (r *Reserve) MaxMint() decimal.Decimal {
	return r.ConvertToShares(r.MaxDeposit())
}

func (r *Reserve) MaxWithdraw(position *LenderPosition) decimal.Decimal {
	return decimal.Min(r.ConvertToAssets(position.Shares), r.AvailableLiquidity())
}

// MaxRedeem floors the share count so redeeming the result never asks
// for more assets than the available liquidity.
func (r *Reserve) MaxRedeem(position *LenderPosition) decimal.Decimal {
	return decimal.Min(position.Shares, r.ConvertToShares(r.AvailableLiquidity()))
}

// ------------ lender-side flows

func (r *Reserve) Deposit(log Log, clk clock.Clock, position *LenderPosition, assets decimal.Decimal) (decimal.Decimal, error) {
	if !assets.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return decimal.Zero, NegativeAmount
	}
	if assets.GreaterThan(r.MaxDeposit()) {
		return decimal.Zero, ReserveTvlCapExceeded
	}

	shares := r.PreviewDeposit(assets)
	if err := position.ChangeShares(clk, shares); err != nil {
		return decimal.Zero, err
	}
	r.TotalShares = r.TotalShares.Add(shares)
	r.ReserveBalance = r.ReserveBalance.Add(assets)
	r.UpdatedAt = clk.Now().Unix()

	log.Debug().Msgf("Reserve deposit: %s assets for %s shares", assets, shares)
	return shares, nil
}

func (r *Reserve) Mint(log Log, clk clock.Clock, position *LenderPosition, shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return decimal.Zero, NegativeAmount
	}

	assets := r.PreviewMint(shares)
	if assets.GreaterThan(r.MaxDeposit()) {
		return decimal.Zero, ReserveTvlCapExceeded
	}
	if err := position.ChangeShares(clk, shares); err != nil {
		return decimal.Zero, err
	}
	r.TotalShares = r.TotalShares.Add(shares)
	r.ReserveBalance = r.ReserveBalance.Add(assets)
	r.UpdatedAt = clk.Now().Unix()

	return assets, nil
}

func (r *Reserve) Withdraw(log Log, clk clock.Clock, position *LenderPosition, assets decimal.Decimal) (decimal.Decimal, error) {
	if !assets.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return decimal.Zero, NegativeAmount
	}
	if assets.GreaterThan(r.AvailableLiquidity()) {
		return decimal.Zero, ReserveInsufficientLiquidity
	}

	shares := r.PreviewWithdraw(assets)
	if err := position.ChangeShares(clk, shares.Neg()); err != nil {
		return decimal.Zero, err
	}
	r.TotalShares = r.TotalShares.Sub(shares)
	r.ReserveBalance = r.ReserveBalance.Sub(assets)
	r.UpdatedAt = clk.Now().Unix()

	if err := r.CheckUtilization(); err != nil {
		return decimal.Zero, err
	}

	log.Debug().Msgf("Reserve withdraw: %s assets for %s shares", assets, shares)
	return shares, nil
}

func (r *Reserve) Redeem(log Log, clk clock.Clock, position *LenderPosition, shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return decimal.Zero, NegativeAmount
	}

	assets := r.PreviewRedeem(shares)
	if assets.GreaterThan(r.AvailableLiquidity()) {
		return decimal.Zero, ReserveInsufficientLiquidity
	}
	if err := position.ChangeShares(clk, shares.Neg()); err != nil {
		return decimal.Zero, err
	}
	r.TotalShares = r.TotalShares.Sub(shares)
	r.ReserveBalance = r.ReserveBalance.Sub(assets)
	r.UpdatedAt = clk.Now().Unix()

	if err := r.CheckUtilization(); err != nil {
		return decimal.Zero, err
	}

	return assets, nil
}

// ------------ borrow side (bank only; authorization enforced by the
// service layer)

func (r *Reserve) BorrowAssets(log Log, clk clock.Clock, amount decimal.Decimal) error {
	if !amount.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return NegativeAmount
	}
	if amount.GreaterThan(r.AvailableLiquidity()) {
		return ReserveInsufficientLiquidity
	}

	r.UtilizedAssets = r.UtilizedAssets.Add(amount)
	r.UpdatedAt = clk.Now().Unix()

	log.Info().Msgf("Reserve borrow: %s (utilized now %s)", amount, r.UtilizedAssets)
	return nil
}

// Repay retires initialLoan of utilization while receiving returnedLoan
// of assets. A shortfall is a loss socialized to all shareholders: total
// assets shrink, utilization falls by the full pre-repayment loan size.
func (r *Reserve) Repay(log Log, clk clock.Clock, initialLoan, returnedLoan decimal.Decimal) error {
	if initialLoan.LessThan(decimal.Zero) || returnedLoan.LessThan(decimal.Zero) {
		return NegativeAmount
	}
	if initialLoan.GreaterThan(r.UtilizedAssets) {
		return RepayExceedsLoan
	}

	r.UtilizedAssets = r.UtilizedAssets.Sub(initialLoan)

	loss := initialLoan.Sub(returnedLoan)
	if loss.GreaterThan(decimal.Zero) {
		r.ReserveBalance = r.ReserveBalance.Sub(loss)
		log.Warn().Msgf("Reserve repay shortfall: %s socialized to shareholders", loss)
	}
	r.UpdatedAt = clk.Now().Unix()

	return nil
}

// ------------ interest settlement

// Accrue advances the cumulative index across the elapsed interval and
// collects the pool-wide interest from the bank. The index only moves
// when time has passed and assets are utilized.
func (r *Reserve) Accrue(log Log, clk clock.Clock, collector InterestCollector) error {
	now := clk.Now().Unix()
	elapsed := now - r.LastUpdate
	if elapsed <= 0 {
		return nil
	}
	r.LastUpdate = now

	if !r.UtilizedAssets.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return nil
	}

	priorIndex := r.CumulativeInterestIndex
	newIndex := r.NextCumulativeIndex(r.UtilizedAssets, r.TotalAssets(), elapsed, priorIndex)
	r.CumulativeInterestIndex = newIndex

	totalInterest := InterestOwed(r.UtilizedAssets, priorIndex, newIndex)
	if !totalInterest.GreaterThan(ZERO_AMOUNT_THRESHOLD) || collector == nil {
		return nil
	}

	received, err := collector.GetInterestAndTakeInsurance(log, totalInterest)
	if err != nil {
		return err
	}
	r.ReserveBalance = r.ReserveBalance.Add(received)

	log.Debug().Msgf("Reserve accrual: requested %s, received %s, index %s", totalInterest, received, newIndex)
	return nil
}

// SettleInterest runs a pool-wide accrual, then returns the interest
// owed on a single loan since its last observed index, together with
// the index now current.
func (r *Reserve) SettleInterest(log Log, clk clock.Clock, collector InterestCollector, loanAmount, indexAtLastSettlement decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if err := r.Accrue(log, clk, collector); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	owed := InterestOwed(loanAmount, indexAtLastSettlement, r.CumulativeInterestIndex)
	return owed, r.CumulativeInterestIndex, nil
}

// SettleInterestView projects the same result without persisting the
// index, for read-only health and withdrawable-collateral queries.
func (r *Reserve) SettleInterestView(clk clock.Clock, loanAmount, indexAtLastSettlement decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	elapsed := clk.Now().Unix() - r.LastUpdate
	projected := r.NextCumulativeIndex(r.UtilizedAssets, r.TotalAssets(), elapsed, r.CumulativeInterestIndex)
	return InterestOwed(loanAmount, indexAtLastSettlement, projected), projected
}

// UpdateInterestRateModel swaps curve parameters in place. It does not
// settle first: the next settlement applies the new curve to the whole
// interval since the last one. Callers wanting the old curve applied
// must settle before updating.
func (r *Reserve) UpdateInterestRateModel(log Log, clk clock.Clock, params InterestRateModelParameters) error {
	updated := r.InterestRateModelParameters
	updated.Update(&params)
	if err := updated.Validate(); err != nil {
		return err
	}

	r.InterestRateModelParameters = updated
	r.UpdatedAt = clk.Now().Unix()

	log.Info().Msgf("Interest rate model updated: optimal=%s base=%s slope1=%s slope2=%s",
		updated.OptimalUtilization, updated.BaseRate, updated.SlopeBelowOptimal, updated.SlopeAboveOptimal)
	return nil
}
