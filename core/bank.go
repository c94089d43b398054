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
	BankStore interface {
		CreateBank(ctx context.Context, bank *Bank) error
		UpsertBank(ctx context.Context, bank *Bank) error
		GetBankById(ctx context.Context, bankId uuid.UUID) (*Bank, error)
		GetBankByReserveId(ctx context.Context, reserveId uuid.UUID) (*Bank, error)
		ListBanks(ctx context.Context) ([]*Bank, error)
		UpdateBankParameters(ctx context.Context, bankId uuid.UUID, params *BankParameters) error
	}

	// Bank owns the per-account collateral/loan ledger. AssetBalance is
	// the settlement asset the bank physically holds; whatever exceeds
	// TotalCollateral is, by definition, the insurance buffer.
	Bank struct {
		Id        uuid.UUID `json:"id"`
		ReserveId uuid.UUID `json:"reserveId"`
		OwnerKey  string    `json:"ownerKey"`

		AssetBalance    decimal.Decimal `json:"assetBalance"`
		TotalCollateral decimal.Decimal `json:"totalCollateral"`

		BankParameters `json:"bankParameters"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}

	BankParameters struct {
		MinimumOpenHealthScore  decimal.Decimal `json:"minimumOpenHealthScore"`
		LiquidatableHealthScore decimal.Decimal `json:"liquidatableHealthScore"`

		ExecutorPremium             decimal.Decimal `json:"executorPremium"`
		InsurancePremium            decimal.Decimal `json:"insurancePremium"`
		LiquidationInsurancePremium decimal.Decimal `json:"liquidationInsurancePremium"`

		MinimumCollateralBalance decimal.Decimal `json:"minimumCollateralBalance"`
	}
)

func (p *BankParameters) Validate() error {
	if p.LiquidatableHealthScore.LessThanOrEqual(decimal.Zero) ||
		p.LiquidatableHealthScore.GreaterThanOrEqual(ONE) {
		return ErrLiquidatableRange
	}
	if !p.MinimumOpenHealthScore.GreaterThan(p.LiquidatableHealthScore) {
		return ErrHealthScoreOrder
	}

	for _, premium := range []decimal.Decimal{
		p.ExecutorPremium,
		p.InsurancePremium,
		p.LiquidationInsurancePremium,
	} {
		if premium.LessThan(decimal.Zero) || premium.GreaterThanOrEqual(ONE) {
			return ErrPremiumTooLarge
		}
	}

	if p.MinimumCollateralBalance.LessThan(decimal.Zero) {
		return InvalidConfig
	}

	return nil
}

func NewBank(clk clock.Clock, reserveId uuid.UUID, ownerKey string, params BankParameters) (*Bank, error) {
	return NewBankWithCreateTime(clk, reserveId, ownerKey, params, clk.Now())
}

func NewBankWithCreateTime(clk clock.Clock, reserveId uuid.UUID, ownerKey string, params BankParameters, createTime time.Time) (*Bank, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &Bank{
		Id:              uuid.Must(uuid.FromString(utils.GenUuidFromStrings(reserveId.String(), ownerKey))),
		ReserveId:       reserveId,
		OwnerKey:        ownerKey,
		AssetBalance:    decimal.Zero,
		TotalCollateral: decimal.Zero,
		BankParameters:  params,
		CreatedAt:       createTime.Unix(),
		UpdatedAt:       createTime.Unix(),
	}, nil
}

func (b *Bank) Clone() *Bank {
	return &Bank{
		Id:              b.Id,
		ReserveId:       b.ReserveId,
		OwnerKey:        b.OwnerKey,
		AssetBalance:    b.AssetBalance,
		TotalCollateral: b.TotalCollateral,
		BankParameters:  b.BankParameters,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// InsuranceBuffer is derived, never stored: the settlement-asset
// balance held beyond tracked collateral.
func (b *Bank) InsuranceBuffer() decimal.Decimal {
	return decimal.Max(decimal.Zero, b.AssetBalance.Sub(b.TotalCollateral))
}

// UpdateMinimumOpenHealthScore re-validates the full parameter set with
// the new threshold in place.
func (b *Bank) UpdateMinimumOpenHealthScore(clk clock.Clock, minimumOpenHealthScore decimal.Decimal) error {
	params := b.BankParameters
	params.MinimumOpenHealthScore = minimumOpenHealthScore
	if err := params.Validate(); err != nil {
		return err
	}

	b.BankParameters = params
	b.UpdatedAt = clk.Now().Unix()
	return nil
}

// IsLiquidatable reports whether an account with the given loan and
// reported value sits at or below the liquidation threshold. Zero-loan
// accounts are never liquidatable.
func (b *Bank) IsLiquidatable(holdings *StrategyAccountHoldings, accountValue decimal.Decimal) bool {
	if !holdings.HasLoan() {
		return false
	}
	return GetHealthScore(holdings.Loan, accountValue).LessThanOrEqual(b.LiquidatableHealthScore)
}

// WithdrawableCollateral is the collateral an account can withdraw
// while staying at or above the minimum open health score. The reported
// account value writes any unrealized loss down against collateral
// before the threshold is applied.
func (b *Bank) WithdrawableCollateral(holdings *StrategyAccountHoldings, accountValue decimal.Decimal) decimal.Decimal {
	loss := holdings.Loan.Sub(decimal.Min(holdings.Loan, accountValue))
	adjustedCollateral := holdings.Collateral.Sub(decimal.Min(holdings.Collateral, loss))

	if !holdings.HasLoan() {
		return adjustedCollateral
	}

	required := holdings.Loan.Div(b.MinimumOpenHealthScore)
	return decimal.Max(decimal.Zero, adjustedCollateral.Sub(required))
}

// GetInterestAndTakeInsurance settles a pool-wide interest request
// against the bank's balance. The insurance cut stays in the bank and
// joins the buffer; the reserve cut is paid out up to whatever balance
// actually exists. A shortfall is not an error, only a signal the
// borrow side is underwater.
func (b *Bank) GetInterestAndTakeInsurance(log Log, totalRequested decimal.Decimal) (decimal.Decimal, error) {
	if !totalRequested.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		return decimal.Zero, nil
	}

	fromCollateral := decimal.Min(totalRequested, b.TotalCollateral)
	b.TotalCollateral = b.TotalCollateral.Sub(fromCollateral)

	insuranceCut := totalRequested.Mul(b.InsurancePremium).Truncate(TRANSFER_PRECISION)
	reserveCut := totalRequested.Sub(insuranceCut)

	paid := decimal.Min(reserveCut, b.AssetBalance)
	b.AssetBalance = b.AssetBalance.Sub(paid)

	if paid.LessThan(reserveCut) {
		log.Warn().Msgf("Interest shortfall: requested %s, paid %s", reserveCut, paid)
	}

	return paid, nil
}
