package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	HoldingsStore interface {
		FindHoldings(ctx context.Context, bankId, accountId uuid.UUID) (*StrategyAccountHoldings, error)
		UpsertHoldings(ctx context.Context, holdings *StrategyAccountHoldings) error
		ListHoldings(ctx context.Context, bankId uuid.UUID) ([]*StrategyAccountHoldings, error)
	}

	// StrategyAccountHoldings is the per-borrower ledger row: posted
	// collateral, outstanding loan and the cumulative interest index
	// observed at the last settlement.
	StrategyAccountHoldings struct {
		AccountId uuid.UUID `json:"accountId"`
		BankId    uuid.UUID `json:"bankId"`

		Active            bool            `json:"active"`
		Collateral        decimal.Decimal `json:"collateral"`
		Loan              decimal.Decimal `json:"loan"`
		InterestIndexLast decimal.Decimal `json:"interestIndexLast"`
		LastUpdate        int64           `json:"lastUpdate"`
	}
)

func NewHoldings(clk clock.Clock, accountId, bankId uuid.UUID) *StrategyAccountHoldings {
	return &StrategyAccountHoldings{
		AccountId: accountId,
		BankId:    bankId,

		Active:            true,
		Collateral:        decimal.Zero,
		Loan:              decimal.Zero,
		InterestIndexLast: decimal.Zero,
		LastUpdate:        clk.Now().Unix(),
	}
}

func FindOrCreateHoldings(ctx context.Context, clk clock.Clock, store HoldingsStore, bankId, accountId uuid.UUID) (*StrategyAccountHoldings, error) {
	holdings, err := store.FindHoldings(ctx, bankId, accountId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			holdings = NewHoldings(clk, accountId, bankId)
			if err := store.UpsertHoldings(ctx, holdings); err != nil {
				return nil, err
			}
			return holdings, nil
		}
		return nil, err
	}
	return holdings, nil
}

func (h *StrategyAccountHoldings) Clone() *StrategyAccountHoldings {
	return &StrategyAccountHoldings{
		AccountId:         h.AccountId,
		BankId:            h.BankId,
		Active:            h.Active,
		Collateral:        h.Collateral,
		Loan:              h.Loan,
		InterestIndexLast: h.InterestIndexLast,
		LastUpdate:        h.LastUpdate,
	}
}

func (h *StrategyAccountHoldings) HasLoan() bool {
	return h.Loan.GreaterThan(ZERO_AMOUNT_THRESHOLD)
}

// ResetAfterLiquidation closes out the loan and leaves any collateral
// remainder in place. The row stays open for future use.
func (h *StrategyAccountHoldings) ResetAfterLiquidation(clk clock.Clock, remainingCollateral decimal.Decimal) {
	h.Collateral = remainingCollateral
	h.Loan = decimal.Zero
	h.InterestIndexLast = decimal.Zero
	h.LastUpdate = clk.Now().Unix()
}
