package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	LenderPositionStore interface {
		FindLenderPosition(ctx context.Context, reserveId, lenderId uuid.UUID) (*LenderPosition, error)
		UpsertLenderPosition(ctx context.Context, position *LenderPosition) error
		ListLenderPositions(ctx context.Context, reserveId uuid.UUID) ([]*LenderPosition, error)
	}

	// LenderPosition tracks one lender's share balance in a reserve.
	LenderPosition struct {
		ReserveId uuid.UUID `json:"reserveId"`
		LenderId  uuid.UUID `json:"lenderId"`

		Active     bool            `json:"active"`
		Shares     decimal.Decimal `json:"shares"`
		LastUpdate int64           `json:"lastUpdate"`
	}
)

func NewLenderPosition(clk clock.Clock, reserveId, lenderId uuid.UUID) *LenderPosition {
	return &LenderPosition{
		ReserveId: reserveId,
		LenderId:  lenderId,

		Active:     true,
		Shares:     decimal.Zero,
		LastUpdate: clk.Now().Unix(),
	}
}

func FindOrCreateLenderPosition(ctx context.Context, clk clock.Clock, store LenderPositionStore, reserveId, lenderId uuid.UUID) (*LenderPosition, error) {
	position, err := store.FindLenderPosition(ctx, reserveId, lenderId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			position = NewLenderPosition(clk, reserveId, lenderId)
			if err := store.UpsertLenderPosition(ctx, position); err != nil {
				return nil, err
			}
			return position, nil
		}
		return nil, err
	}
	return position, nil
}

func (p *LenderPosition) Clone() *LenderPosition {
	return &LenderPosition{
		ReserveId:  p.ReserveId,
		LenderId:   p.LenderId,
		Active:     p.Active,
		Shares:     p.Shares,
		LastUpdate: p.LastUpdate,
	}
}

func (p *LenderPosition) ChangeShares(clk clock.Clock, delta decimal.Decimal) error {
	shares := p.Shares.Add(delta)
	if shares.LessThan(decimal.Zero) {
		return ReserveShareBalanceExceeded
	}
	p.Shares = shares
	p.LastUpdate = clk.Now().Unix()
	return nil
}

func (p *LenderPosition) IsEmpty() bool {
	return p.Shares.LessThan(EMPTY_BALANCE_THRESHOLD)
}
