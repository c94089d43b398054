package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type (
	OperateStore interface {
		CreateOperate(ctx context.Context, operate *Operate) error
		ListOperates(ctx context.Context, ownerKey string, op OperationType, createdBeforeAt, limit int64) ([]Operate, error)
	}

	// Operate is one journal row per mutating operation; losses and
	// premiums surface here rather than as failures.
	Operate struct {
		OwnerKey  string        `json:"ownerKey"`
		AccountId uuid.UUID     `json:"accountId"`
		Op        OperationType `json:"op"`
		Extra     OperateDetail `json:"extra"`
		CreatedAt int64         `json:"createdAt"`
	}

	OperateDetail struct {
		Type      OperationType   `json:"type"`
		AccountId uuid.UUID       `json:"actor"`
		Amount    decimal.Decimal `json:"amount"`

		Liquidation *LiquidationResult `json:"liquidation,omitempty"`
	}
)

type OperationType string

const (
	OpDeposit            OperationType = "deposit"
	OpMint               OperationType = "mint"
	OpWithdraw           OperationType = "withdraw"
	OpRedeem             OperationType = "redeem"
	OpAddCollateral      OperationType = "add_collateral"
	OpBorrowFunds        OperationType = "borrow_funds"
	OpRepayLoan          OperationType = "repay_loan"
	OpWithdrawCollateral OperationType = "withdraw_collateral"
	OpLiquidate          OperationType = "liquidate"
)

func NewOperate(clk clock.Clock, ownerKey string, accountId uuid.UUID, typ OperationType, extra OperateDetail) Operate {
	return Operate{
		OwnerKey:  ownerKey,
		AccountId: accountId,
		Op:        typ,
		Extra:     extra,
		CreatedAt: clk.Now().Unix(),
	}
}

func (j OperateDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *OperateDetail) Scan(value any) error {
	if err := json.Unmarshal(value.([]byte), &j); err != nil {
		return err
	}
	return nil
}
