package core

import (
	"context"
	"strconv"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoldLink-Protocol/goldlink-contracts-v1-sub000/utils"
)

type (
	StrategyAccountStore interface {
		GetStrategyAccountById(ctx context.Context, accountId uuid.UUID) (*StrategyAccount, error)
		GetStrategyAccountByOwner(ctx context.Context, bankId uuid.UUID, ownerKey string, index uint8) (*StrategyAccount, error)
		ListStrategyAccounts(ctx context.Context, bankId uuid.UUID) ([]*StrategyAccount, error)
		CreateStrategyAccount(ctx context.Context, account *StrategyAccount) error
		UpsertStrategyAccount(ctx context.Context, account *StrategyAccount) error
	}

	// StrategyAccount is a registry row for a borrower-facing account.
	// The strategy-execution layer that trades on behalf of the account
	// is an external collaborator; the bank only needs identity and a
	// value feed.
	StrategyAccount struct {
		Id       uuid.UUID    `json:"id"`
		BankId   uuid.UUID    `json:"bankId"`
		OwnerKey string       `json:"ownerKey"`
		Flags    AccountFlags `json:"flags"`
		Index    uint8        `json:"index"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}
)

// AccountValueProvider is the single operation consumed from the
// strategy layer: the current mark-to-market value of an account,
// inclusive of posted collateral. Must be read-only from the bank's
// point of view.
type AccountValueProvider interface {
	GetAccountValue(ctx context.Context, accountId uuid.UUID) (decimal.Decimal, error)
}

type AccountFlags uint8

const (
	AccountDisabledFlag    AccountFlags = 1 << 0
	AccountLiquidatedFlag  AccountFlags = 1 << 1
	AccountInOperationFlag AccountFlags = 1 << 2
)

func (a *StrategyAccount) SetFlag(flag AccountFlags) {
	a.Flags |= flag
}

func (a *StrategyAccount) UnsetFlag(flag AccountFlags) {
	a.Flags &= ^flag
}

func (a *StrategyAccount) GetFlag(flag AccountFlags) bool {
	return a.Flags&flag != 0
}

func NewStrategyAccount(clk clock.Clock, bankId uuid.UUID, ownerKey string, index uint8) *StrategyAccount {
	return &StrategyAccount{
		Id:        uuid.Must(uuid.FromString(utils.GenUuidFromStrings(bankId.String(), ownerKey, strconv.Itoa(int(index))))),
		BankId:    bankId,
		OwnerKey:  ownerKey,
		Index:     index,
		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
}

// GetHealthScore returns accountValue / loan. An account with no loan
// carries no liquidation risk and reports a unit health score.
func GetHealthScore(loan, accountValue decimal.Decimal) decimal.Decimal {
	if loan.LessThanOrEqual(decimal.Zero) {
		return ONE
	}
	if accountValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return accountValue.Div(loan)
}
