package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// LendingStore bundles the persistence seams of the engine, one store
// per aggregate. Implementations live outside the core.
type LendingStore struct {
	ReserveStore
	BankStore
	StrategyAccountStore
	HoldingsStore
	LenderPositionStore
	OperateStore
}

// LendingService is the externally facing surface of the engine. Every
// mutating entry point runs under the controller's shared lock, loads
// aggregates, applies the operation in memory and persists only on
// success, so a failed operation leaves no partial state behind.
type LendingService struct {
	clk        clock.Clock
	log        Log
	controller *Controller
	store      LendingStore
	values     AccountValueProvider
}

func NewLendingService(clk clock.Clock, log Log, controller *Controller, store LendingStore, values AccountValueProvider) *LendingService {
	return &LendingService{
		clk:        clk,
		log:        log,
		controller: controller,
		store:      store,
		values:     values,
	}
}

// AcquireLock and ReleaseLock are exposed so the strategy layer can
// extend the single-entrant section across its own multi-step flows.
func (s *LendingService) AcquireLock() error { return s.controller.AcquireLock() }
func (s *LendingService) ReleaseLock() error { return s.controller.ReleaseLock() }

func (s *LendingService) Pause(callerKey string) error   { return s.controller.Pause(callerKey) }
func (s *LendingService) Unpause(callerKey string) error { return s.controller.Unpause(callerKey) }

// ------------ account registry

// OpenAccount registers a borrower-facing account and its zeroed
// holdings row with the bank.
func (s *LendingService) OpenAccount(ctx context.Context, callerKey string, bankId uuid.UUID, index uint8) (*StrategyAccount, error) {
	bank, err := s.store.GetBankById(ctx, bankId)
	if err != nil {
		return nil, BankNotFound
	}

	account := NewStrategyAccount(s.clk, bank.Id, callerKey, index)
	if err := s.store.CreateStrategyAccount(ctx, account); err != nil {
		return nil, errors.Wrap(err, "create strategy account")
	}
	if _, err := FindOrCreateHoldings(ctx, s.clk, s.store, bank.Id, account.Id); err != nil {
		return nil, err
	}

	return account, nil
}

// GetStrategyAccounts pages through the bank's registered accounts,
// half-open over [start, stop).
func (s *LendingService) GetStrategyAccounts(ctx context.Context, bankId uuid.UUID, start, stop int) ([]*StrategyAccount, error) {
	accounts, err := s.store.ListStrategyAccounts(ctx, bankId)
	if err != nil {
		return nil, err
	}

	if start < 0 {
		start = 0
	}
	if stop > len(accounts) {
		stop = len(accounts)
	}
	if start >= stop {
		return []*StrategyAccount{}, nil
	}
	return accounts[start:stop], nil
}

// authorizeAccount loads an account and verifies the caller owns it.
func (s *LendingService) authorizeAccount(ctx context.Context, callerKey string, accountId uuid.UUID) (*StrategyAccount, error) {
	account, err := s.store.GetStrategyAccountById(ctx, accountId)
	if err != nil {
		return nil, StrategyAccountNotFound
	}
	if account.OwnerKey != callerKey || account.GetFlag(AccountDisabledFlag) {
		return nil, AccountNotRegistered
	}
	return account, nil
}

func (s *LendingService) loadWrapper(ctx context.Context, account *StrategyAccount) (*BankAccountWrapper, error) {
	bank, err := s.store.GetBankById(ctx, account.BankId)
	if err != nil {
		return nil, BankNotFound
	}
	reserve, err := s.store.GetReserveById(ctx, bank.ReserveId)
	if err != nil {
		return nil, ReserveNotFound
	}
	holdings, err := FindOrCreateHoldings(ctx, s.clk, s.store, bank.Id, account.Id)
	if err != nil {
		return nil, err
	}
	// Operate on clones: stores may hand back live aggregates, and a
	// guard firing mid-operation must leave stored state untouched.
	return NewBankAccountWrapper(bank.Clone(), reserve.Clone(), holdings.Clone(), WithClock(s.clk)), nil
}

func (s *LendingService) persistWrapper(ctx context.Context, ba *BankAccountWrapper) error {
	if err := s.store.UpsertBank(ctx, ba.Bank); err != nil {
		return errors.Wrap(err, "persist bank")
	}
	if err := s.store.UpsertReserve(ctx, ba.Reserve); err != nil {
		return errors.Wrap(err, "persist reserve")
	}
	if err := s.store.UpsertHoldings(ctx, ba.Holdings); err != nil {
		return errors.Wrap(err, "persist holdings")
	}
	return nil
}

func (s *LendingService) journal(ctx context.Context, account *StrategyAccount, op OperationType, amount decimal.Decimal, liquidation *LiquidationResult) {
	operate := NewOperate(s.clk, account.OwnerKey, account.Id, op, OperateDetail{
		Type:        op,
		AccountId:   account.Id,
		Amount:      amount,
		Liquidation: liquidation,
	})
	if err := s.store.CreateOperate(ctx, &operate); err != nil {
		s.log.Warn().Msgf("journal write failed: %v", err)
	}
}

// ------------ borrower-facing operations

func (s *LendingService) AddCollateral(ctx context.Context, callerKey string, accountId uuid.UUID, amount decimal.Decimal) error {
	return s.controller.WithLock(func() error {
		if err := s.controller.AssertNotPaused(); err != nil {
			return err
		}
		account, err := s.authorizeAccount(ctx, callerKey, accountId)
		if err != nil {
			return err
		}
		ba, err := s.loadWrapper(ctx, account)
		if err != nil {
			return err
		}
		if err := ba.AddCollateral(s.log, amount); err != nil {
			return err
		}
		if err := s.persistWrapper(ctx, ba); err != nil {
			return err
		}
		s.journal(ctx, account, OpAddCollateral, amount, nil)
		return nil
	})
}

func (s *LendingService) BorrowFunds(ctx context.Context, callerKey string, accountId uuid.UUID, amount decimal.Decimal) error {
	return s.controller.WithLock(func() error {
		if err := s.controller.AssertNotPaused(); err != nil {
			return err
		}
		account, err := s.authorizeAccount(ctx, callerKey, accountId)
		if err != nil {
			return err
		}
		ba, err := s.loadWrapper(ctx, account)
		if err != nil {
			return err
		}
		accountValue, err := s.values.GetAccountValue(ctx, account.Id)
		if err != nil {
			return errors.Wrap(err, "get account value")
		}
		if err := ba.BorrowFunds(s.log, amount, accountValue); err != nil {
			return err
		}
		if err := s.persistWrapper(ctx, ba); err != nil {
			return err
		}
		s.journal(ctx, account, OpBorrowFunds, amount, nil)
		return nil
	})
}

// RepayLoan intentionally bypasses the pause gate so obligations can
// still be cleared while the protocol is paused.
func (s *LendingService) RepayLoan(ctx context.Context, callerKey string, accountId uuid.UUID, repayAmount decimal.Decimal) error {
	return s.controller.WithLock(func() error {
		account, err := s.authorizeAccount(ctx, callerKey, accountId)
		if err != nil {
			return err
		}
		ba, err := s.loadWrapper(ctx, account)
		if err != nil {
			return err
		}
		accountValue, err := s.values.GetAccountValue(ctx, account.Id)
		if err != nil {
			return errors.Wrap(err, "get account value")
		}
		if err := ba.RepayLoan(s.log, repayAmount, accountValue); err != nil {
			return err
		}
		if err := s.persistWrapper(ctx, ba); err != nil {
			return err
		}
		s.journal(ctx, account, OpRepayLoan, repayAmount, nil)
		return nil
	})
}

func (s *LendingService) WithdrawCollateral(ctx context.Context, callerKey string, accountId uuid.UUID, requested decimal.Decimal, useSoftWithdrawal bool) (decimal.Decimal, error) {
	var withdrawn decimal.Decimal
	err := s.controller.WithLock(func() error {
		if err := s.controller.AssertNotPaused(); err != nil {
			return err
		}
		account, err := s.authorizeAccount(ctx, callerKey, accountId)
		if err != nil {
			return err
		}
		ba, err := s.loadWrapper(ctx, account)
		if err != nil {
			return err
		}
		accountValue, err := s.values.GetAccountValue(ctx, account.Id)
		if err != nil {
			return errors.Wrap(err, "get account value")
		}
		withdrawn, err = ba.WithdrawCollateral(s.log, requested, accountValue, useSoftWithdrawal)
		if err != nil {
			return err
		}
		if err := s.persistWrapper(ctx, ba); err != nil {
			return err
		}
		s.journal(ctx, account, OpWithdrawCollateral, withdrawn, nil)
		return nil
	})
	return withdrawn, err
}

// InitiateLiquidation marks a liquidatable account as pending
// liquidation; the strategy layer then unwinds the account before
// ProcessLiquidation runs the waterfall.
func (s *LendingService) InitiateLiquidation(ctx context.Context, accountId uuid.UUID) error {
	return s.controller.WithLock(func() error {
		account, err := s.store.GetStrategyAccountById(ctx, accountId)
		if err != nil {
			return StrategyAccountNotFound
		}
		ba, err := s.loadWrapper(ctx, account)
		if err != nil {
			return err
		}
		accountValue, err := s.values.GetAccountValue(ctx, account.Id)
		if err != nil {
			return errors.Wrap(err, "get account value")
		}

		if !ba.Bank.IsLiquidatable(ba.HoldingsAfterPayingInterest(), accountValue) {
			return AccountNotLiquidatable
		}

		account.SetFlag(AccountLiquidatedFlag)
		account.UpdatedAt = s.clk.Now().Unix()
		return s.store.UpsertStrategyAccount(ctx, account)
	})
}

// ProcessLiquidation, like repayment, bypasses the pause gate: clearing
// an unsafe position is an obligation.
func (s *LendingService) ProcessLiquidation(ctx context.Context, liquidatorKey string, accountId uuid.UUID, availableAccountAssets decimal.Decimal) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := s.controller.WithLock(func() error {
		account, err := s.store.GetStrategyAccountById(ctx, accountId)
		if err != nil {
			return StrategyAccountNotFound
		}
		if !account.GetFlag(AccountLiquidatedFlag) {
			return AccountNotLiquidatable
		}
		ba, err := s.loadWrapper(ctx, account)
		if err != nil {
			return err
		}
		result, err = ba.ProcessLiquidation(s.log, liquidatorKey, availableAccountAssets)
		if err != nil {
			return err
		}
		if err := s.persistWrapper(ctx, ba); err != nil {
			return err
		}

		account.UnsetFlag(AccountLiquidatedFlag)
		account.UpdatedAt = s.clk.Now().Unix()
		if err := s.store.UpsertStrategyAccount(ctx, account); err != nil {
			return err
		}
		s.journal(ctx, account, OpLiquidate, result.RepayAmount, result)
		return nil
	})
	return result, err
}

// ------------ borrower-facing reads

func (s *LendingService) GetStrategyAccountHoldings(ctx context.Context, accountId uuid.UUID) (*StrategyAccountHoldings, error) {
	account, err := s.store.GetStrategyAccountById(ctx, accountId)
	if err != nil {
		return nil, StrategyAccountNotFound
	}
	holdings, err := s.store.FindHoldings(ctx, account.BankId, account.Id)
	if err != nil {
		return nil, HoldingsNotFound
	}
	return holdings, nil
}

func (s *LendingService) GetStrategyAccountHoldingsAfterPayingInterest(ctx context.Context, accountId uuid.UUID) (*StrategyAccountHoldings, error) {
	account, err := s.store.GetStrategyAccountById(ctx, accountId)
	if err != nil {
		return nil, StrategyAccountNotFound
	}
	ba, err := s.loadWrapper(ctx, account)
	if err != nil {
		return nil, err
	}
	return ba.HoldingsAfterPayingInterest(), nil
}

func (s *LendingService) GetWithdrawableCollateral(ctx context.Context, accountId uuid.UUID) (decimal.Decimal, error) {
	account, err := s.store.GetStrategyAccountById(ctx, accountId)
	if err != nil {
		return decimal.Zero, StrategyAccountNotFound
	}
	ba, err := s.loadWrapper(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	accountValue, err := s.values.GetAccountValue(ctx, account.Id)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get account value")
	}
	return ba.Bank.WithdrawableCollateral(ba.HoldingsAfterPayingInterest(), accountValue), nil
}

func (s *LendingService) IsAccountLiquidatable(ctx context.Context, accountId uuid.UUID) (bool, error) {
	account, err := s.store.GetStrategyAccountById(ctx, accountId)
	if err != nil {
		return false, StrategyAccountNotFound
	}
	ba, err := s.loadWrapper(ctx, account)
	if err != nil {
		return false, err
	}
	accountValue, err := s.values.GetAccountValue(ctx, account.Id)
	if err != nil {
		return false, errors.Wrap(err, "get account value")
	}
	return ba.Bank.IsLiquidatable(ba.HoldingsAfterPayingInterest(), accountValue), nil
}

// ------------ lender-facing operations

func (s *LendingService) loadReserveWithBank(ctx context.Context, reserveId uuid.UUID) (*Reserve, *Bank, error) {
	reserve, err := s.store.GetReserveById(ctx, reserveId)
	if err != nil {
		return nil, nil, ReserveNotFound
	}
	bank, err := s.store.GetBankByReserveId(ctx, reserveId)
	if err != nil {
		return nil, nil, BankNotFound
	}
	return reserve, bank, nil
}

type vaultOp func(reserve *Reserve, position *LenderPosition) (decimal.Decimal, error)

// runVaultOp settles pool interest, applies a lender-side vault flow
// and persists reserve, bank and position together.
func (s *LendingService) runVaultOp(ctx context.Context, lenderId, reserveId uuid.UUID, op OperationType, fn vaultOp) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := s.controller.WithLock(func() error {
		if err := s.controller.AssertNotPaused(); err != nil {
			return err
		}
		reserve, bank, err := s.loadReserveWithBank(ctx, reserveId)
		if err != nil {
			return err
		}
		position, err := FindOrCreateLenderPosition(ctx, s.clk, s.store, reserveId, lenderId)
		if err != nil {
			return err
		}

		// Same clone discipline as loadWrapper: a failed flow must not
		// leak the accrual into stored aggregates.
		reserve = reserve.Clone()
		bank = bank.Clone()
		position = position.Clone()

		if err := reserve.Accrue(s.log, s.clk, bank); err != nil {
			return err
		}
		out, err = fn(reserve, position)
		if err != nil {
			return err
		}

		if err := s.store.UpsertReserve(ctx, reserve); err != nil {
			return errors.Wrap(err, "persist reserve")
		}
		if err := s.store.UpsertBank(ctx, bank); err != nil {
			return errors.Wrap(err, "persist bank")
		}
		if err := s.store.UpsertLenderPosition(ctx, position); err != nil {
			return errors.Wrap(err, "persist lender position")
		}

		operate := NewOperate(s.clk, lenderId.String(), lenderId, op, OperateDetail{Type: op, AccountId: lenderId, Amount: out})
		if err := s.store.CreateOperate(ctx, &operate); err != nil {
			s.log.Warn().Msgf("journal write failed: %v", err)
		}
		return nil
	})
	return out, err
}

func (s *LendingService) Deposit(ctx context.Context, lenderId, reserveId uuid.UUID, assets decimal.Decimal) (decimal.Decimal, error) {
	return s.runVaultOp(ctx, lenderId, reserveId, OpDeposit, func(reserve *Reserve, position *LenderPosition) (decimal.Decimal, error) {
		return reserve.Deposit(s.log, s.clk, position, assets)
	})
}

func (s *LendingService) Mint(ctx context.Context, lenderId, reserveId uuid.UUID, shares decimal.Decimal) (decimal.Decimal, error) {
	return s.runVaultOp(ctx, lenderId, reserveId, OpMint, func(reserve *Reserve, position *LenderPosition) (decimal.Decimal, error) {
		return reserve.Mint(s.log, s.clk, position, shares)
	})
}

func (s *LendingService) Withdraw(ctx context.Context, lenderId, reserveId uuid.UUID, assets decimal.Decimal) (decimal.Decimal, error) {
	return s.runVaultOp(ctx, lenderId, reserveId, OpWithdraw, func(reserve *Reserve, position *LenderPosition) (decimal.Decimal, error) {
		return reserve.Withdraw(s.log, s.clk, position, assets)
	})
}

func (s *LendingService) Redeem(ctx context.Context, lenderId, reserveId uuid.UUID, shares decimal.Decimal) (decimal.Decimal, error) {
	return s.runVaultOp(ctx, lenderId, reserveId, OpRedeem, func(reserve *Reserve, position *LenderPosition) (decimal.Decimal, error) {
		return reserve.Redeem(s.log, s.clk, position, shares)
	})
}

// ------------ governance

func (s *LendingService) UpdateMinimumOpenHealthScore(ctx context.Context, callerKey string, bankId uuid.UUID, minimumOpenHealthScore decimal.Decimal) error {
	return s.controller.WithLock(func() error {
		bank, err := s.store.GetBankById(ctx, bankId)
		if err != nil {
			return BankNotFound
		}
		if bank.OwnerKey != callerKey {
			return CallerNotOwner
		}
		if err := bank.UpdateMinimumOpenHealthScore(s.clk, minimumOpenHealthScore); err != nil {
			return err
		}
		return s.store.UpsertBank(ctx, bank)
	})
}

func (s *LendingService) UpdateInterestRateModel(ctx context.Context, callerKey string, reserveId uuid.UUID, params InterestRateModelParameters) error {
	return s.controller.WithLock(func() error {
		reserve, err := s.store.GetReserveById(ctx, reserveId)
		if err != nil {
			return ReserveNotFound
		}
		if reserve.OwnerKey != callerKey {
			return CallerNotOwner
		}
		if err := reserve.UpdateInterestRateModel(s.log, s.clk, params); err != nil {
			return err
		}
		return s.store.UpsertReserve(ctx, reserve)
	})
}
