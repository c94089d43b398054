package core

import (
	"github.com/pkg/errors"
)

// Authorization errors.
var (
	AccountNotRegistered = errors.New("caller is not a registered strategy account")
	CallerNotReserve     = errors.New("caller is not the strategy reserve")
	CallerNotBank        = errors.New("caller is not the strategy bank")
	CallerNotOwner       = errors.New("caller is not the owner")
)

// Invariant-violation errors.
var (
	RepayExceedsLoan              = errors.New("repayment amount exceeds outstanding loan")
	WithdrawalExceedsAvailable    = errors.New("requested withdrawal exceeds withdrawable collateral")
	CollateralBelowMinimum        = errors.New("resulting collateral below minimum collateral balance")
	InsufficientCollateral        = errors.New("posted collateral cannot cover required amount")
	HealthScoreBelowMinimumOpen   = errors.New("health score would fall below minimum open threshold")
	ReserveInsufficientLiquidity  = errors.New("requested amount exceeds unutilized reserve assets")
	ReserveTvlCapExceeded         = errors.New("deposit would exceed reserve tvl cap")
	ReserveShareBalanceExceeded   = errors.New("redemption exceeds lender share balance")
	IllegalUtilization            = errors.New("utilized assets exceed total reserve assets")
	NegativeAmount                = errors.New("amount must be positive")
)

// State-precondition errors.
var (
	ProtocolPaused           = errors.New("protocol is paused")
	AccountIsLiquidatable    = errors.New("account is liquidatable")
	AccountNotLiquidatable   = errors.New("account is not liquidatable")
	LockAlreadyAcquired      = errors.New("reentrancy lock already acquired")
	LockNotAcquired          = errors.New("reentrancy lock not held")
	HoldingsNotFound         = errors.New("strategy account holdings not found")
	LenderPositionNotFound   = errors.New("lender position not found")
	StrategyAccountNotFound  = errors.New("strategy account not found")
	ReserveNotFound          = errors.New("reserve not found")
	BankNotFound             = errors.New("bank not found")
)

// Configuration errors.
var (
	InvalidConfig         = errors.New("invalid configuration")
	ErrOptimalUtilization = errors.New("optimal utilization must be within (0, 1)")
	ErrNegativeRate       = errors.New("interest rate parameters must be non-negative")
	ErrPremiumTooLarge    = errors.New("premium must be below 100%")
	ErrHealthScoreOrder   = errors.New("minimum open health score must exceed liquidatable threshold")
	ErrLiquidatableRange  = errors.New("liquidatable health score must be within (0, 1)")
)
