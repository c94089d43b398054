package core

import (
	"github.com/shopspring/decimal"
)

const (
	SECONDS_PER_YEAR = 31_536_000

	// Externally visible transfer amounts are truncated to this many
	// decimal places before leaving the ledger.
	TRANSFER_PRECISION = 8
)

var (
	ONE = decimal.NewFromInt(1)

	ZERO_AMOUNT_THRESHOLD   = decimal.Zero
	EMPTY_BALANCE_THRESHOLD = decimal.NewFromFloat(0.00000001)

	// Added to both sides of the share conversion so the first
	// depositor cannot inflate the share price by donating assets.
	VIRTUAL_SHARE_OFFSET = decimal.NewFromInt(1)
)
