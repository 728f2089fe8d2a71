package types

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAtomic renders an atomic-unit amount as a human-readable decimal
// string, e.g. 1500000 with 6 decimals -> "1.5". For logs and receipts
// only; settlement math stays in atomic units.
func FormatAtomic(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
