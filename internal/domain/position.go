package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PositionAccumulator is the open position of one owner in one symbol,
// tracked with average cost basis.
type PositionAccumulator struct {
	// OpenAmount current open quantity.
	OpenAmount decimal.Decimal `json:"open_amount"`
	// OpenCost cumulative USD cost of the open quantity.
	OpenCost decimal.Decimal `json:"open_cost"`
	// OpenedAt timestamp of the buy that opened the current position cycle.
	OpenedAt time.Time `json:"opened_at"`
}

// IsOpen returns true if the position holds a positive quantity.
func (p PositionAccumulator) IsOpen() bool {
	return p.OpenAmount.IsPositive()
}

// AverageCost returns OpenCost / OpenAmount, or zero for a flat position.
func (p PositionAccumulator) AverageCost() decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}

	return p.OpenCost.DivRound(p.OpenAmount, CostPrecision)
}

// PositionSnapshot is a read-only copy of one accumulator together with the
// key it is stored under.
type PositionSnapshot struct {
	Owner  common.Address `json:"owner"`
	Symbol string         `json:"symbol"`
	PositionAccumulator
}
