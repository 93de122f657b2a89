package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

type positionKey struct {
	owner  common.Address
	symbol string
}

// CloseInputs carries everything PnLEngine needs to build a record for a full close.
type CloseInputs struct {
	Owner            common.Address
	Symbol           string
	TradeIndex       uint64
	TotalBuyCost     decimal.Decimal
	BuyAmount        decimal.Decimal
	BuyTimestamp     time.Time
	TotalSellRevenue decimal.Decimal
	SellAmount       decimal.Decimal
	SellTimestamp    time.Time
}

// ClosureOutcome reports whether applying a trade fully closed a position.
type ClosureOutcome struct {
	Closed bool
	Inputs CloseInputs
}

// positionChange is a computed but not yet installed accumulator transition.
type positionChange struct {
	key     positionKey
	next    domain.PositionAccumulator
	outcome ClosureOutcome
}

// PositionTracker owns the per (owner, symbol) accumulators. Nothing else
// writes them.
type PositionTracker struct {
	positions map[positionKey]*domain.PositionAccumulator
}

// NewPositionTracker creates a tracker with no open positions.
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{positions: make(map[positionKey]*domain.PositionAccumulator)}
}

// Apply updates the accumulator for (owner, symbol) with a trade.
func (t *PositionTracker) Apply(owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, timestamp time.Time) (ClosureOutcome, error) {
	change, err := t.prepare(owner, symbol, amount, price, isBuy, timestamp)
	if err != nil {
		return ClosureOutcome{}, err
	}

	t.commit(change)
	return change.outcome, nil
}

// Position returns a copy of the accumulator for (owner, symbol). A flat or
// unknown position is returned as the zero accumulator.
func (t *PositionTracker) Position(owner common.Address, symbol string) domain.PositionAccumulator {
	acc, ok := t.positions[positionKey{owner: owner, symbol: symbol}]
	if !ok {
		return domain.PositionAccumulator{OpenAmount: decimal.Zero, OpenCost: decimal.Zero}
	}

	return *acc
}

// OpenPositions returns the number of keys holding a positive quantity.
func (t *PositionTracker) OpenPositions() int {
	return len(t.positions)
}

// prepare computes the accumulator transition without touching tracker state.
func (t *PositionTracker) prepare(owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, timestamp time.Time) (positionChange, error) {
	key := positionKey{owner: owner, symbol: symbol}
	current := t.Position(owner, symbol)

	if isBuy {
		next := domain.PositionAccumulator{
			OpenAmount: current.OpenAmount.Add(amount),
			OpenCost:   current.OpenCost.Add(amount.Mul(price)),
			OpenedAt:   current.OpenedAt,
		}
		if !current.IsOpen() {
			next.OpenedAt = timestamp
		}

		return positionChange{key: key, next: next}, nil
	}

	switch amount.Cmp(current.OpenAmount) {
	case 1:
		return positionChange{}, errors.Wrapf(domain.ErrInsufficientPosition,
			"sell %s %s, open %s", amount, symbol, current.OpenAmount)
	case 0:
		return positionChange{
			key:  key,
			next: domain.PositionAccumulator{OpenAmount: decimal.Zero, OpenCost: decimal.Zero},
			outcome: ClosureOutcome{
				Closed: true,
				Inputs: CloseInputs{
					Owner:            owner,
					Symbol:           symbol,
					TotalBuyCost:     current.OpenCost,
					BuyAmount:        current.OpenAmount,
					BuyTimestamp:     current.OpenedAt,
					TotalSellRevenue: amount.Mul(price),
					SellAmount:       amount,
					SellTimestamp:    timestamp,
				},
			},
		}, nil
	}

	// partial close: remove avgCost * amount, keeping the average of the rest unchanged
	reduction := current.OpenCost.Mul(amount).DivRound(current.OpenAmount, domain.CostPrecision)
	remainingCost := current.OpenCost.Sub(reduction)
	if remainingCost.IsNegative() {
		remainingCost = decimal.Zero
	}

	return positionChange{
		key: key,
		next: domain.PositionAccumulator{
			OpenAmount: current.OpenAmount.Sub(amount),
			OpenCost:   remainingCost,
			OpenedAt:   current.OpenedAt,
		},
	}, nil
}

// commit installs a prepared change. It cannot fail.
func (t *PositionTracker) commit(c positionChange) {
	if !c.next.IsOpen() {
		delete(t.positions, c.key)
		return
	}

	next := c.next
	t.positions[c.key] = &next
}
