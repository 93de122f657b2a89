package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TradeEvent is a single buy or sell recorded by the ledger. It is never
// mutated once appended.
type TradeEvent struct {
	// ID stable identifier, also used as the journal key.
	ID string `json:"id"`
	// Index position in the trade log.
	Index uint64 `json:"index"`
	// Owner account that submitted the trade.
	Owner common.Address `json:"owner"`
	// Sequence number of earlier trades by Owner. Signed trades sign it as their nonce.
	Sequence uint64 `json:"sequence"`
	// Symbol asset ticker.
	Symbol string `json:"symbol"`
	// Amount quantity traded.
	Amount decimal.Decimal `json:"amount"`
	// Price unit price in USD.
	Price decimal.Decimal `json:"price"`
	// IsBuy direction of the trade.
	IsBuy bool `json:"is_buy"`
	// Timestamp ledger-assigned event time.
	Timestamp time.Time `json:"timestamp"`
}

// Action returns the trade direction.
func (t TradeEvent) Action() Action {
	if t.IsBuy {
		return ActionBuy
	}
	return ActionSell
}

// Notional returns amount * price.
func (t TradeEvent) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// String returns a human-readable string representation.
func (t TradeEvent) String() string {
	return fmt.Sprintf("#%d %s %s %s %s @ %s", t.Index, t.Owner.Hex(), t.Action(), t.Amount, t.Symbol, t.Price)
}
