package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LedgerEventType names a ledger notification.
type LedgerEventType string

const (
	LedgerEventTradeLogged   LedgerEventType = "trade_logged"
	LedgerEventPnLCalculated LedgerEventType = "pnl_calculated"
)

// TradeLogged is published for every committed trade.
type TradeLogged struct {
	Index     uint64          `json:"index"`
	Owner     common.Address  `json:"owner"`
	Sequence  uint64          `json:"sequence"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	IsBuy     bool            `json:"is_buy"`
	Timestamp time.Time       `json:"timestamp"`
}

// PnLCalculated is published for every full close.
type PnLCalculated struct {
	Index           uint64          `json:"index"`
	Owner           common.Address  `json:"owner"`
	Symbol          string          `json:"symbol"`
	NetProfitOrLoss decimal.Decimal `json:"net_profit_or_loss"`
	CapitalDeployed decimal.Decimal `json:"capital_deployed"`
	ReturnPercent   decimal.Decimal `json:"return_percent"`
}

// LedgerEvent bundles a notification with its type.
type LedgerEvent struct {
	Type LedgerEventType `json:"type"`
	// Payload is either TradeLogged or PnLCalculated.
	Payload any `json:"payload"`
}

// NewTradeLogged builds the notification for a committed trade.
func NewTradeLogged(t TradeEvent) LedgerEvent {
	return LedgerEvent{
		Type: LedgerEventTradeLogged,
		Payload: TradeLogged{
			Index:     t.Index,
			Owner:     t.Owner,
			Sequence:  t.Sequence,
			Symbol:    t.Symbol,
			Amount:    t.Amount,
			Price:     t.Price,
			IsBuy:     t.IsBuy,
			Timestamp: t.Timestamp,
		},
	}
}

// NewPnLCalculated builds the notification for a full close.
func NewPnLCalculated(r PnLRecord) LedgerEvent {
	return LedgerEvent{
		Type: LedgerEventPnLCalculated,
		Payload: PnLCalculated{
			Index:           r.Index,
			Owner:           r.Owner,
			Symbol:          r.TokenSymbol,
			NetProfitOrLoss: r.NetProfitOrLoss,
			CapitalDeployed: r.CapitalDeployed,
			ReturnPercent:   r.ReturnPercent(),
		},
	}
}
