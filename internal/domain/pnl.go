package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PnLRecord is the realized result of a fully closed position.
type PnLRecord struct {
	Index       uint64         `json:"index"`
	TradeIndex  uint64         `json:"trade_index"`
	Owner       common.Address `json:"owner"`
	TokenSymbol string         `json:"token_symbol"`

	TotalBuyCost     decimal.Decimal `json:"total_buy_cost"`
	TotalSellRevenue decimal.Decimal `json:"total_sell_revenue"`
	NetProfitOrLoss  decimal.Decimal `json:"net_profit_or_loss"`
	CapitalDeployed  decimal.Decimal `json:"capital_deployed"`

	BuyTimestamp  time.Time       `json:"buy_timestamp"`
	SellTimestamp time.Time       `json:"sell_timestamp"`
	BuyAmount     decimal.Decimal `json:"buy_amount"`
	SellAmount    decimal.Decimal `json:"sell_amount"`
}

// IsProfit reports whether the closed position made money.
func (r PnLRecord) IsProfit() bool {
	return r.NetProfitOrLoss.IsPositive()
}

// ReturnPercent returns NetProfitOrLoss as a percentage of CapitalDeployed.
// Zero when no capital was deployed.
func (r PnLRecord) ReturnPercent() decimal.Decimal {
	return returnPercent(r.NetProfitOrLoss, r.CapitalDeployed)
}

// PnLSummary aggregates a set of P&L records.
type PnLSummary struct {
	Records              []PnLRecord     `json:"records"`
	TotalNetProfitOrLoss decimal.Decimal `json:"total_net_profit_or_loss"`
	TotalCapitalDeployed decimal.Decimal `json:"total_capital_deployed"`
	ReturnPercent        decimal.Decimal `json:"return_percent"`
	Wins                 int             `json:"wins"`
	Losses               int             `json:"losses"`
}

// SummarizePnL sums records. A record with zero net counts as neither a win
// nor a loss.
func SummarizePnL(records []PnLRecord) PnLSummary {
	summary := PnLSummary{
		Records:              records,
		TotalNetProfitOrLoss: decimal.Zero,
		TotalCapitalDeployed: decimal.Zero,
	}

	for _, r := range records {
		summary.TotalNetProfitOrLoss = summary.TotalNetProfitOrLoss.Add(r.NetProfitOrLoss)
		summary.TotalCapitalDeployed = summary.TotalCapitalDeployed.Add(r.CapitalDeployed)
		switch {
		case r.IsProfit():
			summary.Wins++
		case r.NetProfitOrLoss.IsNegative():
			summary.Losses++
		}
	}
	summary.ReturnPercent = returnPercent(summary.TotalNetProfitOrLoss, summary.TotalCapitalDeployed)

	return summary
}

func returnPercent(net, capital decimal.Decimal) decimal.Decimal {
	if capital.IsZero() {
		return decimal.Zero
	}

	return net.Div(capital).Mul(decimal.NewFromInt(100)).Round(PricePrecision)
}
