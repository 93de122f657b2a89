package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

// PnLEngine turns full closes into realized P&L records and keeps them in
// an append-only log.
type PnLEngine struct {
	records []domain.PnLRecord
}

// NewPnLEngine creates an empty P&L log.
func NewPnLEngine() *PnLEngine {
	return &PnLEngine{records: make([]domain.PnLRecord, 0)}
}

// Emit appends the record derived from a full close and returns its index.
func (e *PnLEngine) Emit(in CloseInputs) domain.PnLRecord {
	record := buildPnLRecord(in)
	record.Index = uint64(len(e.records))
	e.records = append(e.records, record)

	return record
}

// Count returns the number of P&L records.
func (e *PnLEngine) Count() uint64 {
	return uint64(len(e.records))
}

// Get returns the P&L record stored at index.
func (e *PnLEngine) Get(index uint64) (domain.PnLRecord, error) {
	if index >= e.Count() {
		return domain.PnLRecord{}, errors.Wrapf(domain.ErrOutOfRange, "pnl result %d, total %d", index, e.Count())
	}

	return e.records[index], nil
}

// History returns the records in emission order, only those of owner when
// owner is set. The result is a copy.
func (e *PnLEngine) History(owner *common.Address) []domain.PnLRecord {
	out := make([]domain.PnLRecord, 0, len(e.records))
	for _, r := range e.records {
		if owner != nil && r.Owner != *owner {
			continue
		}
		out = append(out, r)
	}

	return out
}

func buildPnLRecord(in CloseInputs) domain.PnLRecord {
	return domain.PnLRecord{
		TradeIndex:       in.TradeIndex,
		Owner:            in.Owner,
		TokenSymbol:      in.Symbol,
		TotalBuyCost:     in.TotalBuyCost,
		TotalSellRevenue: in.TotalSellRevenue,
		NetProfitOrLoss:  in.TotalSellRevenue.Sub(in.TotalBuyCost),
		CapitalDeployed:  in.TotalBuyCost,
		BuyTimestamp:     in.BuyTimestamp,
		SellTimestamp:    in.SellTimestamp,
		BuyAmount:        in.BuyAmount,
		SellAmount:       in.SellAmount,
	}
}
