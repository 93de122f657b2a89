package ledger

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

// TradeStore is the append-only, insertion-ordered log of trade events.
type TradeStore struct {
	trades []domain.TradeEvent
}

// NewTradeStore creates an empty trade log.
func NewTradeStore() *TradeStore {
	return &TradeStore{trades: make([]domain.TradeEvent, 0)}
}

// Append stores the event under the next sequential index and returns it.
func (s *TradeStore) Append(event domain.TradeEvent) uint64 {
	index := uint64(len(s.trades))
	event.Index = index
	s.trades = append(s.trades, event)

	return index
}

// Count returns the number of stored trades.
func (s *TradeStore) Count() uint64 {
	return uint64(len(s.trades))
}

// Get returns the trade stored at index.
func (s *TradeStore) Get(index uint64) (domain.TradeEvent, error) {
	if index >= s.Count() {
		return domain.TradeEvent{}, errors.Wrapf(domain.ErrOutOfRange, "trade %d, total %d", index, s.Count())
	}

	return s.trades[index], nil
}

// nextIndex is the index the next Append will assign.
func (s *TradeStore) nextIndex() uint64 {
	return s.Count()
}
