// Package ledger implements the trade ledger: an append-only trade log, the
// average-cost position tracker and the realized P&L log, committed together
// or not at all.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/pnlledger/internal/domain"
	"go.uber.org/zap"
)

// Journal durably records a trade before the ledger commits it in memory.
type Journal interface {
	Append(trade domain.TradeEvent) error
}

// Publisher receives notifications for committed trades and full closes.
// Publish must not block.
type Publisher interface {
	Publish(event domain.LedgerEvent)
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithJournal sets the write-ahead journal.
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// WithPublisher sets the notification sink.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		l.publisher = p
	}
}

// WithClock overrides the time source used for trade timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithIDGenerator overrides how trade IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

// Ledger is the single entry point for recording trades and reading back
// ledger state. All calls are serialized.
type Ledger struct {
	mu sync.RWMutex

	trades    *TradeStore
	positions *PositionTracker
	pnl       *PnLEngine

	journal   Journal
	publisher Publisher
	clock     func() time.Time
	newID     func() string
	logger    *zap.Logger

	// sequences holds each owner's next trade sequence number.
	sequences     map[common.Address]uint64
	lastTimestamp time.Time
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		trades:    NewTradeStore(),
		positions: NewPositionTracker(),
		pnl:       NewPnLEngine(),
		sequences: make(map[common.Address]uint64),
		clock:     time.Now,
		newID:     func() string { return uuid.New().String() },
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LogTrade validates, journals and commits a trade for owner, returning its
// index in the trade log. A rejected call changes nothing.
func (l *Ledger) LogTrade(ctx context.Context, owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool) (uint64, error) {
	return l.logTrade(ctx, owner, symbol, amount, price, isBuy, nil)
}

// LogTradeWithNonce is LogTrade for a signed trade: nonce must equal the
// owner's next sequence number, so a signature is accepted at most once.
func (l *Ledger) LogTradeWithNonce(ctx context.Context, owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, nonce uint64) (uint64, error) {
	return l.logTrade(ctx, owner, symbol, amount, price, isBuy, &nonce)
}

func (l *Ledger) logTrade(ctx context.Context, owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, nonce *uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	trade, err := newTrade(owner, symbol, amount, price, isBuy)
	if err != nil {
		l.logger.Warn("trade rejected", zap.String("owner", owner.Hex()), zap.Error(err))
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	trade.Sequence = l.sequences[trade.Owner]
	if nonce != nil && *nonce != trade.Sequence {
		l.logger.Warn("trade rejected",
			zap.String("owner", trade.Owner.Hex()),
			zap.Uint64("nonce", *nonce),
			zap.Uint64("expected", trade.Sequence))
		return 0, errors.Wrapf(domain.ErrInvalidNonce, "nonce %d, expected %d", *nonce, trade.Sequence)
	}

	trade.ID = l.newID()
	trade.Timestamp = l.nextTimestamp()
	trade.Index = l.trades.nextIndex()

	change, err := l.positions.prepare(trade.Owner, trade.Symbol, trade.Amount, trade.Price, trade.IsBuy, trade.Timestamp)
	if err != nil {
		l.logger.Warn("trade rejected",
			zap.String("owner", trade.Owner.Hex()),
			zap.String("symbol", trade.Symbol),
			zap.String("amount", trade.Amount.String()),
			zap.Error(err))
		return 0, err
	}

	if l.journal != nil {
		if err := l.journal.Append(trade); err != nil {
			return 0, errors.Wrap(err, "journal trade")
		}
	}

	record, closed := l.commit(trade, change)
	l.lastTimestamp = trade.Timestamp

	l.logger.Info("trade logged",
		zap.Uint64("index", trade.Index),
		zap.String("owner", trade.Owner.Hex()),
		zap.String("symbol", trade.Symbol),
		zap.String("action", trade.Action().String()),
		zap.String("amount", trade.Amount.String()),
		zap.String("price", trade.Price.String()),
		zap.String("notional", trade.Notional().String()))

	l.publish(domain.NewTradeLogged(trade))
	if closed {
		l.logger.Info("position closed",
			zap.Uint64("pnl_index", record.Index),
			zap.String("owner", record.Owner.Hex()),
			zap.String("symbol", record.TokenSymbol),
			zap.String("net_pnl", record.NetProfitOrLoss.String()),
			zap.String("return_pct", record.ReturnPercent().String()))
		l.publish(domain.NewPnLCalculated(record))
	}

	return trade.Index, nil
}

// Restore replays journaled trades into an empty ledger. Trades are applied
// through the same path as LogTrade but are neither journaled nor published.
func (l *Ledger) Restore(ctx context.Context, trades []domain.TradeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.trades.Count() != 0 {
		return errors.New("restore requires an empty ledger")
	}

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return err
		}
		if trade.Index != l.trades.nextIndex() {
			return errors.Errorf("journal gap: expected trade %d, got %d", l.trades.nextIndex(), trade.Index)
		}
		if want := l.sequences[trade.Owner]; trade.Sequence != want {
			return errors.Errorf("journal sequence mismatch: trade %d has owner sequence %d, expected %d", trade.Index, trade.Sequence, want)
		}

		change, err := l.positions.prepare(trade.Owner, trade.Symbol, trade.Amount, trade.Price, trade.IsBuy, trade.Timestamp)
		if err != nil {
			return errors.Wrapf(err, "replay trade %d", trade.Index)
		}

		l.commit(trade, change)
		if trade.Timestamp.After(l.lastTimestamp) {
			l.lastTimestamp = trade.Timestamp
		}
	}

	l.logger.Info("ledger restored",
		zap.Uint64("trades", l.trades.Count()),
		zap.Uint64("pnl_results", l.pnl.Count()),
		zap.Int("open_positions", l.positions.OpenPositions()))

	return nil
}

// TotalTrades returns the number of committed trades.
func (l *Ledger) TotalTrades() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.trades.Count()
}

// Trade returns the trade at index.
func (l *Ledger) Trade(index uint64) (domain.TradeEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.trades.Get(index)
}

// TotalPnLResults returns the number of full closes.
func (l *Ledger) TotalPnLResults() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.pnl.Count()
}

// PnLResult returns the P&L record at index.
func (l *Ledger) PnLResult(index uint64) (domain.PnLRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.pnl.Get(index)
}

// PnLHistory returns every P&L record in order, or only owner's when owner
// is not nil.
func (l *Ledger) PnLHistory(owner *common.Address) []domain.PnLRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.pnl.History(owner)
}

// NextNonce returns the sequence number owner's next trade will carry.
func (l *Ledger) NextNonce(owner common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.sequences[owner]
}

// Position returns the open position of owner in symbol, keyed by the
// normalized symbol.
func (l *Ledger) Position(owner common.Address, symbol string) (domain.PositionSnapshot, error) {
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return domain.PositionSnapshot{
		Owner:               owner,
		Symbol:              symbol,
		PositionAccumulator: l.positions.Position(owner, symbol),
	}, nil
}

// commit installs a prepared trade. Must be called with mu held.
func (l *Ledger) commit(trade domain.TradeEvent, change positionChange) (domain.PnLRecord, bool) {
	index := l.trades.Append(trade)
	l.positions.commit(change)
	l.sequences[trade.Owner] = trade.Sequence + 1

	if !change.outcome.Closed {
		return domain.PnLRecord{}, false
	}

	inputs := change.outcome.Inputs
	inputs.TradeIndex = index

	return l.pnl.Emit(inputs), true
}

// nextTimestamp returns the clock time, never earlier than the last trade.
func (l *Ledger) nextTimestamp() time.Time {
	now := l.clock()
	if now.Before(l.lastTimestamp) {
		return l.lastTimestamp
	}

	return now
}

func (l *Ledger) publish(event domain.LedgerEvent) {
	if l.publisher == nil {
		return
	}

	l.publisher.Publish(event)
}

func newTrade(owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool) (domain.TradeEvent, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.TradeEvent{}, err
	}
	if err := domain.ValidatePrice(price); err != nil {
		return domain.TradeEvent{}, err
	}
	if owner == (common.Address{}) {
		return domain.TradeEvent{}, errors.Wrap(domain.ErrInvalidOwner, "owner is the zero address")
	}

	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.TradeEvent{}, err
	}

	return domain.TradeEvent{
		Owner:  owner,
		Symbol: symbol,
		Amount: amount,
		Price:  price,
		IsBuy:  isBuy,
	}, nil
}
