package tradelog

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

const (
	DefaultDir              = "./wal/trades"
	DefaultSegmentThreshold = 1000
	// DefaultMaxSegments is high enough that segments are never rotated out:
	// the trade log is the ledger's only durable history.
	DefaultMaxSegments = 1 << 20

	tradeKeyPrefix = "trade_"
)

// Config configures the WAL-backed trade log.
type Config struct {
	Dir              string
	SegmentThreshold int
	MaxSegments      int
}

// ErrLogDiverged is returned once a failed write left the log in a state
// that no longer matches what callers were told. The store refuses further
// appends until it is reopened and the ledger restored from it.
var ErrLogDiverged = errors.New("trade log diverged from ledger")

// walLog is the subset of *gowal.Wal the store uses.
type walLog interface {
	Write(index uint64, key string, value []byte) error
	Get(index uint64) (string, []byte, error)
	CurrentIndex() uint64
	Close() error
}

// WALStore persists committed trades in a WAL. WAL index n holds trade n-1.
type WALStore struct {
	wal      walLog
	mu       sync.RWMutex
	diverged error
}

// NewWALStore opens (or creates) the trade log.
func NewWALStore(cfg Config) (*WALStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.SegmentThreshold <= 0 {
		cfg.SegmentThreshold = DefaultSegmentThreshold
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           "trades_",
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes the trade to the WAL. The trade must be the next one in sequence.
func (s *WALStore) Append(trade domain.TradeEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("trade store is not initialized")
	}
	if trade.ID == "" {
		return errors.New("trade id is required")
	}

	payload, err := json.Marshal(trade)
	if err != nil {
		return errors.Wrap(err, "marshal trade")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.diverged != nil {
		return s.diverged
	}

	current := s.wal.CurrentIndex()
	if current != trade.Index {
		return errors.Errorf("trade log out of sync: trade %d, log holds %d", trade.Index, current)
	}

	key := tradeKeyPrefix + trade.ID
	writeErr := s.wal.Write(current+1, key, payload)
	if writeErr == nil {
		return nil
	}

	return s.reconcile(current, key, payload, writeErr)
}

// reconcile decides what a failed write left behind. An index that did not
// move means nothing was written. An index that moved to an entry equal to
// ours means the write landed and only a later step failed (fsync, rotation).
// Anything else is a record the ledger never committed, so the store stops
// accepting appends.
func (s *WALStore) reconcile(prev uint64, key string, payload []byte, writeErr error) error {
	after := s.wal.CurrentIndex()
	if after == prev {
		return errors.Wrap(writeErr, "write trade log")
	}

	if after == prev+1 {
		gotKey, gotPayload, err := s.wal.Get(after)
		if err == nil && gotKey == key && bytes.Equal(gotPayload, payload) {
			return nil
		}
	}

	s.diverged = errors.Wrapf(ErrLogDiverged, "write of entry %d failed with index at %d: %v", prev+1, after, writeErr)

	return s.diverged
}

// Load returns every trade in the log in index order.
func (s *WALStore) Load() ([]domain.TradeEvent, error) {
	return s.TradesAfter(0)
}

// TradesAfter returns trades stored after the provided WAL index.
func (s *WALStore) TradesAfter(index uint64) ([]domain.TradeEvent, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	trades := make([]domain.TradeEvent, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read trade log entry %d", idx)
		}
		if !strings.HasPrefix(key, tradeKeyPrefix) {
			continue
		}

		var trade domain.TradeEvent
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, errors.Wrapf(err, "decode trade log entry %d", idx)
		}
		trades = append(trades, trade)
	}

	return trades, nil
}

// CurrentIndex returns the latest WAL index stored, which equals the number of trades.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("trade store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
