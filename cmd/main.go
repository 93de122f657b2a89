// Command pnlledger runs the trade ledger server: an append-only trade log
// with average-cost position tracking and realized P&L on full closes,
// served over HTTP.
//
// Usage:
//
//	pnlledger --config ledger.yaml
//	pnlledger --addr :8080 --waldir ./wal/trades
//	pnlledger --setup   (interactive wizard, writes ledger.gen.yaml)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/pnlledger/config"
	"github.com/vadiminshakov/pnlledger/internal/events"
	"github.com/vadiminshakov/pnlledger/internal/ledger"
	"github.com/vadiminshakov/pnlledger/internal/logger"
	"github.com/vadiminshakov/pnlledger/internal/setup"
	"github.com/vadiminshakov/pnlledger/internal/storage/tradelog"
	"github.com/vadiminshakov/pnlledger/internal/web"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Setup {
		cfg, err = setup.RunTUI(setup.DefaultConfigFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	l, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, l *zap.Logger) error {
	store, err := tradelog.NewWALStore(tradelog.Config{
		Dir:              cfg.WALDir,
		SegmentThreshold: cfg.SegmentThreshold,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Error("close trade log", zap.Error(err))
		}
	}()

	broadcaster := events.NewBroadcaster(cfg.EventBuffer)
	ldg := ledger.New(
		ledger.WithJournal(store),
		ledger.WithPublisher(broadcaster),
		ledger.WithLogger(l.Named("ledger")),
	)

	trades, err := store.Load()
	if err != nil {
		return errors.Wrap(err, "load trade log")
	}
	if err := ldg.Restore(ctx, trades); err != nil {
		return errors.Wrap(err, "restore ledger")
	}

	server := web.NewServer(web.Options{
		Addr:              cfg.ListenAddr,
		RequireSignatures: cfg.RequireSignatures,
		AllowedOrigins:    cfg.CORSOrigins,
		Heartbeat:         cfg.StreamHeartbeat,
	}, ldg, broadcaster, l.Named("web"))

	l.Info("ledger started",
		zap.String("addr", cfg.ListenAddr),
		zap.String("wal_dir", cfg.WALDir),
		zap.Bool("require_signatures", cfg.RequireSignatures),
		zap.Uint64("trades", ldg.TotalTrades()),
		zap.Uint64("pnl_results", ldg.TotalPnLResults()))

	if len(cfg.TLSDomains) > 0 {
		return server.StartWithAutoTLS(ctx, cfg.TLSDomains, cfg.TLSCacheDir)
	}

	return server.Start(ctx)
}
