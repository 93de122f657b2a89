// Command tradeload drives a running ledger with concurrent signed trade
// cycles while holding SSE connections open on the event stream.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/pnlledger/internal/domain"
	"github.com/vadiminshakov/pnlledger/pkg/client"
	"github.com/vadiminshakov/pnlledger/pkg/retrier"
)

type counters struct {
	trades      int64
	closes      int64
	rejected    int64
	failed      int64
	listeners   int64
	streamErrs  int64
	streamLines int64
}

func main() {
	var (
		baseURL   string
		owners    int
		cycles    int
		listeners int
		symbol    string
		duration  time.Duration
		rampUp    time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "ledger base URL")
	flag.IntVar(&owners, "owners", 50, "number of concurrent trading owners")
	flag.IntVar(&cycles, "cycles", 100, "open/close cycles per owner")
	flag.IntVar(&listeners, "listeners", 100, "number of SSE connections to hold open")
	flag.StringVar(&symbol, "symbol", "ETH", "symbol to trade")
	flag.DurationVar(&duration, "dur", 0, "test duration (0 to stop after all cycles)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread owner starts across this window")
	flag.Parse()

	if owners <= 0 || cycles <= 0 {
		log.Fatalf("invalid load shape: owners=%d cycles=%d", owners, cycles)
	}

	log.Printf("starting trade load: url=%s owners=%d cycles=%d listeners=%d", baseURL, owners, cycles, listeners)
	runtime.GOMAXPROCS(runtime.NumCPU())

	transport := &http.Transport{
		MaxConnsPerHost:     owners + listeners + 100,
		MaxIdleConns:        owners + listeners + 100,
		MaxIdleConnsPerHost: owners + listeners + 100,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	httpClient := &http.Client{Transport: transport}
	backoff := retrier.New(
		retrier.WithMaxRetries(5),
		retrier.WithInitialInterval(50*time.Millisecond),
		retrier.WithMaxInterval(2*time.Second),
		retrier.WithMultiplier(2),
		retrier.WithJitter(0.3),
	)
	api := client.New(baseURL,
		client.WithHTTPClient(&http.Client{Transport: transport, Timeout: 10 * time.Second}),
		client.WithRetrier(backoff),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	var (
		c         counters
		streamWG  sync.WaitGroup
		tradersWG sync.WaitGroup
	)

	streamCtx, stopStreams := context.WithCancel(ctx)
	defer stopStreams()
	for i := 0; i < listeners; i++ {
		streamWG.Add(1)
		go func() {
			defer streamWG.Done()
			listen(streamCtx, httpClient, strings.TrimRight(baseURL, "/")+"/api/v1/events/stream", &c)
		}()
	}

	start := time.Now()
	go reportStatus(ctx, start, &c)

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(owners)
	}

	for i := 0; i < owners; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}

		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("generate key: %v", err)
		}

		tradersWG.Add(1)
		go func(signer client.Signer) {
			defer tradersWG.Done()
			trade(ctx, api, signer, symbol, cycles, &c)
		}(client.Signer{Key: key})
	}

	tradersWG.Wait()
	stopStreams()
	streamWG.Wait()

	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Millisecond
	}

	total, err := api.TotalTrades(context.Background())
	if err != nil {
		log.Printf("read trade count: %v", err)
	}

	fmt.Printf("done: trades=%d closes=%d rejected=%d failed=%d stream_lines=%d stream_errs=%d ledger_trades=%d elapsed=%s trades/s=%.2f\n",
		atomic.LoadInt64(&c.trades),
		atomic.LoadInt64(&c.closes),
		atomic.LoadInt64(&c.rejected),
		atomic.LoadInt64(&c.failed),
		atomic.LoadInt64(&c.streamLines),
		atomic.LoadInt64(&c.streamErrs),
		total,
		elapsed.Truncate(time.Millisecond),
		float64(atomic.LoadInt64(&c.trades))/elapsed.Seconds(),
	)
}

// trade runs buy, buy, sell-all cycles so every cycle ends in a full close.
func trade(ctx context.Context, api *client.Client, signer client.Signer, symbol string, cycles int, c *counters) {
	first := decimal.RequireFromString("0.5")
	second := decimal.RequireFromString("1.25")

	for i := 0; i < cycles; i++ {
		price := decimal.NewFromInt(int64(1000 + i)).Div(decimal.NewFromInt(10)).Round(domain.PricePrecision)
		steps := []client.Trade{
			{Symbol: symbol, Amount: first, Price: price, IsBuy: true},
			{Symbol: symbol, Amount: second, Price: price.Add(decimal.NewFromInt(1)), IsBuy: true},
			{Symbol: symbol, Amount: first.Add(second), Price: price.Add(decimal.NewFromInt(2)), IsBuy: false},
		}

		for _, step := range steps {
			if ctx.Err() != nil {
				return
			}

			_, err := api.SignAndLogTrade(ctx, signer, step)
			switch {
			case err == nil:
				atomic.AddInt64(&c.trades, 1)
				if !step.IsBuy {
					atomic.AddInt64(&c.closes, 1)
				}
			case errors.Is(err, domain.ErrInsufficientPosition):
				atomic.AddInt64(&c.rejected, 1)
			default:
				atomic.AddInt64(&c.failed, 1)
			}
		}
	}
}

func listen(ctx context.Context, httpClient *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		atomic.AddInt64(&c.streamErrs, 1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		atomic.AddInt64(&c.streamErrs, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&c.streamErrs, 1)
		return
	}

	atomic.AddInt64(&c.listeners, 1)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&c.streamErrs, 1)
			}
			return
		}
		// heartbeats start with ':'
		if strings.HasPrefix(line, "event:") {
			atomic.AddInt64(&c.streamLines, 1)
		}
	}
}

func reportStatus(ctx context.Context, start time.Time, c *counters) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("status: trades=%d closes=%d rejected=%d failed=%d listeners=%d events=%d elapsed=%s",
				atomic.LoadInt64(&c.trades),
				atomic.LoadInt64(&c.closes),
				atomic.LoadInt64(&c.rejected),
				atomic.LoadInt64(&c.failed),
				atomic.LoadInt64(&c.listeners),
				atomic.LoadInt64(&c.streamLines),
				time.Since(start).Truncate(time.Second),
			)
		}
	}
}
