package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pnlledger/internal/auth"
	"github.com/vadiminshakov/pnlledger/internal/domain"
	"github.com/vadiminshakov/pnlledger/internal/events"
	"github.com/vadiminshakov/pnlledger/internal/ledger"
)

const owner = "0x00000000000000000000000000000000000a11ce"

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *events.Broadcaster) {
	t.Helper()
	broadcaster := events.NewBroadcaster(16)
	l := ledger.New(ledger.WithPublisher(broadcaster))
	srv := httptest.NewServer(NewServer(opts, l, broadcaster, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, broadcaster
}

func postTrade(t *testing.T, url string, req tradeRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url+"/api/v1/trades", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_TradeLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "100", Price: "2000", IsBuy: true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, uint64(0), decode[indexResponse](t, resp).Index)

	resp = postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "100", Price: "2500", IsBuy: false})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, uint64(1), decode[indexResponse](t, resp).Index)

	assert.Equal(t, uint64(2), decode[countResponse](t, get(t, srv.URL+"/api/v1/trades/count")).Count)
	assert.Equal(t, uint64(1), decode[countResponse](t, get(t, srv.URL+"/api/v1/pnl/count")).Count)

	trade := decode[domain.TradeEvent](t, get(t, srv.URL+"/api/v1/trades/1"))
	assert.False(t, trade.IsBuy)
	assert.Equal(t, "ETH", trade.Symbol)

	record := decode[domain.PnLRecord](t, get(t, srv.URL+"/api/v1/pnl/0"))
	assert.True(t, decimal.NewFromInt(50000).Equal(record.NetProfitOrLoss))
	assert.True(t, decimal.NewFromInt(200000).Equal(record.TotalBuyCost))
	assert.True(t, decimal.NewFromInt(250000).Equal(record.TotalSellRevenue))
}

func TestServer_Position(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "eth", Amount: "100", Price: "2000", IsBuy: true})
	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "50", Price: "2500", IsBuy: false})

	resp := get(t, srv.URL+"/api/v1/positions/"+owner+"/eth")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pos := decode[positionResponse](t, resp)
	assert.Equal(t, "ETH", pos.Symbol)
	assert.Equal(t, strings.ToLower(owner), strings.ToLower(pos.Owner.Hex()))
	assert.True(t, decimal.NewFromInt(50).Equal(pos.OpenAmount))
	assert.True(t, decimal.NewFromInt(2000).Equal(pos.AverageCost))
	assert.NotNil(t, pos.OpenedAt)
}

func TestServer_ErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "100", Price: "2000", IsBuy: true})

	tests := []struct {
		name   string
		req    tradeRequest
		status int
	}{
		{name: "oversell", req: tradeRequest{Owner: owner, Symbol: "ETH", Amount: "150", Price: "2500"}, status: http.StatusUnprocessableEntity},
		{name: "zero amount", req: tradeRequest{Owner: owner, Symbol: "ETH", Amount: "0", Price: "1", IsBuy: true}, status: http.StatusBadRequest},
		{name: "garbage amount", req: tradeRequest{Owner: owner, Symbol: "ETH", Amount: "lots", Price: "1", IsBuy: true}, status: http.StatusBadRequest},
		{name: "sub-cent price", req: tradeRequest{Owner: owner, Symbol: "ETH", Amount: "1", Price: "0.001", IsBuy: true}, status: http.StatusBadRequest},
		{name: "bad owner", req: tradeRequest{Owner: "alice", Symbol: "ETH", Amount: "1", Price: "1", IsBuy: true}, status: http.StatusBadRequest},
		{name: "missing symbol", req: tradeRequest{Owner: owner, Amount: "1", Price: "1", IsBuy: true}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postTrade(t, srv.URL, tt.req)
			require.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decode[errorResponse](t, resp).Error)
		})
	}

	assert.Equal(t, uint64(1), decode[countResponse](t, get(t, srv.URL+"/api/v1/trades/count")).Count)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/v1/trades/5").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/v1/pnl/0").StatusCode)

	resp, err := http.Post(srv.URL+"/api/v1/trades", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RequireSignatures(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequireSignatures: true})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	amount, price := decimal.NewFromInt(3), decimal.NewFromInt(10)
	sig, err := auth.SignTrade(key, "ETH", amount, price, true, 0)
	require.NoError(t, err)
	nonce := uint64(0)

	resp := postTrade(t, srv.URL, tradeRequest{Owner: signer, Symbol: "ETH", Amount: "3", Price: "10", IsBuy: true, Nonce: &nonce})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postTrade(t, srv.URL, tradeRequest{Owner: signer, Symbol: "ETH", Amount: "3", Price: "10", IsBuy: true, Signature: sig})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "3", Price: "10", IsBuy: true, Nonce: &nonce, Signature: sig})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postTrade(t, srv.URL, tradeRequest{Owner: signer, Symbol: "ETH", Amount: "3", Price: "10", IsBuy: true, Nonce: &nonce, Signature: sig})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestServer_SignedTradeCannotBeReplayed(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequireSignatures: true})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	next := decode[nonceResponse](t, get(t, srv.URL+"/api/v1/owners/"+signer+"/nonce"))
	require.Equal(t, uint64(0), next.Nonce)

	sig, err := auth.SignTrade(key, "ETH", decimal.NewFromInt(1), decimal.NewFromInt(10), true, next.Nonce)
	require.NoError(t, err)
	req := tradeRequest{Owner: signer, Symbol: "ETH", Amount: "1", Price: "10", IsBuy: true, Nonce: &next.Nonce, Signature: sig}

	require.Equal(t, http.StatusCreated, postTrade(t, srv.URL, req).StatusCode)
	for i := 0; i < 3; i++ {
		resp := postTrade(t, srv.URL, req)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, decode[errorResponse](t, resp).Error, domain.ErrInvalidNonce.Error())
	}

	assert.Equal(t, uint64(1), decode[countResponse](t, get(t, srv.URL+"/api/v1/trades/count")).Count)
	assert.Equal(t, uint64(1), decode[nonceResponse](t, get(t, srv.URL+"/api/v1/owners/"+signer+"/nonce")).Nonce)
}

func TestServer_RejectsExtremeExponentsCheaply(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequireSignatures: true})

	for _, req := range []tradeRequest{
		{Owner: owner, Symbol: "ETH", Amount: "1e-10000000", Price: "1", IsBuy: true},
		{Owner: owner, Symbol: "ETH", Amount: "1e10000000", Price: "1", IsBuy: true},
		{Owner: owner, Symbol: "ETH", Amount: "1", Price: "1e10000000", IsBuy: true},
	} {
		start := time.Now()
		resp := postTrade(t, srv.URL, req)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Less(t, len(decode[errorResponse](t, resp).Error), 200)
		assert.Less(t, time.Since(start), time.Second)
	}
}

func TestServer_PnLHistory(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	const other = "0x0000000000000000000000000000000000000b0b"

	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "100", Price: "2000", IsBuy: true})
	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "100", Price: "2500", IsBuy: false})
	postTrade(t, srv.URL, tradeRequest{Owner: other, Symbol: "BTC", Amount: "1", Price: "100", IsBuy: true})
	postTrade(t, srv.URL, tradeRequest{Owner: other, Symbol: "BTC", Amount: "1", Price: "90", IsBuy: false})

	all := decode[pnlHistoryResponse](t, get(t, srv.URL+"/api/v1/pnl"))
	require.Len(t, all.Records, 2)
	assert.True(t, decimal.NewFromInt(49990).Equal(all.TotalNetProfitOrLoss))
	assert.Equal(t, 1, all.Wins)
	assert.Equal(t, 1, all.Losses)

	mine := decode[pnlHistoryResponse](t, get(t, srv.URL+"/api/v1/pnl?owner="+owner))
	require.Len(t, mine.Records, 1)
	assert.Equal(t, "ETH", mine.Records[0].TokenSymbol)
	assert.Equal(t, "25.00", mine.Records[0].ReturnPercent.StringFixed(2))
	assert.True(t, decimal.NewFromInt(50000).Equal(mine.TotalNetProfitOrLoss))

	none := decode[pnlHistoryResponse](t, get(t, srv.URL+"/api/v1/pnl?owner=0x0000000000000000000000000000000000000c0c"))
	assert.NotNil(t, none.Records)
	assert.Empty(t, none.Records)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/v1/pnl?owner=bob").StatusCode)
}

func TestServer_EventStream(t *testing.T) {
	srv, _ := newTestServer(t, Options{Heartbeat: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "1", Price: "10", IsBuy: true})
	postTrade(t, srv.URL, tradeRequest{Owner: owner, Symbol: "ETH", Amount: "1", Price: "12", IsBuy: false})

	var names []string
	scanner := bufio.NewScanner(stream.Body)
	for len(names) < 3 && scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}

	require.Equal(t, []string{
		string(domain.LedgerEventTradeLogged),
		string(domain.LedgerEventTradeLogged),
		string(domain.LedgerEventPnLCalculated),
	}, names)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := get(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartWithAutoTLSRequiresDomains(t *testing.T) {
	s := NewServer(Options{Addr: "127.0.0.1:0"}, ledger.New(), nil, nil)

	err := s.StartWithAutoTLS(context.Background(), nil, "")
	require.Error(t, err)
}
