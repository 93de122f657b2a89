// Package client is a Go client for the ledger HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/pnlledger/internal/auth"
	"github.com/vadiminshakov/pnlledger/internal/domain"
	"github.com/vadiminshakov/pnlledger/pkg/retrier"
	"go.uber.org/zap"
)

// Client talks to a running ledger server. Transport failures and 5xx
// responses are retried; validation errors are returned immediately as the
// matching domain error.
type Client struct {
	baseURL string
	http    *http.Client
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRetrier overrides the retry policy.
func WithRetrier(r *retrier.Retrier) Option {
	return func(cl *Client) {
		cl.retrier = r
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retrier == nil {
		c.retrier = retrier.New(retrier.WithOnRetry(func(attempt int, err error) {
			c.logger.Warn("retrying ledger request", zap.Int("attempt", attempt), zap.Error(err))
		}))
	}

	return c
}

// Trade is a trade submission.
type Trade struct {
	Owner  common.Address
	Symbol string
	Amount decimal.Decimal
	Price  decimal.Decimal
	IsBuy  bool
	// Nonce is the owner's next sequence number; required for signed trades.
	Nonce     *uint64
	Signature string
}

type tradeRequest struct {
	Owner     string  `json:"owner"`
	Symbol    string  `json:"symbol"`
	Amount    string  `json:"amount"`
	Price     string  `json:"price"`
	IsBuy     bool    `json:"is_buy"`
	Nonce     *uint64 `json:"nonce,omitempty"`
	Signature string  `json:"signature,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Position is the open position of an owner in a symbol.
type Position struct {
	Owner       common.Address  `json:"owner"`
	Symbol      string          `json:"symbol"`
	OpenAmount  decimal.Decimal `json:"open_amount"`
	OpenCost    decimal.Decimal `json:"open_cost"`
	AverageCost decimal.Decimal `json:"average_cost"`
	OpenedAt    *time.Time      `json:"opened_at,omitempty"`
}

// LogTrade submits a trade and returns its index in the trade log. It is
// sent once: a POST that failed in transport may already be committed.
func (c *Client) LogTrade(ctx context.Context, trade Trade) (uint64, error) {
	req := tradeRequest{
		Owner:     trade.Owner.Hex(),
		Symbol:    trade.Symbol,
		Amount:    trade.Amount.String(),
		Price:     trade.Price.String(),
		IsBuy:     trade.IsBuy,
		Nonce:     trade.Nonce,
		Signature: trade.Signature,
	}

	var resp struct {
		Index uint64 `json:"index"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/trades", req, &resp); err != nil {
		return 0, err
	}

	return resp.Index, nil
}

// SignAndLogTrade is LogTrade with a signature produced by signer. When
// trade.Nonce is nil the owner's next nonce is fetched first.
func (c *Client) SignAndLogTrade(ctx context.Context, signer Signer, trade Trade) (uint64, error) {
	trade.Owner = signer.Address()
	if trade.Nonce == nil {
		nonce, err := c.Nonce(ctx, trade.Owner)
		if err != nil {
			return 0, err
		}
		trade.Nonce = &nonce
	}

	sig, err := auth.SignTrade(signer.Key, trade.Symbol, trade.Amount, trade.Price, trade.IsBuy, *trade.Nonce)
	if err != nil {
		return 0, err
	}
	trade.Signature = sig

	return c.LogTrade(ctx, trade)
}

// Nonce returns the sequence number owner's next trade must sign.
func (c *Client) Nonce(ctx context.Context, owner common.Address) (uint64, error) {
	resp, err := get[struct {
		Nonce uint64 `json:"nonce"`
	}](ctx, c, fmt.Sprintf("/api/v1/owners/%s/nonce", owner.Hex()))
	return resp.Nonce, err
}

// TotalTrades returns the number of trades in the ledger.
func (c *Client) TotalTrades(ctx context.Context) (uint64, error) {
	return c.count(ctx, "/api/v1/trades/count")
}

// TotalPnLResults returns the number of realized P&L records.
func (c *Client) TotalPnLResults(ctx context.Context) (uint64, error) {
	return c.count(ctx, "/api/v1/pnl/count")
}

// Trade returns the trade at index.
func (c *Client) Trade(ctx context.Context, index uint64) (domain.TradeEvent, error) {
	return get[domain.TradeEvent](ctx, c, fmt.Sprintf("/api/v1/trades/%d", index))
}

// PnLResult returns the P&L record at index.
func (c *Client) PnLResult(ctx context.Context, index uint64) (domain.PnLRecord, error) {
	return get[domain.PnLRecord](ctx, c, fmt.Sprintf("/api/v1/pnl/%d", index))
}

// PnLHistory returns all realized P&L records with their totals, only
// owner's when owner is not nil.
func (c *Client) PnLHistory(ctx context.Context, owner *common.Address) (domain.PnLSummary, error) {
	path := "/api/v1/pnl"
	if owner != nil {
		path += "?owner=" + url.QueryEscape(owner.Hex())
	}
	return get[domain.PnLSummary](ctx, c, path)
}

// Position returns the open position of owner in symbol.
func (c *Client) Position(ctx context.Context, owner common.Address, symbol string) (Position, error) {
	return get[Position](ctx, c, fmt.Sprintf("/api/v1/positions/%s/%s", owner.Hex(), url.PathEscape(symbol)))
}

func (c *Client) count(ctx context.Context, path string) (uint64, error) {
	resp, err := get[struct {
		Count uint64 `json:"count"`
	}](ctx, c, path)
	return resp.Count, err
}

// get fetches path into T, retrying transport failures and 5xx responses.
func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (T, error) {
		var out T
		err := c.send(ctx, http.MethodGet, path, nil, &out)

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return out, retrier.Permanent(err)
		}
		return out, err
	})
}

// send performs a single request.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

// APIError is a non-2xx response. It unwraps to the domain error the status
// code stands for, so callers can use errors.Is(err, domain.ErrInsufficientPosition).
type APIError struct {
	StatusCode int
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	msg := strings.TrimSpace(string(data))
	var body errorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
	switch resp.StatusCode {
	case http.StatusUnprocessableEntity:
		apiErr.cause = domain.ErrInsufficientPosition
	case http.StatusNotFound:
		apiErr.cause = domain.ErrOutOfRange
	case http.StatusUnauthorized:
		apiErr.cause = auth.ErrInvalidSignature
		if strings.Contains(msg, domain.ErrInvalidNonce.Error()) {
			apiErr.cause = domain.ErrInvalidNonce
		}
	case http.StatusBadRequest:
		apiErr.cause = classifyBadRequest(msg)
	}

	return apiErr
}

// classifyBadRequest maps a 400 body back to the domain error named in it.
func classifyBadRequest(msg string) error {
	for _, candidate := range []error{
		domain.ErrInvalidAmount,
		domain.ErrInvalidPrice,
		domain.ErrInvalidSymbol,
		domain.ErrInvalidOwner,
	} {
		if strings.Contains(msg, candidate.Error()) {
			return candidate
		}
	}
	return nil
}
