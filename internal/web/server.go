package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/pnlledger/internal/auth"
	"github.com/vadiminshakov/pnlledger/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const defaultHeartbeat = 30 * time.Second

type tradeLedger interface {
	LogTrade(ctx context.Context, owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool) (uint64, error)
	LogTradeWithNonce(ctx context.Context, owner common.Address, symbol string, amount, price decimal.Decimal, isBuy bool, nonce uint64) (uint64, error)
	NextNonce(owner common.Address) uint64
	TotalTrades() uint64
	Trade(index uint64) (domain.TradeEvent, error)
	TotalPnLResults() uint64
	PnLResult(index uint64) (domain.PnLRecord, error)
	PnLHistory(owner *common.Address) []domain.PnLRecord
	Position(owner common.Address, symbol string) (domain.PositionSnapshot, error)
}

type eventSource interface {
	Subscribe() chan domain.LedgerEvent
	Unsubscribe(ch chan domain.LedgerEvent)
}

// Options configures the HTTP surface.
type Options struct {
	Addr              string
	RequireSignatures bool
	AllowedOrigins    []string
	Heartbeat         time.Duration
}

// Server exposes the ledger over a JSON API and an SSE event stream.
type Server struct {
	opts   Options
	ledger tradeLedger
	events eventSource
	logger *zap.Logger
	router *mux.Router
}

// NewServer creates a new web server instance.
func NewServer(opts Options, ledger tradeLedger, events eventSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}

	s := &Server{
		opts:   opts,
		ledger: ledger,
		events: events,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/trades", s.handleLogTrade).Methods(http.MethodPost)
	api.HandleFunc("/trades/count", s.handleTradeCount).Methods(http.MethodGet)
	api.HandleFunc("/trades/{index:[0-9]+}", s.handleGetTrade).Methods(http.MethodGet)

	api.HandleFunc("/pnl", s.handlePnLHistory).Methods(http.MethodGet)
	api.HandleFunc("/pnl/count", s.handlePnLCount).Methods(http.MethodGet)
	api.HandleFunc("/pnl/{index:[0-9]+}", s.handleGetPnL).Methods(http.MethodGet)

	api.HandleFunc("/positions/{owner}/{symbol}", s.handleGetPosition).Methods(http.MethodGet)
	api.HandleFunc("/owners/{owner}/nonce", s.handleGetNonce).Methods(http.MethodGet)

	api.HandleFunc("/events/stream", s.handleEventStream).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	return c.Handler(s.router)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.shutdownOnDone(ctx, server)

	s.logger.Info("http server starting", zap.String("addr", s.opts.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS serves HTTPS with certificates obtained via ACME for the
// given domains. ACME HTTP-01 challenges are answered on :80.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go s.shutdownOnDone(ctx, httpSrv)
	go s.shutdownOnDone(ctx, httpsSrv)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme challenge server", zap.Error(err))
		}
	}()

	s.logger.Info("https server starting", zap.String("addr", s.opts.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown", zap.String("addr", server.Addr), zap.Error(err))
	}
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

type indexResponse struct {
	Index uint64 `json:"index"`
}

type countResponse struct {
	Count uint64 `json:"count"`
}

type nonceResponse struct {
	Owner common.Address `json:"owner"`
	Nonce uint64         `json:"nonce"`
}

type positionResponse struct {
	Owner       common.Address  `json:"owner"`
	Symbol      string          `json:"symbol"`
	OpenAmount  decimal.Decimal `json:"open_amount"`
	OpenCost    decimal.Decimal `json:"open_cost"`
	AverageCost decimal.Decimal `json:"average_cost"`
	OpenedAt    *time.Time      `json:"opened_at,omitempty"`
}

type pnlResponse struct {
	domain.PnLRecord
	ReturnPercent decimal.Decimal `json:"return_percent"`
}

type pnlHistoryResponse struct {
	Records              []pnlResponse   `json:"records"`
	TotalNetProfitOrLoss decimal.Decimal `json:"total_net_profit_or_loss"`
	TotalCapitalDeployed decimal.Decimal `json:"total_capital_deployed"`
	ReturnPercent        decimal.Decimal `json:"return_percent"`
	Wins                 int             `json:"wins"`
	Losses               int             `json:"losses"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleLogTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	owner, err := parseOwner(req.Owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		s.writeError(w, errors.Wrap(domain.ErrInvalidAmount, "amount is not a decimal"))
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		s.writeError(w, errors.Wrap(domain.ErrInvalidPrice, "price is not a decimal"))
		return
	}
	// reject out-of-range values before the signature check formats them
	if err := domain.ValidateAmount(amount); err != nil {
		s.writeError(w, err)
		return
	}
	if err := domain.ValidatePrice(price); err != nil {
		s.writeError(w, err)
		return
	}

	if s.opts.RequireSignatures {
		if req.Nonce == nil {
			s.writeError(w, errors.Wrap(domain.ErrInvalidNonce, "signed trades must carry a nonce"))
			return
		}
		if err := auth.VerifyTrade(owner, req.Symbol, amount, price, req.IsBuy, *req.Nonce, req.Signature); err != nil {
			s.writeError(w, err)
			return
		}
	}

	var index uint64
	if req.Nonce != nil {
		index, err = s.ledger.LogTradeWithNonce(r.Context(), owner, req.Symbol, amount, price, req.IsBuy, *req.Nonce)
	} else {
		index, err = s.ledger.LogTrade(r.Context(), owner, req.Symbol, amount, price, req.IsBuy)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, indexResponse{Index: index})
}

func (s *Server) handleTradeCount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, countResponse{Count: s.ledger.TotalTrades()})
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	trade, err := s.ledger.Trade(index)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handlePnLCount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, countResponse{Count: s.ledger.TotalPnLResults()})
}

func (s *Server) handleGetPnL(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	record, err := s.ledger.PnLResult(index)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, newPnLResponse(record))
}

func (s *Server) handlePnLHistory(w http.ResponseWriter, r *http.Request) {
	var owner *common.Address
	if raw := r.URL.Query().Get("owner"); raw != "" {
		addr, err := parseOwner(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		owner = &addr
	}

	summary := domain.SummarizePnL(s.ledger.PnLHistory(owner))
	resp := pnlHistoryResponse{
		Records:              make([]pnlResponse, 0, len(summary.Records)),
		TotalNetProfitOrLoss: summary.TotalNetProfitOrLoss,
		TotalCapitalDeployed: summary.TotalCapitalDeployed,
		ReturnPercent:        summary.ReturnPercent,
		Wins:                 summary.Wins,
		Losses:               summary.Losses,
	}
	for _, record := range summary.Records {
		resp.Records = append(resp.Records, newPnLResponse(record))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(mux.Vars(r)["owner"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, nonceResponse{Owner: owner, Nonce: s.ledger.NextNonce(owner)})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	owner, err := parseOwner(vars["owner"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	pos, err := s.ledger.Position(owner, vars["symbol"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := positionResponse{
		Owner:       pos.Owner,
		Symbol:      pos.Symbol,
		OpenAmount:  pos.OpenAmount,
		OpenCost:    pos.OpenCost,
		AverageCost: pos.AverageCost(),
	}
	if pos.IsOpen() {
		openedAt := pos.OpenedAt
		resp.OpenedAt = &openedAt
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event stream not available"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event.Payload)
			if err != nil {
				s.logger.Error("encode ledger event", zap.String("type", string(event.Type)), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidOwner):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidNonce):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func newPnLResponse(record domain.PnLRecord) pnlResponse {
	return pnlResponse{PnLRecord: record, ReturnPercent: record.ReturnPercent()}
}

func parseOwner(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrap(domain.ErrInvalidOwner, "owner is not a hex address")
	}

	return common.HexToAddress(s), nil
}

func parseIndex(r *http.Request) (uint64, error) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		return 0, errors.Wrap(domain.ErrOutOfRange, "index is not a number")
	}

	return index, nil
}
