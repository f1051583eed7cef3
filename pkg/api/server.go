package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/app/spot"
)

// Server handles REST API and WebSocket connections
type Server struct {
	app     *spot.App
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	origins []string

	hubOnce sync.Once
	httpSrv *http.Server
}

func NewServer(app *spot.App, log *zap.SugaredLogger, corsOrigins []string) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
		origins: corsOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market data
	api.HandleFunc("/pair", s.handleGetPair).Methods("GET")
	api.HandleFunc("/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/book/{side:buy|sell}", s.handleGetQueue).Methods("GET")
	api.HandleFunc("/book/{side:buy|sell}/{index:[0-9]+}", s.handleGetOrderAt).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Custody state
	api.HandleFunc("/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")

	// Commands
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/deposits", s.handleCustody(spot.OpDeposit)).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleCustody(spot.OpWithdraw)).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router and starts the WebSocket hub on
// first use.
func (s *Server) Handler() http.Handler {
	s.hubOnce.Do(func() { go s.hub.Run() })

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_server_listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	p := s.app.Pair()
	respondJSON(w, PairInfo{
		Symbol:     p.Symbol,
		BaseAsset:  p.BaseAsset,
		QuoteAsset: p.QuoteAsset,
		Decimals:   p.Decimals,
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.bookSnapshot())
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	side, _ := orderbook.ParseSide(mux.Vars(r)["side"])
	respondJSON(w, s.orderInfos(s.queue(side)))
}

func (s *Server) handleGetOrderAt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	side, _ := orderbook.ParseSide(vars["side"])
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid index", err.Error())
		return
	}

	eng := s.app.Engine()
	var o orderbook.Order
	if side == orderbook.Buy {
		o, err = eng.BuyOrderAt(index)
	} else {
		o, err = eng.SellOrderAt(index)
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, s.orderInfo(index, o))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", "expected 1..1000")
			return
		}
		limit = n
	}

	trades, err := s.app.RecentTrades(limit)
	if err != nil {
		s.log.Errorw("load_trades_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load trades", err.Error())
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = s.tradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.balances()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, balances)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	if !s.app.Pair().HasAsset(asset) {
		respondError(w, http.StatusNotFound, "unknown asset", asset)
		return
	}
	b, err := s.balance(asset)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, b)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	eng := s.app.Engine()
	info := StateInfo{
		Symbol:      s.app.Pair().Symbol,
		StateHash:   eng.StateHash().Hex(),
		NextOrderID: eng.NextOrderID(),
		LastPrice:   eng.LastPrice(),
		BuyOrders:   len(eng.GetBuyOrders()),
		SellOrders:  len(eng.GetSellOrders()),
		Pending:     s.app.Pending(),
	}
	if p, ok := eng.BestPrice(orderbook.Buy); ok {
		info.BestBid = &p
	}
	if p, ok := eng.BestPrice(orderbook.Sell); ok {
		info.BestAsk = &p
	}
	respondJSON(w, info)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, ok := orderbook.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", "expected buy or sell")
		return
	}
	price := req.Price
	if req.PriceDecimal != "" {
		p, err := s.app.Pair().ParsePrice(req.PriceDecimal)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid price", err.Error())
			return
		}
		price = p
	}
	trader, ok := parseTrader(w, req.Trader)
	if !ok {
		return
	}

	cmd := spot.Command{Op: spot.OpBuy, Price: price, Qty: req.Quantity, Trader: trader}
	if side == orderbook.Sell {
		cmd.Op = spot.OpSell
	}
	s.execute(w, r, cmd)
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, ok := orderbook.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", "expected buy or sell")
		return
	}
	trader, ok := parseTrader(w, req.Trader)
	if !ok {
		return
	}

	cmd := spot.Command{Op: spot.OpMarketBuy, Qty: req.Quantity, Trader: trader}
	if side == orderbook.Sell {
		cmd.Op = spot.OpMarketSell
	}
	s.execute(w, r, cmd)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, ok := orderbook.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", "expected buy or sell")
		return
	}
	s.execute(w, r, spot.Command{Op: spot.OpCancel, Side: side, ID: req.OrderID})
}

func (s *Server) handleCustody(op spot.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CustodyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Asset) == "" {
			respondError(w, http.StatusBadRequest, "missing asset", "")
			return
		}
		s.execute(w, r, spot.Command{Op: op, Asset: req.Asset, Qty: req.Amount})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// execute runs cmd synchronously and reports the outcome with fresh balances.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd spot.Command) {
	out, err := s.app.Execute(r.Context(), cmd)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	s.log.Infow("command_applied", "command", out.Line, "journal_seq", out.JournalSeq)

	resp := OrderResponse{
		Command:    out.Line,
		JournalSeq: out.JournalSeq,
		Result:     out.Result,
	}
	if out.Cancelled != nil {
		info := s.orderInfo(-1, *out.Cancelled)
		resp.Cancelled = &info
	}
	if resp.Balances, err = s.balances(); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, resp)
}

// ==============================
// Broadcast Methods (called from app hooks)
// ==============================

func (s *Server) BroadcastTrade(t engine.Trade) {
	s.hub.BroadcastToChannel(ChannelTrades, WSMessage{Channel: ChannelTrades, Data: s.tradeInfo(t)})
}

func (s *Server) BroadcastBook() {
	s.hub.BroadcastToChannel(ChannelBook, WSMessage{Channel: ChannelBook, Data: s.bookSnapshot()})
}

// ==============================
// Views
// ==============================

func (s *Server) queue(side orderbook.Side) []orderbook.Order {
	if side == orderbook.Buy {
		return s.app.Engine().GetBuyOrders()
	}
	return s.app.Engine().GetSellOrders()
}

func (s *Server) bookSnapshot() BookSnapshot {
	eng := s.app.Engine()
	return BookSnapshot{
		Symbol:    s.app.Pair().Symbol,
		Buys:      s.orderInfos(eng.GetBuyOrders()),
		Sells:     s.orderInfos(eng.GetSellOrders()),
		Bids:      s.levels(eng.Depth(orderbook.Buy)),
		Asks:      s.levels(eng.Depth(orderbook.Sell)),
		LastPrice: eng.LastPrice(),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *Server) orderInfo(index int, o orderbook.Order) OrderInfo {
	return OrderInfo{
		Index:        index,
		OrderID:      o.ID,
		Side:         o.Side.String(),
		Trader:       o.Trader.Hex(),
		Price:        o.Price,
		PriceDecimal: s.app.Pair().FormatPrice(o.Price),
		Quantity:     o.Quantity,
	}
}

func (s *Server) orderInfos(orders []orderbook.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = s.orderInfo(i, o)
	}
	return out
}

func (s *Server) levels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{
			Price:        l.Price,
			PriceDecimal: s.app.Pair().FormatPrice(l.Price),
			Size:         l.Qty,
			Orders:       l.Orders,
		}
	}
	return out
}

func (s *Server) tradeInfo(t engine.Trade) TradeInfo {
	return TradeInfo{
		Trade:        t,
		PriceDecimal: s.app.Pair().FormatPrice(t.Price),
		TakerSideStr: t.TakerSide.String(),
	}
}

func (s *Server) balance(asset string) (BalanceInfo, error) {
	eng := s.app.Engine()
	avail, err := eng.BalanceOf(asset)
	if err != nil {
		return BalanceInfo{}, err
	}
	locked, err := eng.Locked(asset)
	if err != nil {
		return BalanceInfo{}, err
	}
	return BalanceInfo{Asset: asset, Available: avail, Locked: locked}, nil
}

func (s *Server) balances() ([]BalanceInfo, error) {
	var out []BalanceInfo
	for _, asset := range s.app.Pair().Assets() {
		b, err := s.balance(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func parseTrader(w http.ResponseWriter, s string) (*common.Address, bool) {
	if s == "" {
		return nil, true
	}
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid trader address", s)
		return nil, false
	}
	addr := common.HexToAddress(s)
	return &addr, true
}

// statusFor maps engine error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, spot.ErrBadCommand),
		errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrUnknownAsset),
		errors.Is(err, engine.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrIndexOutOfRange),
		errors.Is(err, engine.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoLiquidity):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, spot.ErrJournal):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, strings.ToLower(http.StatusText(status)), err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
