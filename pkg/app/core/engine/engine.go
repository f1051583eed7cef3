// Package engine implements the single-pair matching engine: limit placement
// with immediate crossing, market sweeps, cancellation and the custody
// entry points, all over one order book and one balance ledger.
package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/account"
	"github.com/uhyunpark/limitbook/pkg/app/core/market"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/util"
)

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrNoLiquidity         = errors.New("no liquidity")
	ErrOrderNotFound       = errors.New("order not found")
	ErrIndexOutOfRange     = orderbook.ErrIndexOutOfRange
	ErrInsufficientBalance = account.ErrInsufficientBalance
	ErrUnknownAsset        = account.ErrUnknownAsset
	ErrInvalidAmount       = account.ErrInvalidAmount
	ErrOverflow            = account.ErrOverflow
)

// DefaultInitialBalance is credited to both assets at construction.
const DefaultInitialBalance uint64 = 20_000_000

// Options configures an Engine.
type Options struct {
	Operator     common.Address // default trader for callers without a principal
	InitialBase  uint64
	InitialQuote uint64
	Clock        util.Clock
	Logger       *zap.SugaredLogger
	OnTrade      func(Trade) // called after a placement commits, outside the engine lock
}

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return &Options{
		InitialBase:  DefaultInitialBalance,
		InitialQuote: DefaultInitialBalance,
		Clock:        util.RealClock{},
		Logger:       zap.NewNop().Sugar(),
	}
}

// Engine owns one order book and one ledger. Every public method takes the
// engine lock for its whole duration, so placements are applied strictly one
// at a time and are either fully visible or not at all.
type Engine struct {
	mu sync.Mutex

	pair     *market.Pair
	operator common.Address
	book     *orderbook.OrderBook
	ledger   *account.Ledger

	nextOrderID uint64
	tradeSeq    uint64
	lastPrice   uint64

	clock   util.Clock
	log     *zap.SugaredLogger
	onTrade func(Trade)
}

// New builds an engine for pair. A nil opts uses DefaultOptions.
func New(pair *market.Pair, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Engine{
		pair:     pair,
		operator: opts.Operator,
		book:     orderbook.NewOrderBook(),
		ledger: account.NewLedger(map[string]uint64{
			pair.BaseAsset:  opts.InitialBase,
			pair.QuoteAsset: opts.InitialQuote,
		}),
		clock:   clock,
		log:     log.With("pair", pair.Symbol),
		onTrade: opts.OnTrade,
	}
}

func (e *Engine) Pair() *market.Pair { return e.pair }

func (e *Engine) Operator() common.Address { return e.operator }

// BalanceOf returns the available quantity of asset.
func (e *Engine) BalanceOf(asset string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance(asset)
}

// Balances returns all available balances.
func (e *Engine) Balances() map[string]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balances()
}

// GetBuyOrders returns the resting buy queue, head (most recent) first.
func (e *Engine) GetBuyOrders() []orderbook.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Orders(orderbook.Buy)
}

// GetSellOrders returns the resting sell queue, head (most recent) first.
func (e *Engine) GetSellOrders() []orderbook.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Orders(orderbook.Sell)
}

func (e *Engine) BuyOrderAt(index int) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Get(orderbook.Buy, index)
}

func (e *Engine) SellOrderAt(index int) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Get(orderbook.Sell, index)
}

// Depth aggregates one side by price, best first.
func (e *Engine) Depth(side orderbook.Side) []orderbook.PriceLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Levels(side)
}

// BestPrice returns the highest resting buy or the lowest resting sell;
// false when the side is empty.
func (e *Engine) BestPrice(side orderbook.Side) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.BestPrice(side)
}

// LastPrice returns the price of the most recent trade, 0 before any trade.
func (e *Engine) LastPrice() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPrice
}

// NextOrderID is the id the next limit placement will receive.
func (e *Engine) NextOrderID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextOrderID
}

// Locked returns the amount of asset held by resting orders: quote notional
// of resting buys at their own price, base quantity of resting sells.
func (e *Engine) Locked(asset string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockedAmount(asset)
}

func (e *Engine) lockedAmount(asset string) (uint64, error) {
	var total uint64
	switch asset {
	case e.pair.QuoteAsset:
		for _, o := range e.book.Orders(orderbook.Buy) {
			n, err := e.pair.Notional(o.Price, o.Quantity)
			if err != nil {
				return 0, err
			}
			total += n
		}
	case e.pair.BaseAsset:
		for _, o := range e.book.Orders(orderbook.Sell) {
			total += o.Quantity
		}
	default:
		return 0, errors.Wrap(ErrUnknownAsset, asset)
	}
	return total, nil
}

// CheckInvariants verifies that, for every asset, available plus locked
// never exceeds what was deposited net of withdrawals, and that no resting
// order has zero quantity.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		for _, o := range e.book.Orders(side) {
			if o.Quantity == 0 {
				return errors.Errorf("%s order %d rests with zero quantity", side, o.ID)
			}
			if o.ID >= e.nextOrderID {
				return errors.Errorf("%s order %d not below next id %d", side, o.ID, e.nextOrderID)
			}
		}
	}
	for _, asset := range e.pair.Assets() {
		avail, err := e.ledger.Balance(asset)
		if err != nil {
			return err
		}
		locked, err := e.lockedAmount(asset)
		if err != nil {
			return err
		}
		if net := e.ledger.NetDeposits(asset); avail+locked > net {
			return errors.Errorf("%s: available %d + locked %d exceeds net deposits %d", asset, avail, locked, net)
		}
	}
	return nil
}

func (e *Engine) emit(trades []Trade) {
	if e.onTrade == nil {
		return
	}
	for _, t := range trades {
		e.onTrade(t)
	}
}
