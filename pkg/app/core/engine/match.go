package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/uhyunpark/limitbook/pkg/app/core/account"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// match is one planned fill against the opposite queue.
type match struct {
	index int // position in the opposite queue when the scan ran
	maker orderbook.Order
	qty   uint64
}

// scan walks the opposite queue head to tail and plans fills for qty.
// Limit orders skip resting orders that do not cross; sweeps take everything.
// The queue is not price-sorted, so a non-crossing entry never ends the scan.
func (e *Engine) scan(side orderbook.Side, price, qty uint64, sweep bool) []match {
	var plan []match
	for i, resting := range e.book.Orders(side.Opposite()) {
		if qty == 0 {
			break
		}
		if !sweep && !side.Crosses(price, resting.Price) {
			continue
		}
		m := min(qty, resting.Quantity)
		plan = append(plan, match{index: i, maker: resting, qty: m})
		qty -= m
	}
	return plan
}

// settle credits both legs of one fill to the staged ledger: the buyer's
// base and the seller's quote at the maker's price.
func (e *Engine) settle(staged *account.Ledger, m match) (uint64, error) {
	notional, err := e.pair.Notional(m.maker.Price, m.qty)
	if err != nil {
		return 0, err
	}
	if err := staged.Credit(e.pair.BaseAsset, m.qty); err != nil {
		return 0, err
	}
	if err := staged.Credit(e.pair.QuoteAsset, notional); err != nil {
		return 0, err
	}
	return notional, nil
}

// commit applies a validated plan to the book, swaps in the staged ledger and
// builds the trade records. Fills are applied from the highest index down so
// removals never shift an entry that is still to be filled.
func (e *Engine) commit(side orderbook.Side, taker common.Address, takerID uint64, sweep bool, plan []match, notionals []uint64, staged *account.Ledger) ([]Trade, error) {
	opposite := side.Opposite()
	for i := len(plan) - 1; i >= 0; i-- {
		if _, err := e.book.Fill(opposite, plan[i].index, plan[i].qty); err != nil {
			return nil, errors.Wrap(err, "apply fill")
		}
	}
	e.ledger = staged

	if len(plan) == 0 {
		return nil, nil
	}
	ts := e.clock.Now().UnixMilli()
	trades := make([]Trade, len(plan))
	for i, m := range plan {
		e.tradeSeq++
		trades[i] = Trade{
			ID:           tradeID(e.pair.Symbol, e.tradeSeq),
			Seq:          e.tradeSeq,
			Symbol:       e.pair.Symbol,
			TakerSide:    side,
			TakerOrderID: takerID,
			MarketOrder:  sweep,
			MakerOrderID: m.maker.ID,
			Taker:        taker,
			Maker:        m.maker.Trader,
			Price:        m.maker.Price,
			Quantity:     m.qty,
			Notional:     notionals[i],
			Timestamp:    ts,
		}
	}
	e.lastPrice = plan[len(plan)-1].maker.Price
	return trades, nil
}

// PlaceBuyOrder locks price×qty/D of quote, matches against resting sells
// priced at or below price, and rests any remainder at the head of the buy
// queue. Trades execute at the resting sell's price; the difference to the
// locked notional is not refunded.
func (e *Engine) PlaceBuyOrder(trader common.Address, price, qty uint64) (*Result, error) {
	return e.placeLimit(orderbook.Buy, trader, price, qty)
}

// PlaceSellOrder locks qty of base, matches against resting buys priced at or
// above price, and rests any remainder at the head of the sell queue. The
// seller is credited at the resting buy's price.
func (e *Engine) PlaceSellOrder(trader common.Address, price, qty uint64) (*Result, error) {
	return e.placeLimit(orderbook.Sell, trader, price, qty)
}

func (e *Engine) placeLimit(side orderbook.Side, trader common.Address, price, qty uint64) (*Result, error) {
	e.mu.Lock()
	res, err := e.placeLimitLocked(side, trader, price, qty)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit(res.Trades)
	return res, nil
}

func (e *Engine) placeLimitLocked(side orderbook.Side, trader common.Address, price, qty uint64) (*Result, error) {
	if price == 0 || qty == 0 {
		return nil, errors.Wrapf(ErrInvalidOrder, "%s price=%d qty=%d: price and quantity must be positive", side, price, qty)
	}

	staged := e.ledger.Clone()

	// Lock funds at the order's own price.
	var locked uint64
	var lockAsset string
	if side == orderbook.Buy {
		n, err := e.pair.Notional(price, qty)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOrder, "%s price=%d qty=%d: %v", side, price, qty, err)
		}
		locked, lockAsset = n, e.pair.QuoteAsset
	} else {
		locked, lockAsset = qty, e.pair.BaseAsset
	}
	if err := staged.Debit(lockAsset, locked); err != nil {
		return nil, err
	}

	plan := e.scan(side, price, qty, false)
	notionals := make([]uint64, len(plan))
	remaining := qty
	for i, m := range plan {
		n, err := e.settle(staged, m)
		if err != nil {
			return nil, err
		}
		notionals[i] = n
		remaining -= m.qty
	}

	// Nothing is mutated before this point.
	id := e.nextOrderID
	e.nextOrderID++

	trades, err := e.commit(side, trader, id, false, plan, notionals, staged)
	if err != nil {
		return nil, err
	}

	order := orderbook.Order{
		ID:         id,
		Side:       side,
		Trader:     trader,
		Price:      price,
		Quantity:   remaining,
		BaseAsset:  e.pair.BaseAsset,
		QuoteAsset: e.pair.QuoteAsset,
	}
	res := &Result{
		Order:  order,
		Trades: trades,
		Locked: locked,
		Filled: qty - remaining,
	}

	if remaining > 0 {
		resting := order
		var err error
		if side == orderbook.Buy {
			err = e.book.InsertBuy(&resting)
		} else {
			err = e.book.InsertSell(&resting)
		}
		if err != nil {
			return nil, errors.Wrap(err, "rest remainder")
		}
		res.Rested = true
	}

	e.log.Debugw("limit_order_placed",
		"side", side.String(),
		"order_id", id,
		"trader", trader.Hex(),
		"price", price,
		"qty", qty,
		"filled", res.Filled,
		"rested", res.Rested,
		"trades", len(trades))

	return res, nil
}
