package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// BuyAtMarketPrice consumes resting sells head to tail, regardless of price,
// until qty is filled or the sell queue runs out. Each fill pays the resting
// sell's price. Whatever cannot be filled is dropped, never rested.
func (e *Engine) BuyAtMarketPrice(trader common.Address, qty uint64) (*Result, error) {
	return e.sweep(orderbook.Buy, trader, qty)
}

// SellAtMarketPrice consumes resting buys head to tail, regardless of price.
// Each fill is credited at the resting buy's price.
func (e *Engine) SellAtMarketPrice(trader common.Address, qty uint64) (*Result, error) {
	return e.sweep(orderbook.Sell, trader, qty)
}

func (e *Engine) sweep(side orderbook.Side, trader common.Address, qty uint64) (*Result, error) {
	e.mu.Lock()
	res, err := e.sweepLocked(side, trader, qty)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit(res.Trades)
	return res, nil
}

func (e *Engine) sweepLocked(side orderbook.Side, trader common.Address, qty uint64) (*Result, error) {
	if qty == 0 {
		return nil, errors.Wrapf(ErrInvalidOrder, "market %s: quantity must be positive", side)
	}
	if e.book.Len(side.Opposite()) == 0 {
		return nil, errors.Wrapf(ErrNoLiquidity, "no %s orders present", side.Opposite())
	}

	plan := e.scan(side, 0, qty, true)
	staged := e.ledger.Clone()
	notionals := make([]uint64, len(plan))
	var filled uint64
	for i, m := range plan {
		n, err := e.pair.Notional(m.maker.Price, m.qty)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOrder, "market %s qty=%d at %d: %v", side, m.qty, m.maker.Price, err)
		}
		// The taker pays for each fill before both legs are credited.
		if side == orderbook.Buy {
			err = staged.Debit(e.pair.QuoteAsset, n)
		} else {
			err = staged.Debit(e.pair.BaseAsset, m.qty)
		}
		if err != nil {
			return nil, err
		}
		if notionals[i], err = e.settle(staged, m); err != nil {
			return nil, err
		}
		filled += m.qty
	}

	trades, err := e.commit(side, trader, 0, true, plan, notionals, staged)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Order: orderbook.Order{
			Side:       side,
			Trader:     trader,
			Quantity:   qty - filled,
			BaseAsset:  e.pair.BaseAsset,
			QuoteAsset: e.pair.QuoteAsset,
		},
		Trades:   trades,
		Filled:   filled,
		Unfilled: qty - filled,
	}

	e.log.Debugw("market_order_swept",
		"side", side.String(),
		"trader", trader.Hex(),
		"qty", qty,
		"filled", filled,
		"unfilled", res.Unfilled,
		"trades", len(trades))

	return res, nil
}
