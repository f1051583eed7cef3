package engine

import (
	"github.com/pkg/errors"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// Deposit credits an inflow of one of the pair's assets.
func (e *Engine) Deposit(asset string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pair.HasAsset(asset) {
		return errors.Wrap(ErrUnknownAsset, asset)
	}
	if err := e.ledger.Deposit(asset, amount); err != nil {
		return errors.Wrapf(err, "deposit %d %s", amount, asset)
	}
	e.log.Infow("deposit", "asset", asset, "amount", amount)
	return nil
}

// Withdraw releases available balance. Funds locked by resting orders are
// not available and cannot be withdrawn until the order is cancelled.
func (e *Engine) Withdraw(asset string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pair.HasAsset(asset) {
		return errors.Wrap(ErrUnknownAsset, asset)
	}
	if err := e.ledger.Withdraw(asset, amount); err != nil {
		return errors.Wrapf(err, "withdraw %d %s", amount, asset)
	}
	e.log.Infow("withdraw", "asset", asset, "amount", amount)
	return nil
}

// CancelOrder removes the resting order id from side and returns its lock to
// the ledger: quote notional at the order's price for buys, base quantity
// for sells.
func (e *Engine) CancelOrder(side orderbook.Side, id uint64) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	found, idx, ok := e.book.Find(id)
	if !ok || found != side {
		return orderbook.Order{}, errors.Wrapf(ErrOrderNotFound, "%s order %d", side, id)
	}
	o, err := e.book.Get(side, idx)
	if err != nil {
		return orderbook.Order{}, err
	}

	asset, refund := e.pair.BaseAsset, o.Quantity
	if side == orderbook.Buy {
		asset = e.pair.QuoteAsset
		if refund, err = e.pair.Notional(o.Price, o.Quantity); err != nil {
			return orderbook.Order{}, err
		}
	}
	// Stage the credit so an overflow leaves the order resting.
	staged := e.ledger.Clone()
	if err := staged.Credit(asset, refund); err != nil {
		return orderbook.Order{}, err
	}
	if _, err := e.book.RemoveAt(side, idx); err != nil {
		return orderbook.Order{}, err
	}
	e.ledger = staged

	e.log.Infow("order_cancelled",
		"side", side.String(),
		"order_id", id,
		"refund_asset", asset,
		"refund", refund)
	return o, nil
}
