package engine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/uhyunpark/limitbook/pkg/app/core/account"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// Snapshot is the complete engine state. Queues are stored head first.
type Snapshot struct {
	Symbol      string            `json:"symbol"`
	NextOrderID uint64            `json:"nextOrderId"`
	TradeSeq    uint64            `json:"tradeSeq"`
	LastPrice   uint64            `json:"lastPrice"`
	Ledger      account.State     `json:"ledger"`
	Buys        []orderbook.Order `json:"buys"`
	Sells       []orderbook.Order `json:"sells"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Symbol:      e.pair.Symbol,
		NextOrderID: e.nextOrderID,
		TradeSeq:    e.tradeSeq,
		LastPrice:   e.lastPrice,
		Ledger:      e.ledger.Export(),
		Buys:        e.book.Orders(orderbook.Buy),
		Sells:       e.book.Orders(orderbook.Sell),
	}
}

// Restore replaces the engine state with s. On error the engine is unchanged.
func (e *Engine) Restore(s Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.Symbol != e.pair.Symbol {
		return errors.Errorf("snapshot is for %s, engine trades %s", s.Symbol, e.pair.Symbol)
	}
	ledger, err := account.Import(s.Ledger)
	if err != nil {
		return errors.Wrap(err, "restore ledger")
	}
	for _, asset := range e.pair.Assets() {
		if _, err := ledger.Balance(asset); err != nil {
			return errors.Wrap(err, "restore ledger")
		}
	}
	if err := ledger.Validate(); err != nil {
		return errors.Wrap(err, "restore ledger")
	}
	for _, o := range append(append([]orderbook.Order{}, s.Buys...), s.Sells...) {
		if o.ID >= s.NextOrderID {
			return errors.Errorf("order %d is not below next id %d", o.ID, s.NextOrderID)
		}
	}
	book := orderbook.NewOrderBook()
	if err := book.Load(s.Buys, s.Sells); err != nil {
		return errors.Wrap(err, "restore book")
	}

	e.ledger = ledger
	e.book = book
	e.nextOrderID = s.NextOrderID
	e.tradeSeq = s.TradeSeq
	e.lastPrice = s.LastPrice

	e.log.Infow("engine_restored",
		"next_order_id", s.NextOrderID,
		"buys", len(s.Buys),
		"sells", len(s.Sells))
	return nil
}

// StateHash is a Keccak-256 digest of balances, the next order id and both
// queues in head-first order. Two engines that applied the same operations
// in the same order report the same hash.
func (e *Engine) StateHash() common.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf []byte
	u64 := func(v uint64) { buf = binary.BigEndian.AppendUint64(buf, v) }
	str := func(s string) {
		u64(uint64(len(s)))
		buf = append(buf, s...)
	}

	str(e.pair.Symbol)
	for _, asset := range e.ledger.Assets() {
		bal, _ := e.ledger.Balance(asset)
		str(asset)
		u64(bal)
	}
	u64(e.nextOrderID)
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		orders := e.book.Orders(side)
		u64(uint64(len(orders)))
		for _, o := range orders {
			u64(o.ID)
			buf = append(buf, o.Trader.Bytes()...)
			u64(o.Price)
			u64(o.Quantity)
		}
	}
	return crypto.Keccak256Hash(buf)
}
