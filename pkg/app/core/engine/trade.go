package engine

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// tradeNamespace seeds name-based trade ids so a replayed journal yields
// the same ids as the live run.
var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("limitbook/trade"))

// Trade is one match between an incoming (taker) order and a resting
// (maker) order. Price is always the maker's price.
type Trade struct {
	ID           string         `json:"id"`
	Seq          uint64         `json:"seq"`
	Symbol       string         `json:"symbol"`
	TakerSide    orderbook.Side `json:"takerSide"`
	TakerOrderID uint64         `json:"takerOrderId"`
	MarketOrder  bool           `json:"marketOrder"` // taker was a sweep and has no order id
	MakerOrderID uint64         `json:"makerOrderId"`
	Taker        common.Address `json:"taker"`
	Maker        common.Address `json:"maker"`
	Price        uint64         `json:"price"`
	Quantity     uint64         `json:"quantity"`
	Notional     uint64         `json:"notional"` // Price × Quantity / D
	Timestamp    int64          `json:"timestamp"` // unix ms
}

func tradeID(symbol string, seq uint64) string {
	return uuid.NewSHA1(tradeNamespace, []byte(symbol+":"+strconv.FormatUint(seq, 10))).String()
}

// Result reports the outcome of one placement or sweep.
type Result struct {
	// Order is the incoming order with its remaining quantity. For sweeps it
	// carries no id and Price is zero.
	Order  orderbook.Order `json:"order"`
	Trades []Trade         `json:"trades"`
	Rested bool            `json:"rested"`
	// Locked is what the placement debited up front: quote notional at the
	// order's own price for buys, base quantity for sells.
	Locked   uint64 `json:"locked"`
	Filled   uint64 `json:"filled"`
	Unfilled uint64 `json:"unfilled"` // sweeps only: quantity left when liquidity ran out
}
