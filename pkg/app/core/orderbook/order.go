package orderbook

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	}
	return 0, false
}

// Crosses reports whether an incoming order at price on side s trades
// against a resting counter-order at restingPrice.
func (s Side) Crosses(price, restingPrice uint64) bool {
	if s == Buy {
		return restingPrice <= price
	}
	return restingPrice >= price
}

// Order is a resting or incoming limit order.
// Quantity is the unfilled remainder and shrinks in place on partial fills.
type Order struct {
	ID         uint64         `json:"orderId"`
	Side       Side           `json:"side"`
	Trader     common.Address `json:"trader"`
	Price      uint64         `json:"price"`    // quote per base, scaled by D
	Quantity   uint64         `json:"quantity"` // base units remaining
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
}
