package api

import (
	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
)

// API response types for REST endpoints and WebSocket messages.
// Prices are scaled integers; the *Decimal fields render them for humans.

// ==============================
// REST Response Types
// ==============================

type PairInfo struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Decimals   uint64 `json:"decimals"` // price scale factor D
}

// OrderInfo is a resting order with its current queue position.
type OrderInfo struct {
	Index        int    `json:"index"`
	OrderID      uint64 `json:"orderId"`
	Side         string `json:"side"`
	Trader       string `json:"trader"`
	Price        uint64 `json:"price"`
	PriceDecimal string `json:"priceDecimal"`
	Quantity     uint64 `json:"quantity"`
}

type PriceLevel struct {
	Price        uint64 `json:"price"`
	PriceDecimal string `json:"priceDecimal"`
	Size         uint64 `json:"size"`
	Orders       int    `json:"orders"`
}

// BookSnapshot carries both raw queues (head first) and the aggregated depth.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Buys      []OrderInfo  `json:"buys"`
	Sells     []OrderInfo  `json:"sells"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	LastPrice uint64       `json:"lastPrice"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

type BalanceInfo struct {
	Asset     string `json:"asset"`
	Available uint64 `json:"available"`
	Locked    uint64 `json:"locked"` // held by resting orders
}

type TradeInfo struct {
	engine.Trade
	PriceDecimal string `json:"priceDecimal"`
	TakerSideStr string `json:"side"`
}

type StateInfo struct {
	Symbol      string `json:"symbol"`
	StateHash   string `json:"stateHash"`
	NextOrderID uint64 `json:"nextOrderId"`
	LastPrice   uint64 `json:"lastPrice"`
	BuyOrders   int    `json:"buyOrders"`
	SellOrders  int    `json:"sellOrders"`
	Pending     int    `json:"pendingCommands"`

	// Best prices across each whole queue; omitted when the side is empty.
	BestBid *uint64 `json:"bestBid,omitempty"`
	BestAsk *uint64 `json:"bestAsk,omitempty"`
}

type OrderResponse struct {
	Command    string         `json:"command"`
	JournalSeq uint64         `json:"journalSeq"`
	Result     *engine.Result `json:"result,omitempty"`
	Cancelled  *OrderInfo     `json:"cancelled,omitempty"`
	Balances   []BalanceInfo  `json:"balances"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest places a limit order. Price is the scaled integer; a
// non-empty PriceDecimal (e.g. "0.001") takes precedence over it.
type PlaceOrderRequest struct {
	Side         string `json:"side"` // "buy" or "sell"
	Price        uint64 `json:"price"`
	PriceDecimal string `json:"priceDecimal,omitempty"`
	Quantity     uint64 `json:"quantity"`
	Trader       string `json:"trader,omitempty"` // defaults to the operator
}

type MarketOrderRequest struct {
	Side     string `json:"side"`
	Quantity uint64 `json:"quantity"`
	Trader   string `json:"trader,omitempty"`
}

type CancelOrderRequest struct {
	Side    string `json:"side"`
	OrderID uint64 `json:"orderId"`
}

type CustodyRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// ==============================
// WebSocket Message Types
// ==============================

const (
	ChannelTrades = "trades"
	ChannelBook   = "book"
)

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["trades"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage wraps every pushed update.
type WSMessage struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}
