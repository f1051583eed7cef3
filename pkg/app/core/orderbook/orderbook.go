package orderbook

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrZeroQuantity    = errors.New("order quantity must be positive")
	ErrDuplicateOrder  = errors.New("duplicate order id")
)

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price  uint64 `json:"price"`
	Qty    uint64 `json:"qty"`
	Orders int    `json:"orders"`
}

// OrderBook holds the two resting queues of a single pair.
//
// New orders go to the head of their queue, so index 0 is always the most
// recently rested order on that side. Queues are not price-sorted.
// Not safe for concurrent use; the engine serializes access.
type OrderBook struct {
	buys  []*Order
	sells []*Order

	index map[uint64]Side // order ID -> side, for cancellation lookups
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		index: make(map[uint64]Side),
	}
}

func (ob *OrderBook) queue(side Side) *[]*Order {
	if side == Buy {
		return &ob.buys
	}
	return &ob.sells
}

// InsertBuy places o at the head of the buy queue.
func (ob *OrderBook) InsertBuy(o *Order) error { return ob.insert(Buy, o) }

// InsertSell places o at the head of the sell queue.
func (ob *OrderBook) InsertSell(o *Order) error { return ob.insert(Sell, o) }

func (ob *OrderBook) insert(side Side, o *Order) error {
	if o.Quantity == 0 {
		return ErrZeroQuantity
	}
	if _, exists := ob.index[o.ID]; exists {
		return errors.Wrapf(ErrDuplicateOrder, "id=%d", o.ID)
	}
	o.Side = side
	q := ob.queue(side)
	*q = append(*q, nil)
	copy((*q)[1:], *q)
	(*q)[0] = o
	ob.index[o.ID] = side
	return nil
}

// Get returns a copy of the order at index on side.
func (ob *OrderBook) Get(side Side, index int) (Order, error) {
	q := *ob.queue(side)
	if index < 0 || index >= len(q) {
		return Order{}, errors.Wrapf(ErrIndexOutOfRange, "%s index %d (len %d)", side, index, len(q))
	}
	return *q[index], nil
}

// RemoveAt deletes the order at index, shifting later entries down by one.
func (ob *OrderBook) RemoveAt(side Side, index int) (Order, error) {
	q := ob.queue(side)
	if index < 0 || index >= len(*q) {
		return Order{}, errors.Wrapf(ErrIndexOutOfRange, "%s index %d (len %d)", side, index, len(*q))
	}
	o := (*q)[index]
	copy((*q)[index:], (*q)[index+1:])
	(*q)[len(*q)-1] = nil
	*q = (*q)[:len(*q)-1]
	delete(ob.index, o.ID)
	return *o, nil
}

// Fill reduces the order at index by qty and removes it once exhausted.
// It returns the remaining quantity.
func (ob *OrderBook) Fill(side Side, index int, qty uint64) (uint64, error) {
	q := *ob.queue(side)
	if index < 0 || index >= len(q) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "%s index %d (len %d)", side, index, len(q))
	}
	o := q[index]
	if qty > o.Quantity {
		return 0, errors.Errorf("fill %d exceeds remaining %d on order %d", qty, o.Quantity, o.ID)
	}
	o.Quantity -= qty
	if o.Quantity == 0 {
		if _, err := ob.RemoveAt(side, index); err != nil {
			return 0, err
		}
	}
	return o.Quantity, nil
}

func (ob *OrderBook) Len(side Side) int {
	return len(*ob.queue(side))
}

// Orders returns copies of the queue, head first.
func (ob *OrderBook) Orders(side Side) []Order {
	q := *ob.queue(side)
	out := make([]Order, len(q))
	for i, o := range q {
		out[i] = *o
	}
	return out
}

// Find returns the side and current index of the order with id.
func (ob *OrderBook) Find(id uint64) (Side, int, bool) {
	side, ok := ob.index[id]
	if !ok {
		return 0, 0, false
	}
	for i, o := range *ob.queue(side) {
		if o.ID == id {
			return side, i, true
		}
	}
	return 0, 0, false
}

// Levels aggregates a side by price, best price first
// (highest for buys, lowest for sells).
func (ob *OrderBook) Levels(side Side) []PriceLevel {
	byPrice := make(map[uint64]*PriceLevel)
	for _, o := range *ob.queue(side) {
		lvl, ok := byPrice[o.Price]
		if !ok {
			lvl = &PriceLevel{Price: o.Price}
			byPrice[o.Price] = lvl
		}
		lvl.Qty += o.Quantity
		lvl.Orders++
	}

	levels := make([]PriceLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		levels = append(levels, *lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if side == Buy {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// BestPrice returns the highest resting buy or lowest resting sell.
func (ob *OrderBook) BestPrice(side Side) (uint64, bool) {
	q := *ob.queue(side)
	if len(q) == 0 {
		return 0, false
	}
	best := q[0].Price
	for _, o := range q[1:] {
		if (side == Buy && o.Price > best) || (side == Sell && o.Price < best) {
			best = o.Price
		}
	}
	return best, true
}

// Load replaces both queues with the given orders, preserving their order
// (head first). Used when restoring a snapshot.
func (ob *OrderBook) Load(buys, sells []Order) error {
	fresh := NewOrderBook()
	for _, set := range []struct {
		side   Side
		orders []Order
	}{{Buy, buys}, {Sell, sells}} {
		q := fresh.queue(set.side)
		for i := range set.orders {
			o := set.orders[i]
			if o.Quantity == 0 {
				return errors.Wrapf(ErrZeroQuantity, "order %d", o.ID)
			}
			if _, exists := fresh.index[o.ID]; exists {
				return errors.Wrapf(ErrDuplicateOrder, "id=%d", o.ID)
			}
			o.Side = set.side
			*q = append(*q, &o)
			fresh.index[o.ID] = set.side
		}
	}
	*ob = *fresh
	return nil
}
