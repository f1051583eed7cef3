package mempool

import (
	"strings"
	"sync"
)

// Kind buckets pending commands for batch ordering.
type Kind int

const (
	KindCustody Kind = iota // DEPOSIT, WITHDRAW
	KindCancel
	KindOrder // limit and market orders
)

// Classify buckets a command line by its verb. Unknown verbs count as
// orders so they fail in the engine's parser, not here.
func Classify(line string) Kind {
	verb, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToUpper(verb) {
	case "DEPOSIT", "WITHDRAW":
		return KindCustody
	case "CANCEL":
		return KindCancel
	default:
		return KindOrder
	}
}

// Mempool holds submitted commands until the next batch is applied.
// A batch drains custody first, then cancels, then orders; within a bucket
// commands keep their admission order.
type Mempool struct {
	mu      sync.Mutex
	custody []string
	cancel  []string
	orders  []string
}

func NewMempool() *Mempool {
	return &Mempool{}
}

func (m *Mempool) Push(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch Classify(line) {
	case KindCustody:
		m.custody = append(m.custody, line)
	case KindCancel:
		m.cancel = append(m.cancel, line)
	default:
		m.orders = append(m.orders, line)
	}
}

// Select removes and returns up to limit commands in batch order.
// limit <= 0 drains everything.
func (m *Mempool) Select(limit int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	pull := func(q *[]string) {
		for len(*q) > 0 {
			if limit > 0 && len(out) >= limit {
				return
			}
			out = append(out, (*q)[0])
			*q = (*q)[1:]
		}
	}
	pull(&m.custody)
	pull(&m.cancel)
	pull(&m.orders)
	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.custody) + len(m.cancel) + len(m.orders)
}
