package account

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrOverflow            = errors.New("balance overflow")
)

// Ledger tracks the available quantity of each asset the engine holds on
// behalf of its operator. Only assets registered at construction are tracked.
//
// Not safe for concurrent use; the engine serializes access.
type Ledger struct {
	balances  map[string]uint64
	deposited map[string]uint64 // cumulative external deposits (incl. genesis)
	withdrawn map[string]uint64
}

// NewLedger registers assets with their genesis balances.
func NewLedger(initial map[string]uint64) *Ledger {
	l := &Ledger{
		balances:  make(map[string]uint64, len(initial)),
		deposited: make(map[string]uint64, len(initial)),
		withdrawn: make(map[string]uint64, len(initial)),
	}
	for asset, amt := range initial {
		l.balances[asset] = amt
		l.deposited[asset] = amt
	}
	return l
}

// Balance returns the available quantity of asset.
func (l *Ledger) Balance(asset string) (uint64, error) {
	bal, ok := l.balances[asset]
	if !ok {
		return 0, errors.Wrap(ErrUnknownAsset, asset)
	}
	return bal, nil
}

// Credit adds amt to asset. Zero is a no-op.
func (l *Ledger) Credit(asset string, amt uint64) error {
	bal, ok := l.balances[asset]
	if !ok {
		return errors.Wrap(ErrUnknownAsset, asset)
	}
	if bal > math.MaxUint64-amt {
		return errors.Wrapf(ErrOverflow, "%s: have %d, credit %d", asset, bal, amt)
	}
	l.balances[asset] = bal + amt
	return nil
}

// Debit removes amt from asset, failing without change when the balance is short.
func (l *Ledger) Debit(asset string, amt uint64) error {
	bal, ok := l.balances[asset]
	if !ok {
		return errors.Wrap(ErrUnknownAsset, asset)
	}
	if bal < amt {
		return errors.Wrapf(ErrInsufficientBalance, "%s: have %d, need %d", asset, bal, amt)
	}
	l.balances[asset] = bal - amt
	return nil
}

// Deposit credits an external inflow from the custody collaborator.
func (l *Ledger) Deposit(asset string, amt uint64) error {
	if amt == 0 {
		return ErrInvalidAmount
	}
	if err := l.Credit(asset, amt); err != nil {
		return err
	}
	l.deposited[asset] += amt
	return nil
}

// Withdraw debits an external outflow.
func (l *Ledger) Withdraw(asset string, amt uint64) error {
	if amt == 0 {
		return ErrInvalidAmount
	}
	if err := l.Debit(asset, amt); err != nil {
		return err
	}
	l.withdrawn[asset] += amt
	return nil
}

// NetDeposits returns deposits minus withdrawals for asset, the upper bound
// that available plus locked balances may never exceed.
func (l *Ledger) NetDeposits(asset string) uint64 {
	return l.deposited[asset] - l.withdrawn[asset]
}

// Assets returns the tracked asset ids, sorted.
func (l *Ledger) Assets() []string {
	out := make([]string, 0, len(l.balances))
	for a := range l.balances {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Balances returns a copy of all available balances.
func (l *Ledger) Balances() map[string]uint64 {
	out := make(map[string]uint64, len(l.balances))
	for a, b := range l.balances {
		out[a] = b
	}
	return out
}

// Clone deep-copies the ledger so a placement can be staged and discarded.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		balances:  make(map[string]uint64, len(l.balances)),
		deposited: make(map[string]uint64, len(l.deposited)),
		withdrawn: make(map[string]uint64, len(l.withdrawn)),
	}
	for a, b := range l.balances {
		c.balances[a] = b
	}
	for a, b := range l.deposited {
		c.deposited[a] = b
	}
	for a, b := range l.withdrawn {
		c.withdrawn[a] = b
	}
	return c
}

// State is the serializable form of a ledger.
type State struct {
	Balances  map[string]uint64 `json:"balances"`
	Deposited map[string]uint64 `json:"deposited"`
	Withdrawn map[string]uint64 `json:"withdrawn"`
}

// Export captures the ledger for snapshots.
func (l *Ledger) Export() State {
	c := l.Clone()
	return State{Balances: c.balances, Deposited: c.deposited, Withdrawn: c.withdrawn}
}

// Import rebuilds a ledger from a snapshot.
func Import(s State) (*Ledger, error) {
	if len(s.Balances) == 0 {
		return nil, errors.New("ledger state has no assets")
	}
	l := NewLedger(s.Balances)
	for a := range l.deposited {
		l.deposited[a] = s.Deposited[a]
		l.withdrawn[a] = s.Withdrawn[a]
	}
	return l, nil
}

// Validate checks that no asset's available balance exceeds its net deposits.
func (l *Ledger) Validate() error {
	for a, bal := range l.balances {
		if l.withdrawn[a] > l.deposited[a] {
			return errors.Errorf("%s: withdrawn (%d) exceeds deposited (%d)", a, l.withdrawn[a], l.deposited[a])
		}
		if net := l.NetDeposits(a); bal > net {
			return errors.Errorf("%s: available (%d) exceeds net deposits (%d)", a, bal, net)
		}
	}
	return nil
}
