package market

import (
	"math/bits"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultDecimals is the fixed-point factor D applied to prices (1e8).
const DefaultDecimals uint64 = 100_000_000

var (
	ErrInvalidPair = errors.New("invalid pair")
	ErrOverflow    = errors.New("notional overflows uint64")
)

// Pair defines the single base/quote market an engine instance trades.
// Prices are quote-per-base scaled by Decimals; quantities are base units.
type Pair struct {
	Symbol     string // "BASE-QUOTE"
	BaseAsset  string // asset debited by sell orders
	QuoteAsset string // asset debited by buy orders
	Decimals   uint64 // D
}

// NewPair validates and builds a pair. An empty symbol is derived from the assets.
func NewPair(symbol, baseAsset, quoteAsset string, decimals uint64) (*Pair, error) {
	baseAsset = strings.TrimSpace(baseAsset)
	quoteAsset = strings.TrimSpace(quoteAsset)
	if baseAsset == "" || quoteAsset == "" {
		return nil, errors.Wrap(ErrInvalidPair, "base and quote assets are required")
	}
	if strings.EqualFold(baseAsset, quoteAsset) {
		return nil, errors.Wrapf(ErrInvalidPair, "base and quote must differ: %s", baseAsset)
	}
	if decimals == 0 {
		return nil, errors.Wrap(ErrInvalidPair, "decimal factor must be positive")
	}
	if symbol == "" {
		symbol = baseAsset + "-" + quoteAsset
	}
	return &Pair{
		Symbol:     symbol,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		Decimals:   decimals,
	}, nil
}

// DefaultPair is BASE/QUOTE at D = 1e8.
func DefaultPair() *Pair {
	p, _ := NewPair("BASE-QUOTE", "BASE", "QUOTE", DefaultDecimals)
	return p
}

// Notional returns price × qty / D, truncated. The 128-bit intermediate
// keeps large prices from wrapping before the division.
func (p *Pair) Notional(price, qty uint64) (uint64, error) {
	hi, lo := bits.Mul64(price, qty)
	if hi >= p.Decimals {
		return 0, errors.Wrapf(ErrOverflow, "price=%d qty=%d", price, qty)
	}
	quo, _ := bits.Div64(hi, lo, p.Decimals)
	return quo, nil
}

// HasAsset reports whether asset is one side of the pair.
func (p *Pair) HasAsset(asset string) bool {
	return asset == p.BaseAsset || asset == p.QuoteAsset
}

// Assets returns base then quote.
func (p *Pair) Assets() []string {
	return []string{p.BaseAsset, p.QuoteAsset}
}

// FormatPrice renders a scaled price as a human decimal, e.g. 100000 -> "0.001".
func (p *Pair) FormatPrice(price uint64) string {
	return decimal.NewFromUint64(price).
		Div(decimal.NewFromUint64(p.Decimals)).
		String()
}

// ParsePrice converts a human decimal into a scaled integer price.
// Digits beyond the decimal factor's precision are rejected rather than rounded.
func (p *Pair) ParsePrice(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "parse price %q", s)
	}
	scaled := d.Mul(decimal.NewFromUint64(p.Decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, errors.Errorf("price %q has more precision than the pair allows", s)
	}
	if scaled.Sign() <= 0 {
		return 0, errors.Errorf("price %q must be positive", s)
	}
	if !scaled.BigInt().IsUint64() {
		return 0, errors.Wrapf(ErrOverflow, "price %q", s)
	}
	return scaled.BigInt().Uint64(), nil
}
