package market

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPair(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		base     string
		quote    string
		decimals uint64
		wantErr  bool
	}{
		{name: "valid", symbol: "ETH-USDC", base: "ETH", quote: "USDC", decimals: DefaultDecimals},
		{name: "derived symbol", base: "ETH", quote: "USDC", decimals: 100},
		{name: "missing base", quote: "USDC", decimals: 100, wantErr: true},
		{name: "same asset", base: "ETH", quote: "eth", decimals: 100, wantErr: true},
		{name: "zero decimals", base: "ETH", quote: "USDC", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPair(tt.symbol, tt.base, tt.quote, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPair))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ETH-USDC", p.Symbol)
		})
	}
}

func TestNotional(t *testing.T) {
	p := DefaultPair()

	n, err := p.Notional(100000, 50000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), n)

	// truncates toward zero
	n, err = p.Notional(3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// 128-bit intermediate: the product overflows uint64 but the quotient fits
	n, err = p.Notional(math.MaxUint64, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/1_000_000), n)

	_, err = p.Notional(math.MaxUint64, math.MaxUint64)
	assert.True(t, errors.Is(err, ErrOverflow))
}

func TestPriceFormatting(t *testing.T) {
	p := DefaultPair()

	assert.Equal(t, "0.001", p.FormatPrice(100000))
	assert.Equal(t, "1", p.FormatPrice(DefaultDecimals))

	v, err := p.ParsePrice("0.0008")
	require.NoError(t, err)
	assert.Equal(t, uint64(80000), v)

	_, err = p.ParsePrice("0.000000001")
	assert.Error(t, err)
	_, err = p.ParsePrice("-1")
	assert.Error(t, err)
	_, err = p.ParsePrice("abc")
	assert.Error(t, err)
}

func TestHasAsset(t *testing.T) {
	p := DefaultPair()
	assert.True(t, p.HasAsset("BASE"))
	assert.True(t, p.HasAsset("QUOTE"))
	assert.False(t, p.HasAsset("ETH"))
	assert.Equal(t, []string{"BASE", "QUOTE"}, p.Assets())
}
