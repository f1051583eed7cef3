package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{"DEPOSIT BASE 10", KindCustody},
		{"withdraw QUOTE 5", KindCustody},
		{"CANCEL BUY 3", KindCancel},
		{"BUY 100000 50000", KindOrder},
		{"MSELL 10", KindOrder},
		{"", KindOrder},
		{"NOPE", KindOrder},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.line))
		})
	}
}

func TestSelectOrdersBuckets(t *testing.T) {
	m := NewMempool()
	m.Push("BUY 1 1")
	m.Push("CANCEL SELL 0")
	m.Push("SELL 2 2")
	m.Push("DEPOSIT BASE 5")
	m.Push("CANCEL BUY 1")

	assert.Equal(t, 5, m.Len())

	first := m.Select(3)
	assert.Equal(t, []string{"DEPOSIT BASE 5", "CANCEL SELL 0", "CANCEL BUY 1"}, first)
	assert.Equal(t, 2, m.Len())

	rest := m.Select(0)
	assert.Equal(t, []string{"BUY 1 1", "SELL 2 2"}, rest)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Select(10))
}
