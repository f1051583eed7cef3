package storage

import (
	"fmt"
)

// Key schema:
//
//	ckpt:<symbol>               → latest Checkpoint (gob)
//	trade:<symbol>:<8-byte seq> → Trade (JSON)
//
// Trade keys carry the engine's trade sequence big-endian so a prefix scan
// returns trades in execution order.
const (
	prefixCheckpoint = "ckpt:"
	prefixTrade      = "trade:"
)

func checkpointKey(symbol string) []byte {
	return []byte(prefixCheckpoint + symbol)
}

// Format: "trade:{symbol}:{seq}"
func tradeKey(symbol string, seq uint64) []byte {
	return append(tradePrefix(symbol), seqBytes(seq)...)
}

func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
