package spot

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeederConfig controls the synthetic command generator.
type FeederConfig struct {
	BatchSize   int           // commands per tick
	Interval    time.Duration // tick period
	NumTraders  int           // simulated trader addresses
	MidPrice    uint64        // scaled price the generator quotes around
	MaxQuantity uint64
	Seed        int64 // 0 seeds from the clock
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   5,
		Interval:    500 * time.Millisecond,
		NumTraders:  20,
		MidPrice:    100_000,
		MaxQuantity: 50_000,
	}
}

// Generator produces random but well-formed commands.
type Generator struct {
	traders []common.Address
	cfg     FeederConfig
	assets  [2]string // base, quote
	rng     *rand.Rand
	nextID  func() uint64 // upper bound for cancel targets
}

func NewGenerator(cfg FeederConfig, assets [2]string, nextID func() uint64) *Generator {
	if cfg.NumTraders <= 0 {
		cfg.NumTraders = 1
	}
	if cfg.MidPrice < 100 {
		cfg.MidPrice = 100
	}
	if cfg.MaxQuantity == 0 {
		cfg.MaxQuantity = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	traders := make([]common.Address, cfg.NumTraders)
	for i := range traders {
		traders[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
	}
	return &Generator{
		traders: traders,
		cfg:     cfg,
		assets:  assets,
		rng:     rand.New(rand.NewSource(seed)),
		nextID:  nextID,
	}
}

// Limit creates a limit order within ±5% of the mid price.
func (g *Generator) Limit() string {
	verb := "BUY"
	if g.rng.Intn(2) == 1 {
		verb = "SELL"
	}
	band := g.cfg.MidPrice / 20
	price := g.cfg.MidPrice - band + uint64(g.rng.Int63n(int64(2*band+1)))
	return fmt.Sprintf("%s %d %d %s", verb, price, g.quantity(), g.trader().Hex())
}

func (g *Generator) Market() string {
	verb := "MBUY"
	if g.rng.Intn(2) == 1 {
		verb = "MSELL"
	}
	return fmt.Sprintf("%s %d %s", verb, g.quantity(), g.trader().Hex())
}

// Cancel targets a recent order id; misses are expected and rejected by the engine.
func (g *Generator) Cancel() string {
	side := "BUY"
	if g.rng.Intn(2) == 1 {
		side = "SELL"
	}
	var id uint64
	if n := g.nextID(); n > 0 {
		lo := uint64(0)
		if n > 100 {
			lo = n - 100
		}
		id = lo + uint64(g.rng.Int63n(int64(n-lo)))
	}
	return fmt.Sprintf("CANCEL %s %d", side, id)
}

func (g *Generator) Deposit() string {
	asset := g.assets[g.rng.Intn(2)]
	return fmt.Sprintf("DEPOSIT %s %d", asset, g.quantity())
}

// Mix returns 70% limit orders, 10% market orders, 15% cancels and 5% deposits.
func (g *Generator) Mix() string {
	switch r := g.rng.Intn(100); {
	case r < 70:
		return g.Limit()
	case r < 80:
		return g.Market()
	case r < 95:
		return g.Cancel()
	default:
		return g.Deposit()
	}
}

func (g *Generator) Batch(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = g.Mix()
	}
	return out
}

func (g *Generator) trader() common.Address {
	return g.traders[g.rng.Intn(len(g.traders))]
}

func (g *Generator) quantity() uint64 {
	return 1 + uint64(g.rng.Int63n(int64(g.cfg.MaxQuantity)))
}

// StartFeeder submits a generated batch to app every interval until the
// returned cancel function is called or ctx ends.
func StartFeeder(ctx context.Context, app *App, cfg FeederConfig) context.CancelFunc {
	pair := app.Pair()
	gen := NewGenerator(cfg, [2]string{pair.BaseAsset, pair.QuoteAsset}, app.Engine().NextOrderID)
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		total := 0
		app.log.Infow("feeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval.String())

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				app.log.Infow("feeder_stopped",
					"submitted", total,
					"elapsed", elapsed.Round(time.Second).String(),
					"rate", float64(total)/elapsed.Seconds())
				return
			case <-ticker.C:
				for _, line := range gen.Batch(cfg.BatchSize) {
					if err := app.Submit(line); err != nil {
						app.log.Warnw("feeder_submit_failed", "command", line, "err", err)
						continue
					}
					total++
				}
			}
		}
	}()

	return cancel
}
