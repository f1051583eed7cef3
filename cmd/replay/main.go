package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/params"
	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
	"github.com/uhyunpark/limitbook/pkg/app/core/market"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/app/spot"
	"github.com/uhyunpark/limitbook/pkg/storage"
	"github.com/uhyunpark/limitbook/pkg/util"
)

func main() {
	envFile := flag.String("env", "", "optional .env file for pair and engine settings")
	journalPath := flag.String("journal", "", "command journal to replay (defaults to JOURNAL_FILE)")
	storePath := flag.String("store", "", "pebble store whose checkpoint the replay is verified against")
	verbose := flag.Bool("v", false, "log every engine event")
	flag.Parse()

	cfg, err := params.LoadFromEnv(*envFile)
	if err != nil {
		fail("config: %v", err)
	}
	if *journalPath == "" {
		*journalPath = cfg.Storage.JournalFile
	}

	logger, err := util.NewLogger(*verbose)
	if err != nil {
		fail("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	if !*verbose {
		sugar = zap.NewNop().Sugar()
	}

	pair, err := market.NewPair(cfg.Pair.Symbol, cfg.Pair.BaseAsset, cfg.Pair.QuoteAsset, cfg.Pair.Decimals)
	if err != nil {
		fail("pair: %v", err)
	}

	entries, err := storage.ReadJournal(*journalPath)
	if err != nil {
		fail("read journal: %v", err)
	}

	engOpts := engine.DefaultOptions()
	engOpts.Operator = cfg.OperatorAddress()
	engOpts.InitialBase = cfg.Engine.InitialBase
	engOpts.InitialQuote = cfg.Engine.InitialQuote
	// Timestamps are not part of the state hash.
	engOpts.Clock = &util.StepClock{}

	app := spot.NewApp(pair, spot.Options{Engine: engOpts, Logger: sugar})
	applied, failed := app.Replay(entries)
	eng := app.Engine()

	fmt.Printf("Journal: %s (%d entries, %d applied, %d rejected)\n\n", *journalPath, len(entries), applied, failed)
	printQueue(pair, "Buy orders", eng.GetBuyOrders())
	printQueue(pair, "Sell orders", eng.GetSellOrders())

	fmt.Println("Balances:")
	for _, asset := range pair.Assets() {
		avail, _ := eng.BalanceOf(asset)
		locked, _ := eng.Locked(asset)
		fmt.Printf("  %-8s available=%d locked=%d\n", asset, avail, locked)
	}
	fmt.Printf("\nNext order id: %d\n", eng.NextOrderID())
	fmt.Printf("Last price:    %s\n", pair.FormatPrice(eng.LastPrice()))
	fmt.Printf("State hash:    %s\n", eng.StateHash().Hex())

	if err := eng.CheckInvariants(); err != nil {
		fail("invariants violated: %v", err)
	}

	if *storePath != "" {
		verifyCheckpoint(*storePath, pair, engOpts, entries)
	}
}

// verifyCheckpoint replays the journal prefix covered by the stored
// checkpoint and compares the resulting hash with the recorded one.
func verifyCheckpoint(path string, pair *market.Pair, engOpts *engine.Options, entries []string) {
	store, err := storage.NewPebbleStore(path)
	if err != nil {
		fail("open store: %v", err)
	}
	defer store.Close()

	cp, ok, err := store.LoadCheckpoint(pair.Symbol)
	if err != nil {
		fail("load checkpoint: %v", err)
	}
	if !ok {
		fmt.Println("\nNo checkpoint stored for", pair.Symbol)
		return
	}
	if cp.JournalSeq > uint64(len(entries)) {
		fail("checkpoint covers %d entries, journal has %d", cp.JournalSeq, len(entries))
	}

	restored := engine.New(pair, engOpts)
	if err := restored.Restore(cp.Snapshot); err != nil {
		fail("restore checkpoint: %v", err)
	}
	prefix := spot.NewApp(pair, spot.Options{Engine: engOpts})
	prefix.Replay(entries[:cp.JournalSeq])

	fmt.Printf("\nCheckpoint at journal seq %d (%s)\n", cp.JournalSeq, cp.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  stored hash:   %s\n", cp.StateHash.Hex())
	fmt.Printf("  restored hash: %s\n", restored.StateHash().Hex())
	fmt.Printf("  replayed hash: %s\n", prefix.Engine().StateHash().Hex())
	if restored.StateHash() != cp.StateHash || prefix.Engine().StateHash() != cp.StateHash {
		fail("checkpoint hash mismatch")
	}
}

func printQueue(pair *market.Pair, title string, orders []orderbook.Order) {
	fmt.Printf("%s (%d, head first):\n", title, len(orders))
	for i, o := range orders {
		fmt.Printf("  [%d] id=%d price=%s qty=%d trader=%s\n", i, o.ID, pair.FormatPrice(o.Price), o.Quantity, o.Trader.Hex())
	}
	fmt.Println()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
