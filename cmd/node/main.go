package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/params"
	"github.com/uhyunpark/limitbook/pkg/api"
	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
	"github.com/uhyunpark/limitbook/pkg/app/core/market"
	"github.com/uhyunpark/limitbook/pkg/app/spot"
	"github.com/uhyunpark/limitbook/pkg/publisher"
	"github.com/uhyunpark/limitbook/pkg/storage"
	"github.com/uhyunpark/limitbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Storage.LogFile, cfg.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Storage.LogFile, "verbose", cfg.Verbose)

	pair, err := market.NewPair(cfg.Pair.Symbol, cfg.Pair.BaseAsset, cfg.Pair.QuoteAsset, cfg.Pair.Decimals)
	if err != nil {
		sugar.Fatalw("pair_invalid", "err", err)
	}

	// ---- Storage ----
	var store *storage.PebbleStore
	if cfg.Storage.Path == "" {
		store, err = storage.NewMemStore()
	} else {
		store, err = storage.NewPebbleStore(cfg.Storage.Path)
	}
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Storage.Path, "err", err)
	}
	defer store.Close()

	var entries []string
	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.JournalFile != "" {
		entries, err = storage.ReadJournal(cfg.Storage.JournalFile)
		if err != nil && !os.IsNotExist(errors.Cause(err)) {
			sugar.Fatalw("journal_read_failed", "path", cfg.Storage.JournalFile, "err", err)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalFile), 0o755); err != nil {
			sugar.Fatalw("journal_dir_failed", "err", err)
		}
		if journal, err = storage.NewFileJournal(cfg.Storage.JournalFile); err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalFile, "err", err)
		}
	}

	// ---- Trade publisher ----
	var pub publisher.TradePublisher = publisher.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, sugar)
		sugar.Infow("kafka_publisher_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- App ----
	engOpts := engine.DefaultOptions()
	engOpts.Operator = cfg.OperatorAddress()
	engOpts.InitialBase = cfg.Engine.InitialBase
	engOpts.InitialQuote = cfg.Engine.InitialQuote
	engOpts.Logger = sugar

	app := spot.NewApp(pair, spot.Options{
		Engine:    engOpts,
		Store:     store,
		Journal:   journal,
		Publisher: pub,
		Logger:    sugar,
	})
	defer func() {
		if err := app.Close(); err != nil {
			sugar.Warnw("app_close_failed", "err", err)
		}
	}()

	if _, err := app.Recover(entries); err != nil {
		sugar.Fatalw("recover_failed", "err", err)
	}
	if err := app.Engine().CheckInvariants(); err != nil {
		sugar.Fatalw("invariants_violated", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, sugar, cfg.API.CORSOrigins)
	app.OnTrade = apiServer.BroadcastTrade
	app.OnCommit = func(*spot.Outcome) { apiServer.BroadcastBook() }

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	// ---- Transaction Feeder (optional) ----
	if cfg.Feeder.Enabled {
		fcfg := spot.DefaultFeederConfig()
		fcfg.Interval = cfg.FeederInterval()
		fcfg.BatchSize = cfg.Feeder.Batch
		cancelFeeder := spot.StartFeeder(ctx, app, fcfg)
		defer cancelFeeder()
	} else {
		sugar.Info("txgen_disabled")
	}

	sugar.Infow("node_starting",
		"pair", pair.Symbol,
		"api_addr", cfg.API.Addr,
		"store", cfg.Storage.Path,
		"journal", cfg.Storage.JournalFile,
		"journal_seq", journal.Seq(),
		"state_hash", app.Engine().StateHash().Hex())

	go app.Run(ctx, cfg.BatchInterval(), cfg.Engine.BatchSize)

	checkpointLoop(ctx, app, cfg.Storage.CheckpointInterval, sugar)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	if _, err := app.Checkpoint(); err != nil {
		sugar.Errorw("final_checkpoint_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

// checkpointLoop blocks until ctx is done, saving a checkpoint every interval.
func checkpointLoop(ctx context.Context, app *spot.App, interval time.Duration, log *zap.SugaredLogger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Checkpoint(); err != nil {
				log.Errorw("checkpoint_failed", "err", err)
			}
		}
	}
}
