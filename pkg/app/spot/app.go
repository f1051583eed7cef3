// Package spot is the application layer around the matching engine: it
// parses commands, journals accepted ones, persists and publishes trades,
// and checkpoints engine state.
package spot

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
	"github.com/uhyunpark/limitbook/pkg/app/core/market"
	"github.com/uhyunpark/limitbook/pkg/app/core/mempool"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/publisher"
	"github.com/uhyunpark/limitbook/pkg/storage"
)

var (
	ErrNoStore = errors.New("no store configured")
	// ErrJournal means an applied command could not be journaled. The engine
	// is then ahead of the journal, so the app refuses further commands and
	// checkpoints until it is restarted and recovered.
	ErrJournal = errors.New("journal append failed")
	// ErrReplayDiverged means a journaled command was rejected on replay.
	ErrReplayDiverged = errors.New("journal replay diverged")
)

// Store is the persistence the app needs; *storage.PebbleStore implements it.
type Store interface {
	SaveCheckpoint(cp storage.Checkpoint) error
	LoadCheckpoint(symbol string) (storage.Checkpoint, bool, error)
	SaveTrades(trades []engine.Trade) error
	RecentTrades(symbol string, limit int) ([]engine.Trade, error)
}

type Options struct {
	Engine    *engine.Options
	Store     Store                    // nil keeps recent trades in memory only
	Journal   storage.Journal          // nil disables journaling
	Publisher publisher.TradePublisher // nil disables publishing
	Logger    *zap.SugaredLogger
	// MemoryTrades bounds the in-memory trade history used without a Store.
	MemoryTrades int
}

// Outcome describes one applied command.
type Outcome struct {
	Command    Command          `json:"-"`
	Line       string           `json:"command"`
	JournalSeq uint64           `json:"journalSeq"`
	Result     *engine.Result   `json:"result,omitempty"`    // orders and sweeps
	Cancelled  *orderbook.Order `json:"cancelled,omitempty"` // CANCEL
}

type App struct {
	mu sync.Mutex // orders engine execution with journal appends

	engine  *engine.Engine
	pair    *market.Pair
	store   Store
	journal storage.Journal
	pub     publisher.TradePublisher
	pending *mempool.Mempool
	log     *zap.SugaredLogger

	recent    []engine.Trade // newest last; used when store is nil
	recentCap int
	halted    error // set once a journal append fails

	// Hooks, set before the app starts serving.
	OnTrade  func(engine.Trade)
	OnCommit func(*Outcome)
}

func NewApp(pair *market.Pair, opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	engOpts := opts.Engine
	if engOpts == nil {
		engOpts = engine.DefaultOptions()
	}
	if engOpts.Logger == nil {
		engOpts.Logger = log
	}
	journal := opts.Journal
	if journal == nil {
		journal = storage.NewNopJournal()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = publisher.NopPublisher{}
	}
	recentCap := opts.MemoryTrades
	if recentCap <= 0 {
		recentCap = 1000
	}

	return &App{
		engine:    engine.New(pair, engOpts),
		pair:      pair,
		store:     opts.Store,
		journal:   journal,
		pub:       pub,
		pending:   mempool.NewMempool(),
		log:       log,
		recentCap: recentCap,
	}
}

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Pair() *market.Pair { return a.pair }

// Apply parses line and executes it.
func (a *App) Apply(ctx context.Context, line string) (*Outcome, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return a.Execute(ctx, cmd)
}

// Execute runs cmd against the engine. Accepted commands are journaled in
// canonical form with the trader resolved, so a replay is exact.
func (a *App) Execute(ctx context.Context, cmd Command) (*Outcome, error) {
	a.mu.Lock()
	if a.halted != nil {
		a.mu.Unlock()
		return nil, a.halted
	}
	out, err := a.execute(cmd)
	if err != nil {
		a.mu.Unlock()
		a.log.Debugw("command_rejected", "command", cmd.String(), "err", err)
		return nil, err
	}
	seq, err := a.journal.Append(out.Line)
	if err != nil {
		a.halted = errors.Wrapf(ErrJournal, "%s: %v", out.Line, err)
		a.mu.Unlock()
		a.log.Errorw("journal_append_failed", "command", out.Line, "err", err)
		return nil, a.halted
	}
	out.JournalSeq = seq
	a.recordTrades(out)
	a.mu.Unlock()

	a.fanOut(ctx, out)
	return out, nil
}

// execute applies cmd to the engine without journaling. Callers hold a.mu.
func (a *App) execute(cmd Command) (*Outcome, error) {
	switch cmd.Op {
	case OpBuy, OpSell, OpMarketBuy, OpMarketSell:
		if cmd.Trader == nil {
			op := a.engine.Operator()
			cmd.Trader = &op
		}
	}

	out := &Outcome{Command: cmd}
	var err error
	switch cmd.Op {
	case OpBuy:
		out.Result, err = a.engine.PlaceBuyOrder(*cmd.Trader, cmd.Price, cmd.Qty)
	case OpSell:
		out.Result, err = a.engine.PlaceSellOrder(*cmd.Trader, cmd.Price, cmd.Qty)
	case OpMarketBuy:
		out.Result, err = a.engine.BuyAtMarketPrice(*cmd.Trader, cmd.Qty)
	case OpMarketSell:
		out.Result, err = a.engine.SellAtMarketPrice(*cmd.Trader, cmd.Qty)
	case OpCancel:
		var o orderbook.Order
		if o, err = a.engine.CancelOrder(cmd.Side, cmd.ID); err == nil {
			out.Cancelled = &o
		}
	case OpDeposit:
		err = a.engine.Deposit(cmd.Asset, cmd.Qty)
	case OpWithdraw:
		err = a.engine.Withdraw(cmd.Asset, cmd.Qty)
	default:
		err = errors.Wrapf(ErrBadCommand, "unknown op %q", cmd.Op)
	}
	if err != nil {
		return nil, err
	}
	out.Line = cmd.String()
	return out, nil
}

func (a *App) recordTrades(out *Outcome) {
	if out.Result == nil || len(out.Result.Trades) == 0 {
		return
	}
	trades := out.Result.Trades
	if a.store != nil {
		if err := a.store.SaveTrades(trades); err != nil {
			a.log.Errorw("trade_save_failed", "trades", len(trades), "err", err)
		}
		return
	}
	a.recent = append(a.recent, trades...)
	if over := len(a.recent) - a.recentCap; over > 0 {
		a.recent = append(a.recent[:0], a.recent[over:]...)
	}
}

func (a *App) fanOut(ctx context.Context, out *Outcome) {
	if out.Result != nil && len(out.Result.Trades) > 0 {
		trades := out.Result.Trades
		for _, t := range trades {
			a.log.Infow("trade_executed",
				"seq", t.Seq,
				"price", t.Price,
				"qty", t.Quantity,
				"taker_side", t.TakerSide.String(),
				"maker_order_id", t.MakerOrderID)
		}
		if err := a.pub.Publish(ctx, trades); err != nil {
			a.log.Warnw("trade_publish_failed", "trades", len(trades), "err", err)
		}
		if a.OnTrade != nil {
			for _, t := range trades {
				a.OnTrade(t)
			}
		}
	}
	if a.OnCommit != nil {
		a.OnCommit(out)
	}
}

// RecentTrades returns up to limit trades, newest first.
func (a *App) RecentTrades(limit int) ([]engine.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	if a.store != nil {
		return a.store.RecentTrades(a.pair.Symbol, limit)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]engine.Trade, 0, min(limit, len(a.recent)))
	for i := len(a.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.recent[i])
	}
	return out, nil
}

// Submit queues a command for the next batch. The line is validated now so
// malformed input never reaches the queue.
func (a *App) Submit(line string) error {
	if _, err := ParseCommand(line); err != nil {
		return err
	}
	a.pending.Push(line)
	return nil
}

func (a *App) Pending() int { return a.pending.Len() }

// ProcessPending applies up to limit queued commands in batch order and
// reports how many were accepted and rejected.
func (a *App) ProcessPending(ctx context.Context, limit int) (applied, rejected int) {
	for _, line := range a.pending.Select(limit) {
		if _, err := a.Apply(ctx, line); err != nil {
			rejected++
			continue
		}
		applied++
	}
	return applied, rejected
}

// Run drains the queue every interval until ctx is done.
func (a *App) Run(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if applied, rejected := a.ProcessPending(ctx, batch); applied+rejected > 0 {
				a.log.Debugw("batch_applied", "applied", applied, "rejected", rejected, "pending", a.pending.Len())
			}
		}
	}
}

// Checkpoint persists the engine snapshot with the journal position it covers.
func (a *App) Checkpoint() (storage.Checkpoint, error) {
	if a.store == nil {
		return storage.Checkpoint{}, ErrNoStore
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.halted != nil {
		return storage.Checkpoint{}, a.halted
	}

	cp := storage.Checkpoint{
		Snapshot:   a.engine.Snapshot(),
		JournalSeq: a.journal.Seq(),
		StateHash:  a.engine.StateHash(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveCheckpoint(cp); err != nil {
		return storage.Checkpoint{}, err
	}
	a.log.Infow("checkpoint_saved",
		"journal_seq", cp.JournalSeq,
		"state_hash", cp.StateHash.Hex(),
		"next_order_id", cp.Snapshot.NextOrderID)
	return cp, nil
}

// Recover restores the latest checkpoint, if any, then replays the journal
// entries written after it. It returns the number of entries replayed.
func (a *App) Recover(entries []string) (int, error) {
	var from uint64
	if a.store != nil {
		cp, ok, err := a.store.LoadCheckpoint(a.pair.Symbol)
		if err != nil {
			return 0, err
		}
		if ok {
			if err := a.engine.Restore(cp.Snapshot); err != nil {
				return 0, errors.Wrap(err, "restore checkpoint")
			}
			if got := a.engine.StateHash(); got != cp.StateHash {
				return 0, errors.Errorf("checkpoint hash mismatch: stored %s, restored %s", cp.StateHash.Hex(), got.Hex())
			}
			from = cp.JournalSeq
		}
	}
	if from > uint64(len(entries)) {
		return 0, errors.Errorf("checkpoint covers %d journal entries, journal has %d", from, len(entries))
	}
	replayed, failed := a.Replay(entries[from:])
	if failed > 0 {
		return replayed, errors.Wrapf(ErrReplayDiverged, "%d of %d entries after seq %d rejected", failed, len(entries)-int(from), from)
	}
	a.log.Infow("state_recovered",
		"checkpoint_seq", from,
		"replayed", replayed,
		"state_hash", a.engine.StateHash().Hex())
	return replayed, nil
}

// Replay applies journal entries without re-journaling or publishing them.
func (a *App) Replay(entries []string) (applied, failed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, line := range entries {
		cmd, err := ParseCommand(line)
		if err == nil {
			var out *Outcome
			if out, err = a.execute(cmd); err == nil {
				a.recordTrades(out)
				applied++
				continue
			}
		}
		failed++
		a.log.Warnw("replay_entry_failed", "command", line, "err", err)
	}
	return applied, failed
}

// Close flushes the publisher and journal.
func (a *App) Close() error {
	var errs []error
	if err := a.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Errorf("close app: %v", errs)
	}
	return nil
}
