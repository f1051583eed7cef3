package engine

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/limitbook/pkg/app/core/market"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/util"
)

const initial = DefaultInitialBalance

var (
	maker = common.HexToAddress("0x1000000000000000000000000000000000000001")
	taker = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Operator = maker
	opts.Clock = &util.StepClock{Start: time.UnixMilli(1_700_000_000_000), Step: time.Millisecond}
	return New(market.DefaultPair(), opts)
}

func balances(t *testing.T, e *Engine) (base, quote uint64) {
	t.Helper()
	base, err := e.BalanceOf("BASE")
	require.NoError(t, err)
	quote, err = e.BalanceOf("QUOTE")
	require.NoError(t, err)
	return base, quote
}

func orderIDs(orders []orderbook.Order) []uint64 {
	ids := make([]uint64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestInitialState(t *testing.T) {
	e := newTestEngine(t)

	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial, quote)
	assert.Empty(t, e.GetBuyOrders())
	assert.Empty(t, e.GetSellOrders())
	assert.Equal(t, uint64(0), e.NextOrderID())

	_, err := e.BalanceOf("ETH")
	assert.True(t, errors.Is(err, ErrUnknownAsset))
}

func TestRejectsInvalidOrders(t *testing.T) {
	cases := []struct {
		name  string
		side  orderbook.Side
		price uint64
		qty   uint64
	}{
		{"buy zero price", orderbook.Buy, 0, 100},
		{"buy zero qty", orderbook.Buy, 100000, 0},
		{"sell zero price", orderbook.Sell, 0, 100},
		{"sell zero qty", orderbook.Sell, 100000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			before := e.StateHash()

			var err error
			if tc.side == orderbook.Buy {
				_, err = e.PlaceBuyOrder(maker, tc.price, tc.qty)
			} else {
				_, err = e.PlaceSellOrder(maker, tc.price, tc.qty)
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOrder))
			assert.Equal(t, before, e.StateHash())
			assert.Equal(t, uint64(0), e.NextOrderID())
		})
	}

	e := newTestEngine(t)
	_, err := e.BuyAtMarketPrice(maker, 0)
	assert.True(t, errors.Is(err, ErrInvalidOrder))
}

func TestFullCrossRestoresBalances(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	assert.True(t, res.Rested)
	assert.Equal(t, uint64(50), res.Locked)
	_, quote := balances(t, e)
	assert.Equal(t, initial-50, quote)

	res, err = e.PlaceSellOrder(taker, 100000, 50000)
	require.NoError(t, err)
	assert.False(t, res.Rested)
	assert.Equal(t, uint64(1), res.Order.ID)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, uint64(0), tr.MakerOrderID)
	assert.Equal(t, uint64(1), tr.TakerOrderID)
	assert.Equal(t, orderbook.Sell, tr.TakerSide)
	assert.Equal(t, uint64(100000), tr.Price)
	assert.Equal(t, uint64(50000), tr.Quantity)
	assert.Equal(t, uint64(50), tr.Notional)
	assert.Equal(t, maker, tr.Maker)
	assert.Equal(t, taker, tr.Taker)

	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial, quote)
	assert.Empty(t, e.GetBuyOrders())
	assert.Empty(t, e.GetSellOrders())
	assert.Equal(t, uint64(100000), e.LastPrice())
	require.NoError(t, e.CheckInvariants())
}

func TestPartialFillLeavesRestingBuy(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	res, err := e.PlaceSellOrder(taker, 100000, 20000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20000), res.Filled)
	assert.False(t, res.Rested)

	buy, err := e.BuyOrderAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), buy.ID)
	assert.Equal(t, uint64(30000), buy.Quantity)
	assert.Empty(t, e.GetSellOrders())

	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial-30, quote)

	locked, err := e.Locked("QUOTE")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), locked)
	require.NoError(t, e.CheckInvariants())
}

func TestPartialFillLeavesRestingSell(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceSellOrder(maker, 100000, 50000)
	require.NoError(t, err)
	res, err := e.PlaceBuyOrder(taker, 100000, 30000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30000), res.Filled)

	sell, err := e.SellOrderAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20000), sell.Quantity)
	assert.Empty(t, e.GetBuyOrders())

	base, quote := balances(t, e)
	assert.Equal(t, initial-20000, base)
	assert.Equal(t, initial, quote)
	require.NoError(t, e.CheckInvariants())
}

func TestNoCrossBothRest(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 80000, 50000)
	require.NoError(t, err)
	res, err := e.PlaceSellOrder(maker, 100000, 50000)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.True(t, res.Rested)

	assert.Len(t, e.GetBuyOrders(), 1)
	assert.Len(t, e.GetSellOrders(), 1)

	base, quote := balances(t, e)
	assert.Equal(t, initial-50000, base)
	assert.Equal(t, initial-40, quote)
}

func TestHeadInsertion(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	_, err = e.PlaceBuyOrder(maker, 80000, 50000)
	require.NoError(t, err)

	head, err := e.BuyOrderAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head.ID)
	assert.Equal(t, uint64(80000), head.Price)
	assert.Equal(t, orderbook.Buy, head.Side)
	assert.Equal(t, "BASE", head.BaseAsset)
	assert.Equal(t, "QUOTE", head.QuoteAsset)

	_, err = e.PlaceSellOrder(maker, 200000, 10)
	require.NoError(t, err)
	_, err = e.PlaceSellOrder(maker, 210000, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 2}, orderIDs(e.GetSellOrders()))

	_, err = e.SellOrderAt(2)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	_, err = e.BuyOrderAt(-1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestExecutesAtRestingPrice(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceSellOrder(maker, 80000, 50000)
	require.NoError(t, err)
	res, err := e.PlaceBuyOrder(taker, 100000, 50000)
	require.NoError(t, err)

	assert.Equal(t, uint64(50), res.Locked)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(80000), res.Trades[0].Price)
	assert.Equal(t, uint64(40), res.Trades[0].Notional)

	// the 10 quote difference between locked and settled notional stays spent
	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial-10, quote)
	require.NoError(t, e.CheckInvariants())
}

func TestSkipsNonCrossingHead(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceSellOrder(maker, 90000, 10000) // id 0
	require.NoError(t, err)
	_, err = e.PlaceSellOrder(maker, 120000, 10000) // id 1, head
	require.NoError(t, err)

	res, err := e.PlaceBuyOrder(taker, 100000, 10000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(0), res.Trades[0].MakerOrderID)
	assert.Equal(t, uint64(90000), res.Trades[0].Price)
	assert.Equal(t, []uint64{1}, orderIDs(e.GetSellOrders()))
}

func TestMultipleFillsKeepSurvivorOrder(t *testing.T) {
	e := newTestEngine(t)

	for _, price := range []uint64{100000, 120000, 95000, 130000} {
		_, err := e.PlaceSellOrder(maker, price, 10000)
		require.NoError(t, err)
	}
	// queue head first: 3@130000, 2@95000, 1@120000, 0@100000

	res, err := e.PlaceBuyOrder(taker, 100000, 20000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(2), res.Trades[0].MakerOrderID)
	assert.Equal(t, uint64(0), res.Trades[1].MakerOrderID)
	assert.Equal(t, uint64(res.Trades[0].Seq+1), res.Trades[1].Seq)

	assert.Equal(t, []uint64{3, 1}, orderIDs(e.GetSellOrders()))
	assert.Empty(t, e.GetBuyOrders())
	require.NoError(t, e.CheckInvariants())
}

func TestInsufficientBalanceIsAtomic(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceSellOrder(maker, market.DefaultDecimals, 100)
	require.NoError(t, err)
	before := e.StateHash()

	_, err = e.PlaceBuyOrder(taker, market.DefaultDecimals, 30_000_000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	assert.Equal(t, before, e.StateHash())
	assert.Equal(t, uint64(1), e.NextOrderID())
	sell, err := e.SellOrderAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sell.Quantity)
}

func TestNotionalOverflowIsInvalid(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, ^uint64(0), ^uint64(0))
	assert.True(t, errors.Is(err, ErrInvalidOrder))
	assert.Equal(t, uint64(0), e.NextOrderID())
}

func TestMarketSweepNoLiquidity(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.BuyAtMarketPrice(taker, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoLiquidity))
	assert.Contains(t, err.Error(), "no sell orders present")

	_, err = e.SellAtMarketPrice(taker, 100)
	assert.True(t, errors.Is(err, ErrNoLiquidity))
	assert.Contains(t, err.Error(), "no buy orders present")
}

func TestBuyAtMarketPricePartial(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceSellOrder(maker, 100000, 30000) // id 0
	require.NoError(t, err)
	_, err = e.PlaceSellOrder(maker, 90000, 20000) // id 1, head
	require.NoError(t, err)

	res, err := e.BuyAtMarketPrice(taker, 60000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), res.Filled)
	assert.Equal(t, uint64(10000), res.Unfilled)
	assert.False(t, res.Rested)
	require.Len(t, res.Trades, 2)

	assert.Equal(t, uint64(1), res.Trades[0].MakerOrderID)
	assert.Equal(t, uint64(90000), res.Trades[0].Price)
	assert.Equal(t, uint64(18), res.Trades[0].Notional)
	assert.Equal(t, uint64(0), res.Trades[1].MakerOrderID)
	assert.Equal(t, uint64(30), res.Trades[1].Notional)
	for _, tr := range res.Trades {
		assert.True(t, tr.MarketOrder)
	}

	assert.Empty(t, e.GetSellOrders())
	assert.Empty(t, e.GetBuyOrders(), "sweep remainder never rests")
	assert.Equal(t, uint64(2), e.NextOrderID(), "sweeps consume no order id")

	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial, quote)
	require.NoError(t, e.CheckInvariants())
}

func TestSellAtMarketPrice(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)

	res, err := e.SellAtMarketPrice(taker, 20000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.Unfilled)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(20), res.Trades[0].Notional)

	buy, err := e.BuyOrderAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(30000), buy.Quantity)

	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial-30, quote)
	require.NoError(t, e.CheckInvariants())
}

func TestSweepInsufficientBalanceIsAtomic(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceSellOrder(maker, 2*market.DefaultDecimals, 15_000_000)
	require.NoError(t, err)
	before := e.StateHash()

	_, err = e.BuyAtMarketPrice(taker, 15_000_000)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, before, e.StateHash())
	assert.Len(t, e.GetSellOrders(), 1)
}

func TestCancelOrderRefunds(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	_, err = e.PlaceSellOrder(maker, 200000, 7000)
	require.NoError(t, err)

	_, err = e.CancelOrder(orderbook.Sell, 0)
	assert.True(t, errors.Is(err, ErrOrderNotFound), "id 0 rests on the buy side")

	o, err := e.CancelOrder(orderbook.Buy, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), o.Quantity)

	o, err = e.CancelOrder(orderbook.Sell, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(200000), o.Price)

	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial, quote)
	assert.Empty(t, e.GetBuyOrders())
	assert.Empty(t, e.GetSellOrders())

	_, err = e.CancelOrder(orderbook.Buy, 0)
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestDepositWithdraw(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Deposit("BASE", 1000))
	assert.True(t, errors.Is(e.Deposit("ETH", 1), ErrUnknownAsset))
	assert.True(t, errors.Is(e.Deposit("BASE", 0), ErrInvalidAmount))

	// funds locked by a resting sell are not withdrawable
	_, err := e.PlaceSellOrder(maker, 100000, initial)
	require.NoError(t, err)
	require.NoError(t, e.Withdraw("BASE", 1000))
	assert.True(t, errors.Is(e.Withdraw("BASE", 1), ErrInsufficientBalance))

	base, _ := balances(t, e)
	assert.Equal(t, uint64(0), base)
	require.NoError(t, e.CheckInvariants())
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	_, err = e.PlaceSellOrder(maker, 150000, 10000)
	require.NoError(t, err)
	_, err = e.PlaceSellOrder(taker, 100000, 20000)
	require.NoError(t, err)
	require.NoError(t, e.Deposit("QUOTE", 99))

	snap := e.Snapshot()
	fresh := newTestEngine(t)
	require.NoError(t, fresh.Restore(snap))

	assert.Equal(t, e.StateHash(), fresh.StateHash())
	assert.Equal(t, e.GetBuyOrders(), fresh.GetBuyOrders())
	assert.Equal(t, e.GetSellOrders(), fresh.GetSellOrders())
	assert.Equal(t, e.NextOrderID(), fresh.NextOrderID())
	assert.Equal(t, e.LastPrice(), fresh.LastPrice())
	require.NoError(t, fresh.CheckInvariants())

	// the next placement continues the id sequence
	res, err := fresh.PlaceBuyOrder(maker, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Order.ID)
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	before := e.StateHash()

	snap := e.Snapshot()
	snap.Symbol = "ETH-USDC"
	assert.Error(t, e.Restore(snap))

	snap = e.Snapshot()
	snap.NextOrderID = 0
	assert.Error(t, e.Restore(snap))

	snap = e.Snapshot()
	snap.Buys = append(snap.Buys, snap.Buys[0])
	assert.Error(t, e.Restore(snap))

	assert.Equal(t, before, e.StateHash())
}

func TestStateHashTracksOperations(t *testing.T) {
	a, b := newTestEngine(t), newTestEngine(t)
	assert.Equal(t, a.StateHash(), b.StateHash())

	for _, e := range []*Engine{a, b} {
		_, err := e.PlaceBuyOrder(maker, 100000, 50000)
		require.NoError(t, err)
	}
	assert.Equal(t, a.StateHash(), b.StateHash())

	_, err := a.PlaceBuyOrder(maker, 100000, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.StateHash(), b.StateHash())
}

func TestOnTradeHookAndTradeIDs(t *testing.T) {
	var got []Trade
	opts := DefaultOptions()
	opts.OnTrade = func(tr Trade) { got = append(got, tr) }
	opts.Clock = &util.StepClock{Start: time.UnixMilli(1000)}
	e := New(market.DefaultPair(), opts)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = e.PlaceSellOrder(taker, 100000, 50000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, tradeID("BASE-QUOTE", 1), got[0].ID)
	assert.Equal(t, int64(1000), got[0].Timestamp)

	// same sequence on another engine yields the same id
	other := newTestEngine(t)
	_, _ = other.PlaceBuyOrder(maker, 100000, 50000)
	res, err := other.PlaceSellOrder(taker, 100000, 50000)
	require.NoError(t, err)
	assert.Equal(t, got[0].ID, res.Trades[0].ID)
}

func TestConcurrentPlacements(t *testing.T) {
	e := newTestEngine(t)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				price := uint64(100000 + (i%5)*1000)
				var err error
				if (w+i)%2 == 0 {
					_, err = e.PlaceBuyOrder(maker, price, 100)
				} else {
					_, err = e.PlaceSellOrder(taker, price, 100)
				}
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), e.NextOrderID())
	seen := make(map[uint64]bool)
	for _, o := range append(e.GetBuyOrders(), e.GetSellOrders()...) {
		assert.False(t, seen[o.ID], "duplicate id %d", o.ID)
		seen[o.ID] = true
	}
	require.NoError(t, e.CheckInvariants())
}

func TestSellExecutesAtRestingBuyPrice(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceBuyOrder(maker, 100000, 50000)
	require.NoError(t, err)
	res, err := e.PlaceSellOrder(taker, 80000, 50000)
	require.NoError(t, err)

	assert.Equal(t, uint64(50000), res.Locked)
	assert.False(t, res.Rested)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(100000), res.Trades[0].Price)
	assert.Equal(t, uint64(50), res.Trades[0].Notional)

	// the seller is paid at the buyer's price, so nothing is left over
	base, quote := balances(t, e)
	assert.Equal(t, initial, base)
	assert.Equal(t, initial, quote)
	require.NoError(t, e.CheckInvariants())
}

func TestSweepNotionalOverflowIsInvalid(t *testing.T) {
	opts := DefaultOptions()
	opts.Operator = maker
	opts.InitialBase = 1 << 40
	e := New(market.DefaultPair(), opts)

	_, err := e.PlaceSellOrder(maker, math.MaxUint64, 200_000_000)
	require.NoError(t, err)
	before := e.StateHash()

	_, err = e.BuyAtMarketPrice(taker, 200_000_000)
	assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)
	assert.Equal(t, before, e.StateHash())
	assert.Len(t, e.GetSellOrders(), 1)
}

func TestBestPrice(t *testing.T) {
	e := newTestEngine(t)
	_, ok := e.BestPrice(orderbook.Buy)
	assert.False(t, ok)

	for _, p := range []uint64{90000, 95000, 85000} {
		_, err := e.PlaceBuyOrder(maker, p, 10)
		require.NoError(t, err)
	}
	best, ok := e.BestPrice(orderbook.Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(95000), best)
}

func TestRestoreRejectsInflatedLedger(t *testing.T) {
	e := newTestEngine(t)
	before := e.StateHash()

	snap := e.Snapshot()
	snap.Ledger.Balances["BASE"] = initial + 1
	err := e.Restore(snap)
	assert.Error(t, err)
	assert.Equal(t, before, e.StateHash())
}
