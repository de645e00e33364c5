package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantloop/signal"
)

func TestPaperAdapter_FillAppliesSlippageAndFee(t *testing.T) {
	p := NewPaperAdapter(100000)
	p.MarkPrice("BTCUSDT", decimal.NewFromInt(10000))
	ctx := context.Background()

	fill, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Buy, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NotEmpty(t, fill.OrderID)

	// 2 bps of slippage against the buyer.
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(10002)), "got %s", fill.Price)
	assert.True(t, fill.Notional.Equal(decimal.NewFromInt(10002)))
	assert.True(t, fill.Fee.IsPositive())

	positions, err := p.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, positions[0].AvgEntry.Equal(decimal.NewFromInt(10002)))

	account, err := p.Account(ctx)
	require.NoError(t, err)
	// Equity = cash + position marked at the last mark; only fee and slippage
	// have been lost so far.
	assert.InDelta(t, 100000-2-fill.Fee.InexactFloat64(), account.EquityUSD.InexactFloat64(), 0.01)
}

func TestPaperAdapter_RealizesPnLOnReduce(t *testing.T) {
	p := NewPaperAdapter(100000)
	p.MarkPrice("ETHUSDT", decimal.NewFromInt(2000))
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, "ETHUSDT", signal.Buy, decimal.NewFromInt(10))
	require.NoError(t, err)
	entry := decimal.NewFromFloat(2000.4) // 2000 + 2bps

	p.MarkPrice("ETHUSDT", decimal.NewFromInt(2200))
	_, err = p.PlaceOrder(ctx, "ETHUSDT", signal.Sell, decimal.NewFromInt(4))
	require.NoError(t, err)
	exit := decimal.NewFromFloat(2199.56) // 2200 - 2bps

	account, err := p.Account(ctx)
	require.NoError(t, err)
	wantRealized := exit.Sub(entry).Mul(decimal.NewFromInt(4))
	assert.True(t, account.RealizedPnL.Equal(wantRealized),
		"realized %s want %s", account.RealizedPnL, wantRealized)

	positions, err := p.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(6)))
	// Average cost of the remainder is unchanged by a partial reduce.
	assert.True(t, positions[0].AvgEntry.Equal(entry))
}

func TestPaperAdapter_ShortPositionPnL(t *testing.T) {
	p := NewPaperAdapter(100000)
	p.MarkPrice("BTCUSDT", decimal.NewFromInt(10000))
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Sell, decimal.NewFromInt(1))
	require.NoError(t, err)

	p.MarkPrice("BTCUSDT", decimal.NewFromInt(9000))
	require.NoError(t, p.ClosePosition(ctx, "BTCUSDT"))

	account, err := p.Account(ctx)
	require.NoError(t, err)
	// Sold at 9998 (slippage), covered at 9000.
	assert.True(t, account.RealizedPnL.Equal(decimal.NewFromInt(998)),
		"realized %s", account.RealizedPnL)
}

func TestPaperAdapter_ClosePositionIsIdempotent(t *testing.T) {
	p := NewPaperAdapter(100000)
	p.MarkPrice("BTCUSDT", decimal.NewFromInt(10000))
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Buy, decimal.NewFromInt(2))
	require.NoError(t, err)

	require.NoError(t, p.ClosePosition(ctx, "BTCUSDT"))
	positions, err := p.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	// Closing a flat symbol is a no-op, repeatedly.
	require.NoError(t, p.ClosePosition(ctx, "BTCUSDT"))
	require.NoError(t, p.ClosePosition(ctx, "BTCUSDT"))
}

func TestPaperAdapter_FailureInjection(t *testing.T) {
	p := NewPaperAdapter(100000)
	p.MarkPrice("BTCUSDT", decimal.NewFromInt(10000))
	ctx := context.Background()

	p.FailNext(1)
	_, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Buy, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrExecutionFailed)

	// The injected failure is consumed; the next order succeeds.
	_, err = p.PlaceOrder(ctx, "BTCUSDT", signal.Buy, decimal.NewFromInt(1))
	require.NoError(t, err)
}

func TestPaperAdapter_EdgeOrders(t *testing.T) {
	p := NewPaperAdapter(100000)
	p.MarkPrice("BTCUSDT", decimal.NewFromInt(10000))
	ctx := context.Background()

	// Zero quantity is a tolerated no-op.
	fill, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Buy, decimal.Zero)
	require.NoError(t, err)
	assert.Empty(t, fill.OrderID)

	_, err = p.PlaceOrder(ctx, "BTCUSDT", signal.Hold, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrExecutionFailed)

	_, err = p.PlaceOrder(ctx, "UNMARKED", signal.Buy, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrExecutionFailed)
}

func TestPaperAdapter_HealthToggle(t *testing.T) {
	p := NewPaperAdapter(1000)
	ctx := context.Background()
	assert.True(t, p.Health(ctx))
	p.SetHealthy(false)
	assert.False(t, p.Health(ctx))
	p.SetHealthy(true)
	assert.True(t, p.Health(ctx))
}
