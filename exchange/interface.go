// exchange/interface.go
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"quantloop/signal"
)

// ErrExecutionFailed is the transient order failure. Callers treat it as
// retryable on a later tick; it must never be folded into exposure.
var ErrExecutionFailed = errors.New("order execution failed")

// Fill is the confirmed result of an order.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     signal.Side
	Quantity decimal.Decimal // unsigned
	Price    decimal.Decimal
	Notional decimal.Decimal // unsigned, Quantity * Price
	Fee      decimal.Decimal
	Time     time.Time
}

// Position is one open position on the venue.
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal // signed: positive long, negative short
	AvgEntry     decimal.Decimal
	MarkPrice    decimal.Decimal
	UnrealizedPL decimal.Decimal
}

// Account is a point-in-time account summary.
type Account struct {
	CashUSD     decimal.Decimal
	EquityUSD   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Adapter is the venue boundary. Implementations must be safe for concurrent
// use: per-symbol cycles and the watchdog call it from different goroutines.
type Adapter interface {
	// PlaceOrder executes a market order. A zero quantity is a no-op and
	// returns an empty fill with no error.
	PlaceOrder(ctx context.Context, symbol string, side signal.Side, quantity decimal.Decimal) (Fill, error)
	Account(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]Position, error)
	// ClosePosition flattens one symbol. Closing an already-flat symbol is a
	// no-op, which is what makes flatten-all retries idempotent.
	ClosePosition(ctx context.Context, symbol string) error
	// Health reports whether the venue connection is usable.
	Health(ctx context.Context) bool
}
