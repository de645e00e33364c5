// exchange/paper.go
//
// PaperAdapter is the simulated venue used for paper trading and tests. It
// keeps a cash balance and weighted-average-cost positions, charges a taker
// fee, applies fixed slippage, and supports failure injection so tests can
// exercise the ExecutionFailed path deterministically.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantloop/logs"
	"quantloop/signal"
)

type paperPosition struct {
	qty     decimal.Decimal // signed
	avgCost decimal.Decimal
}

type PaperAdapter struct {
	mu sync.Mutex

	cash      decimal.Decimal
	realized  decimal.Decimal
	positions map[string]*paperPosition
	marks     map[string]decimal.Decimal

	feeRate     decimal.Decimal // fraction of notional
	slippageBps decimal.Decimal

	// Failure injection for tests and chaos runs.
	failNext  int
	unhealthy bool
}

func NewPaperAdapter(startingCashUSD float64) *PaperAdapter {
	return &PaperAdapter{
		cash:        decimal.NewFromFloat(startingCashUSD),
		positions:   make(map[string]*paperPosition),
		marks:       make(map[string]decimal.Decimal),
		feeRate:     decimal.NewFromFloat(0.0004), // 4 bps taker
		slippageBps: decimal.NewFromInt(2),
	}
}

// MarkPrice records the latest reference price for a symbol. Fills and
// position closes execute against the most recent mark.
func (p *PaperAdapter) MarkPrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	p.mu.Lock()
	p.marks[symbol] = price
	p.mu.Unlock()
}

// FailNext makes the next n orders and closes fail with ErrExecutionFailed.
func (p *PaperAdapter) FailNext(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

// SetHealthy toggles the simulated venue health.
func (p *PaperAdapter) SetHealthy(ok bool) {
	p.mu.Lock()
	p.unhealthy = !ok
	p.mu.Unlock()
}

func (p *PaperAdapter) Health(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unhealthy
}

func (p *PaperAdapter) PlaceOrder(ctx context.Context, symbol string, side signal.Side, quantity decimal.Decimal) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if quantity.IsZero() {
		return Fill{}, nil
	}
	if quantity.IsNegative() {
		return Fill{}, fmt.Errorf("%w: negative quantity %s", ErrExecutionFailed, quantity)
	}
	if side != signal.Buy && side != signal.Sell {
		return Fill{}, fmt.Errorf("%w: side %q is not tradable", ErrExecutionFailed, side)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext > 0 {
		p.failNext--
		return Fill{}, fmt.Errorf("%w: injected failure", ErrExecutionFailed)
	}
	mark, ok := p.marks[symbol]
	if !ok || !mark.IsPositive() {
		return Fill{}, fmt.Errorf("%w: no mark price for %s", ErrExecutionFailed, symbol)
	}

	// Slippage moves the fill against the taker.
	slip := mark.Mul(p.slippageBps).Div(decimal.NewFromInt(10000))
	price := mark.Add(slip)
	signedQty := quantity
	if side == signal.Sell {
		price = mark.Sub(slip)
		signedQty = quantity.Neg()
	}

	notional := quantity.Mul(price)
	fee := notional.Mul(p.feeRate)
	p.applyLocked(symbol, signedQty, price)
	p.cash = p.cash.Sub(fee)

	fill := Fill{
		OrderID:  uuid.New().String(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Notional: notional,
		Fee:      fee,
		Time:     time.Now().UTC(),
	}
	logs.Debugf("[PaperExchange] filled %s %s %s @ %s (fee %s)",
		side, quantity, symbol, price.StringFixed(4), fee.StringFixed(4))
	return fill, nil
}

// applyLocked books a signed fill quantity at price using weighted-average
// cost. Reducing or crossing a position realizes PnL on the closed part.
func (p *PaperAdapter) applyLocked(symbol string, signedQty, price decimal.Decimal) {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{qty: decimal.Zero, avgCost: decimal.Zero}
		p.positions[symbol] = pos
	}

	sameDirection := pos.qty.IsZero() || pos.qty.Sign() == signedQty.Sign()
	if sameDirection {
		// Extending: blend the average cost.
		newQty := pos.qty.Add(signedQty)
		cost := pos.avgCost.Mul(pos.qty.Abs()).Add(price.Mul(signedQty.Abs()))
		pos.avgCost = cost.DivRound(newQty.Abs(), 12)
		pos.qty = newQty
		p.cash = p.cash.Sub(price.Mul(signedQty))
		return
	}

	closing := decimal.Min(pos.qty.Abs(), signedQty.Abs())
	pnlPerUnit := price.Sub(pos.avgCost)
	if pos.qty.IsNegative() {
		pnlPerUnit = pos.avgCost.Sub(price)
	}
	p.realized = p.realized.Add(pnlPerUnit.Mul(closing))
	p.cash = p.cash.Sub(price.Mul(signedQty))

	remainder := pos.qty.Add(signedQty)
	if remainder.IsZero() {
		delete(p.positions, symbol)
		return
	}
	if remainder.Sign() == pos.qty.Sign() {
		// Partially reduced: average cost of the remainder is unchanged.
		pos.qty = remainder
		return
	}
	// Crossed through flat: the remainder is a fresh position at the fill price.
	pos.qty = remainder
	pos.avgCost = price
}

func (p *PaperAdapter) Account(_ context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for sym, pos := range p.positions {
		mark, ok := p.marks[sym]
		if !ok {
			mark = pos.avgCost
		}
		equity = equity.Add(pos.qty.Mul(mark))
	}
	return Account{CashUSD: p.cash, EquityUSD: equity, RealizedPnL: p.realized}, nil
}

func (p *PaperAdapter) Positions(_ context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for sym, pos := range p.positions {
		mark, ok := p.marks[sym]
		if !ok {
			mark = pos.avgCost
		}
		unrealized := mark.Sub(pos.avgCost).Mul(pos.qty)
		out = append(out, Position{
			Symbol:       sym,
			Quantity:     pos.qty,
			AvgEntry:     pos.avgCost,
			MarkPrice:    mark,
			UnrealizedPL: unrealized,
		})
	}
	return out, nil
}

func (p *PaperAdapter) ClosePosition(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok || pos.qty.IsZero() {
		return nil
	}
	if p.failNext > 0 {
		p.failNext--
		return fmt.Errorf("%w: injected failure closing %s", ErrExecutionFailed, symbol)
	}
	mark, ok := p.marks[symbol]
	if !ok || !mark.IsPositive() {
		mark = pos.avgCost
	}
	p.applyLocked(symbol, pos.qty.Neg(), mark)
	logs.Infof("[PaperExchange] closed position on %s @ %s", symbol, mark.StringFixed(4))
	return nil
}
