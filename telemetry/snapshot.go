// telemetry/snapshot.go
package telemetry

import "time"

// CycleSnapshot is published on TopicCycle after every decision tick.
type CycleSnapshot struct {
	Symbol            string    `json:"symbol"`
	CID               string    `json:"cid"`
	TickTime          time.Time `json:"tick_time"`
	DurationMS        int64     `json:"duration_ms"`
	State             string    `json:"state"`
	Side              string    `json:"side"`
	Strength          float64   `json:"strength"`
	Substituted       bool      `json:"substituted"`
	TTLLeft           int       `json:"ttl_left"`
	VetoML            bool      `json:"veto_ml"`
	VetoRisk          bool      `json:"veto_risk"`
	VetoReason        string    `json:"veto_reason,omitempty"`
	SizeUSD           float64   `json:"size_usd"`
	Filled            bool      `json:"filled"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// PortfolioSnapshot is published on TopicPortfolio by the orchestrator's
// aggregation pass.
type PortfolioSnapshot struct {
	Time              time.Time          `json:"time"`
	EquityUSD         float64            `json:"equity_usd"`
	CashUSD           float64            `json:"cash_usd"`
	RealizedPnL       float64            `json:"realized_pnl"`
	PortfolioNotional float64            `json:"portfolio_notional"`
	PerSymbolNotional map[string]float64 `json:"per_symbol_notional"`
	Panic             bool               `json:"panic"`
	KillSwitch        bool               `json:"kill_switch"`
}

// OpsEvent is published on TopicOps for operator-relevant incidents: watchdog
// escalations, breaker trips, flatten attempts.
type OpsEvent struct {
	Kind    string `json:"kind"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
}
