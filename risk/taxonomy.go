// risk/taxonomy.go
package risk

// Stable reason strings shared by the risk engine, decision records and
// telemetry. Keep this list minimal; downstream consumers match on them.
const (
	ReasonOK          = "ok"
	ReasonHold        = "hold"
	ReasonExposureCap = "exposure_cap"
	ReasonPanic       = "panic"
	ReasonKillSwitch  = "kill_switch"
	ReasonDailyLoss   = "daily_loss"
	ReasonMLVeto      = "ml_veto"
	ReasonVolShock    = "vol_shock"
	ReasonDust        = "dust"
)
