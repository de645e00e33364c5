// breaker/breaker.go
//
// Trading circuit breakers: the operator/watchdog kill switch and the daily
// loss breaker. Both are sticky and only a human resets them.
package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantloop/logs"
)

// killState is the on-disk shape of the kill switch.
type killState struct {
	Engaged bool      `json:"engaged"`
	Reason  string    `json:"reason,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// KillSwitch is a file-backed latch that blocks all new entries once engaged.
// It survives restarts: a watchdog that killed trading overnight stays killed
// until an operator resets it.
type KillSwitch struct {
	mu    sync.RWMutex
	state killState
	path  string
}

// NewKillSwitch loads (or initializes) the kill switch state under dir.
func NewKillSwitch(dir string) (*KillSwitch, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	k := &KillSwitch{path: filepath.Join(dir, "kill_switch.json")}

	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return k, nil
		}
		return nil, fmt.Errorf("failed to read kill switch state: %w", err)
	}
	if err := json.Unmarshal(data, &k.state); err != nil {
		return nil, fmt.Errorf("kill switch state file is corrupt: %w", err)
	}
	if k.state.Engaged {
		logs.Warnf("[KillSwitch] loaded ENGAGED state from disk (reason: %s, since: %s) - trading blocked until reset",
			k.state.Reason, k.state.Since.Format(time.RFC3339))
	}
	return k, nil
}

// Engage latches the switch. Engaging an already-engaged switch is a no-op so
// repeated watchdog escalations do not overwrite the original reason.
func (k *KillSwitch) Engage(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state.Engaged {
		return
	}
	k.state = killState{Engaged: true, Reason: reason, Since: time.Now().UTC()}
	logs.Errorf("[KillSwitch] ENGAGED: %s", reason)
	if err := k.saveLocked(); err != nil {
		// The in-memory latch still holds; losing persistence only matters
		// across a restart.
		logs.Errorf("[KillSwitch] failed to persist state: %v", err)
	}
}

// Reset clears the latch. This is the only way out.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.state.Engaged {
		return
	}
	k.state = killState{}
	logs.Warn("[KillSwitch] reset by operator, trading re-enabled")
	if err := k.saveLocked(); err != nil {
		logs.Errorf("[KillSwitch] failed to persist state: %v", err)
	}
}

// Engaged reports whether the switch is latched.
func (k *KillSwitch) Engaged() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Engaged
}

// Reason returns the reason recorded when the switch was engaged.
func (k *KillSwitch) Reason() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Reason
}

// saveLocked writes the state atomically: tmp file then rename, so a crash
// mid-write never leaves a corrupt state file behind.
func (k *KillSwitch) saveLocked() error {
	data, err := json.MarshalIndent(k.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal kill switch state: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("failed to rename temp state file: %w", err)
	}
	return nil
}

// DailyBreaker trips when equity falls more than lossPct percent below the
// day's starting equity. The day rolls over at UTC midnight; the trip itself
// is sticky within the day and cleared only by Reset or the rollover.
type DailyBreaker struct {
	mu          sync.RWMutex
	day         string
	startEquity decimal.Decimal
	lossPct     float64
	tripped     bool
}

func NewDailyBreaker(lossPct float64) *DailyBreaker {
	return &DailyBreaker{lossPct: lossPct}
}

// Observe records the current equity and returns true when the breaker is
// (or becomes) tripped. A lossPct of zero disables the breaker.
func (d *DailyBreaker) Observe(now time.Time, equity decimal.Decimal) bool {
	if d.lossPct <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if day != d.day {
		d.day = day
		d.startEquity = equity
		d.tripped = false
		return false
	}
	if d.tripped {
		return true
	}
	if !d.startEquity.IsPositive() {
		return false
	}

	drawdown := d.startEquity.Sub(equity).
		Div(d.startEquity).
		Mul(decimal.NewFromInt(100))
	if drawdown.GreaterThanOrEqual(decimal.NewFromFloat(d.lossPct)) {
		d.tripped = true
		logs.Errorf("[DailyBreaker] TRIPPED: equity %s is down %s%% from day start %s (limit %.2f%%)",
			equity, drawdown.StringFixed(2), d.startEquity, d.lossPct)
	}
	return d.tripped
}

// Tripped reports the current latch without observing new equity.
func (d *DailyBreaker) Tripped() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tripped
}

// Reset clears the trip within the current day.
func (d *DailyBreaker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tripped {
		d.tripped = false
		logs.Warn("[DailyBreaker] reset by operator")
	}
}
