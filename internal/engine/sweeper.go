package engine

import (
	"log"
	"time"

	"github.com/wavetp/kgraph/internal/event"
)

// throttleWindow bounds how often the post-ingest default-policy sweep runs
// per namespace. The guard is in-process only; concurrent processes can race
// past it, which is fine because sweeps are idempotent.
const throttleWindow = 10 * time.Minute

// StartSweeper runs a rule-driven retention sweep now and then on the
// configured interval until Stop.
func (e *Engine) StartSweeper() {
	e.runSweep()

	go func() {
		ticker := time.NewTicker(e.Retention.SweepInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runSweep()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}

func (e *Engine) runSweep() {
	if deleted, err := e.SweepRules(); err != nil {
		log.Printf("retention sweep error: %v", err)
	} else if deleted > 0 {
		log.Printf("retention sweep: deleted %d rows", deleted)
	}
}

// SweepRules applies every kg_retention rule plus cookie expiry and returns
// the total rows deleted. Sweeping with nothing to delete is a correct no-op.
func (e *Engine) SweepRules() (int64, error) {
	rules, err := e.DB.ListRetentionRules()
	if err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	var total int64
	for _, r := range rules {
		cutoff := now - int64(r.Days)*dayMS
		n, err := e.DB.DeleteEventsOlderThan(r.KG, r.Type, r.Kind, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}

	n, err := e.DB.DeleteExpiredCookies(now)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

// SweepDefaults applies the hard-coded per-namespace default policy: visits
// and habit cookies past the configured age.
func (e *Engine) SweepDefaults(kg event.KG) (int64, error) {
	now := time.Now().UnixMilli()

	visitCutoff := now - int64(e.Retention.VisitDaysFor(string(kg)))*dayMS
	deleted, err := e.DB.DeleteEventsOlderThan(string(kg), "visit", nil, visitCutoff)
	if err != nil {
		return deleted, err
	}

	if days := e.Retention.CookieDays; days > 0 {
		n, err := e.DB.DeleteCookiesOlderThan(string(kg), now-int64(days)*dayMS)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// maybeSweepDefaults runs SweepDefaults for a namespace at most once per
// throttle window. Errors are logged and swallowed — retention must never
// fail an otherwise-valid ingestion call.
func (e *Engine) maybeSweepDefaults(kg event.KG) {
	e.mu.Lock()
	last := e.lastSweep[kg]
	now := time.Now()
	if now.Sub(last) < throttleWindow {
		e.mu.Unlock()
		return
	}
	e.lastSweep[kg] = now
	e.mu.Unlock()

	if deleted, err := e.SweepDefaults(kg); err != nil {
		log.Printf("default sweep %s error: %v", kg, err)
	} else if deleted > 0 {
		log.Printf("default sweep %s: deleted %d rows", kg, deleted)
	}
}
