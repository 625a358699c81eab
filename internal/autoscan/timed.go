package autoscan

import (
	"context"
	"time"

	"contentdir/internal/cds"
)

// timedScan is the single-threaded per-directory scheduler of spec §4.6:
// nextFire = lastScan + interval, sleep to the earliest, submit a rescan,
// re-arm on completion.
type timedScan struct {
	stopCh chan struct{}
}

func (t *timedScan) stop() {
	close(t.stopCh)
}

func (e *Engine) armTimed(ctx context.Context, adir *cds.AutoscanDirectory) {
	e.mu.Lock()
	if existing, ok := e.timed[adir.ID]; ok {
		existing.stop()
	}
	t := &timedScan{stopCh: make(chan struct{})}
	e.timed[adir.ID] = t
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runTimed(ctx, adir, t)
}

func (e *Engine) runTimed(ctx context.Context, adir *cds.AutoscanDirectory, t *timedScan) {
	defer e.wg.Done()
	for {
		lastScan := time.Unix(adir.LastScanEpoch, 0)
		wait := time.Until(lastScan.Add(adir.Interval))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-t.stopCh:
			timer.Stop()
			return
		case <-e.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		adir.ScanInProgress = true
		err := e.mgr.RescanDirectory(ctx, adir, adir.ObjectID, adir.Location, true)
		adir.ScanInProgress = false
		adir.LastScanEpoch = e.clock.Now().Unix()
		if err != nil {
			adir.LastScanError = err.Error()
			e.log.Warn("timed rescan failed", "location", adir.Location, "error", err)
		} else {
			adir.LastScanError = ""
		}
		if uerr := e.storage.UpdateAutoscan(ctx, adir); uerr != nil {
			e.log.Warn("failed to persist autoscan state", "id", adir.ID, "error", uerr)
		}
	}
}
