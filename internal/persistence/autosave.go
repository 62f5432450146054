// Package persistence periodically snapshots running paper sessions into
// the database, so a crash loses at most one interval of simulated fills.
package persistence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"strategy-core/internal/runner"
	"strategy-core/pkg/db"
)

// Autosaver sweeps all registered sessions on an interval and writes one
// paper-state row per paper session. Each sweep keeps only the most recent
// snapshots per strategy.
type Autosaver struct {
	DB       *db.Database
	Sessions *runner.Manager
	Interval time.Duration
	Keep     int // snapshots retained per strategy
}

// Start launches the sweep loop; it stops when ctx is cancelled.
func (a *Autosaver) Start(ctx context.Context) {
	interval := a.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if a.Keep <= 0 {
		a.Keep = 10
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.sweep(ctx)
			}
		}
	}()
}

func (a *Autosaver) sweep(ctx context.Context) {
	for strategyID, r := range a.Sessions.Sessions() {
		st, ok := r.SnapshotPaper()
		if !ok {
			continue
		}
		doc, err := json.Marshal(st)
		if err != nil {
			log.Printf("autosave: marshal state for %s: %v", strategyID, err)
			continue
		}
		rec := db.PaperState{ID: uuid.NewString(), StrategyID: strategyID, State: string(doc)}
		if err := a.DB.SavePaperState(ctx, rec); err != nil {
			log.Printf("autosave: save state for %s: %v", strategyID, err)
			continue
		}
		if err := a.DB.PrunePaperStates(ctx, strategyID, a.Keep); err != nil {
			log.Printf("autosave: prune states for %s: %v", strategyID, err)
		}
	}
}
