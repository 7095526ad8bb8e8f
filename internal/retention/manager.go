// Package retention removes terminal state records that have outlived the
// retention period, optionally archiving them first. Only terminal records
// are ever touched: a task stuck in producing for a year is an operational
// problem, not garbage.
package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"taskmill/internal/config"
	"taskmill/internal/state"
)

// archiveEntry is one JSON line in an archive file: the record at removal
// time plus its full transition history.
type archiveEntry struct {
	ArchivedAt time.Time          `json:"archived_at"`
	Record     *state.StateRecord `json:"record"`
	History    []state.Transition `json:"history"`
}

// Manager sweeps expired terminal records on an interval.
type Manager struct {
	store state.Store
	cfg   config.RetentionConfig
}

// NewManager creates a retention Manager.
func NewManager(store state.Store, cfg config.RetentionConfig) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// Run sweeps on the configured interval until ctx is cancelled. The first
// sweep happens after one full interval, not at startup, so a crash-looping
// daemon cannot churn the archive directory.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval.Std()
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				log.Printf("retention: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("retention: removed %d expired records", n)
			}
		}
	}
}

// Sweep removes every terminal record whose last update is older than the
// retention period, archiving each before deletion when archival is
// enabled. Returns the number of records removed. Safe to call repeatedly:
// an already-removed record is simply absent from the next listing.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	recs, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing records: %w", err)
	}

	cutoff := time.Now().Add(-m.cfg.RetentionPeriod.Std())
	removed := 0

	for _, rec := range recs {
		if !rec.Phase.Terminal() || rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.remove(ctx, rec); err != nil {
			// Keep sweeping; a single bad record must not block the rest.
			log.Printf("retention: removing record for task %q: %v", rec.TaskID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// remove archives (when enabled) then deletes one record. The archive write
// completes before the delete so a crash between the two leaves a duplicate
// archive line, never a lost record.
func (m *Manager) remove(ctx context.Context, rec *state.StateRecord) error {
	if m.cfg.Archive.Enabled {
		history, err := m.store.History(ctx, rec.TaskID, 0)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		if err := m.archive(rec, history); err != nil {
			return fmt.Errorf("archiving: %w", err)
		}
	}
	if err := m.store.Delete(ctx, rec.TaskID); err != nil {
		return fmt.Errorf("deleting: %w", err)
	}
	return nil
}

// archive appends the record as one JSON line to the current day's archive
// file. Files are per-day so old archives can be pruned with plain rm.
func (m *Manager) archive(rec *state.StateRecord, history []state.Transition) error {
	if err := os.MkdirAll(m.cfg.Archive.Dir, 0o755); err != nil {
		return err
	}

	name := time.Now().UTC().Format("2006-01-02") + ".jsonl"
	if m.cfg.Archive.Compressed() {
		name += ".gz"
	}
	path := filepath.Join(m.cfg.Archive.Dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	entry := archiveEntry{ArchivedAt: time.Now().UTC(), Record: rec, History: history}

	if m.cfg.Archive.Compressed() {
		// Each entry is its own gzip member; concatenated members are a
		// valid gzip stream, so appends stay cheap.
		zw := gzip.NewWriter(f)
		if err := json.NewEncoder(zw).Encode(entry); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	return json.NewEncoder(f).Encode(entry)
}
