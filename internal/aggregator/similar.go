package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/urlnorm"
)

// KeyMergeLog is the store key holding recent similar-URL merges.
const KeyMergeLog = "merges"

// MaxMergeRecords bounds the merge log.
const MaxMergeRecords = 100

// Audit actions written by the aggregator.
const (
	ActionMerge     = "merge"
	ActionMergeUndo = "merge_undo"
)

var (
	ErrMergeNotFound = errors.New("merge record not found")
	ErrMergeUndone   = errors.New("merge already undone")
)

// SimilarOptions tunes near-duplicate URL consolidation.
type SimilarOptions struct {
	Similarity  urlnorm.Similarity
	Threshold   float64
	MaxSessions int
	Disabled    bool
}

func (o SimilarOptions) withDefaults() SimilarOptions {
	if o.Similarity == nil {
		o.Similarity = urlnorm.PathSimilarity
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.8
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = 3
	}
	return o
}

// MergeRecord describes one consolidation and holds what is needed to
// reverse it.
type MergeRecord struct {
	ID            string             `json:"id"`
	At            int64              `json:"at"`
	Primary       string             `json:"primary"`
	Duplicate     string             `json:"duplicate"`
	Score         float64            `json:"score"`
	PrimaryBefore *pageview.PageView `json:"primaryBefore"`
	DuplicatePage *pageview.PageView `json:"duplicatePage"`
	Undone        bool               `json:"undone,omitempty"`
}

// FindAndMergeSimilarURLs folds pages with few sessions into a similar
// page on the same host. The page with more sessions survives; on a tie
// the one first visited earlier does.
func (a *Aggregator) FindAndMergeSimilarURLs(ctx context.Context) ([]MergeRecord, error) {
	if a.similar.Disabled {
		return nil, nil
	}
	now := a.now().UnixMilli()
	var records []MergeRecord

	err := a.repo.Update(ctx, func(pages pageview.Pages) (bool, error) {
		keys := make([]string, 0, len(pages))
		for k := range pages {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, ck := range keys {
			c, ok := pages[ck]
			if !ok || len(c.Sessions) > a.similar.MaxSessions {
				continue
			}
			for _, otherKey := range keys {
				o, ok := pages[otherKey]
				if !ok || otherKey == ck || o.Hostname != c.Hostname {
					continue
				}
				score := a.similar.Similarity.Score(c.NormalizedURL, o.NormalizedURL)
				if score < a.similar.Threshold {
					continue
				}
				primary, dup := c, o
				if survives(o, c) {
					primary, dup = o, c
				}
				rec := MergeRecord{
					ID:            uuid.NewString(),
					At:            now,
					Primary:       primary.NormalizedURL,
					Duplicate:     dup.NormalizedURL,
					Score:         score,
					PrimaryBefore: primary.Clone(),
					DuplicatePage: dup.Clone(),
				}
				for _, s := range dup.Sessions {
					primary.AddSession(s, a.gap)
				}
				primary.UpdateMetadata(dup.PageTitle, dup.FaviconURL)
				delete(pages, dup.NormalizedURL)
				records = append(records, rec)
				break
			}
		}
		return len(records) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	for _, rec := range records {
		a.logger.Info("merged similar urls", "id", rec.ID, "primary", rec.Primary, "duplicate", rec.Duplicate, "score", rec.Score)
		a.auditf(ctx, ActionMerge, rec.Duplicate, "merged into %s (id=%s score=%.2f)", rec.Primary, rec.ID, rec.Score)
	}
	if err := a.appendMergeLog(ctx, records); err != nil {
		return records, err
	}
	return records, nil
}

// survives reports whether a should be kept over b.
func survives(a, b *pageview.PageView) bool {
	if len(a.Sessions) != len(b.Sessions) {
		return len(a.Sessions) > len(b.Sessions)
	}
	if a.FirstVisited != b.FirstVisited {
		return a.FirstVisited < b.FirstVisited
	}
	return a.NormalizedURL < b.NormalizedURL
}

// MergeLog returns recorded merges, newest last.
func (a *Aggregator) MergeLog(ctx context.Context) ([]MergeRecord, error) {
	var log []MergeRecord
	if _, err := a.store.Get(ctx, KeyMergeLog, &log); err != nil {
		return nil, fmt.Errorf("load merge log: %w", err)
	}
	return log, nil
}

func (a *Aggregator) appendMergeLog(ctx context.Context, records []MergeRecord) error {
	log, err := a.MergeLog(ctx)
	if err != nil {
		return err
	}
	log = append(log, records...)
	if len(log) > MaxMergeRecords {
		log = log[len(log)-MaxMergeRecords:]
	}
	if err := a.store.SetNow(ctx, KeyMergeLog, log); err != nil {
		return fmt.Errorf("save merge log: %w", err)
	}
	return nil
}

// UndoMerge splits a merged page back into the two pages it came from.
// Sessions recorded on the surviving page after the merge stay there.
// Restored sessions older than the retention horizon are dropped, and
// nothing is restored once the surviving page has been deleted.
func (a *Aggregator) UndoMerge(ctx context.Context, id string) error {
	log, err := a.MergeLog(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i := range log {
		if log[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrMergeNotFound, id)
	}
	rec := log[idx]
	if rec.Undone {
		return fmt.Errorf("%w: %s", ErrMergeUndone, id)
	}
	if rec.PrimaryBefore == nil || rec.DuplicatePage == nil {
		return fmt.Errorf("merge %s has no snapshot", id)
	}

	var cutoff int64
	if days := a.settings.Current(ctx).PageViewStorageDays; days > 0 {
		cutoff = a.now().AddDate(0, 0, -days).UnixMilli()
	}
	restoredPages := 0
	err = a.repo.UpdateNow(ctx, func(pages pageview.Pages) (bool, error) {
		// A primary deleted since the merge took the duplicate's sessions
		// with it; neither snapshot comes back.
		cur, ok := pages[rec.Primary]
		if !ok {
			return false, nil
		}
		restored := rec.PrimaryBefore.Clone()
		for _, s := range cur.Sessions {
			if s.StartTime >= rec.At {
				restored.AddSession(s, a.gap)
			}
		}
		restored.UpdateMetadata(cur.PageTitle, cur.FaviconURL)
		if restoreInto(pages, rec.Primary, restored, cutoff) {
			restoredPages++
		}

		dup := rec.DuplicatePage.Clone()
		if cur, ok := pages[rec.Duplicate]; ok {
			for _, s := range cur.Sessions {
				dup.AddSession(s, a.gap)
			}
		}
		if restoreInto(pages, rec.Duplicate, dup, cutoff) {
			restoredPages++
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	log[idx].Undone = true
	if err := a.store.SetNow(ctx, KeyMergeLog, log); err != nil {
		return fmt.Errorf("save merge log: %w", err)
	}
	a.logger.Info("merge undone", "id", id, "primary", rec.Primary, "duplicate", rec.Duplicate, "pages_restored", restoredPages)
	a.auditf(ctx, ActionMergeUndo, rec.Duplicate, "split from %s (id=%s)", rec.Primary, id)
	return nil
}

// restoreInto stores p under key after dropping sessions that started
// before cutoff, the same horizon retention cleanup applies. A page left
// without sessions is removed instead.
func restoreInto(pages pageview.Pages, key string, p *pageview.PageView, cutoff int64) bool {
	kept := p.Sessions[:0]
	for _, s := range p.Sessions {
		if s.StartTime >= cutoff {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(pages, key)
		return false
	}
	p.Sessions = kept
	p.Recalculate()
	pages[key] = p
	return true
}

func (a *Aggregator) auditf(ctx context.Context, action, subject, format string, args ...any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Audit(ctx, action, subject, fmt.Sprintf(format, args...)); err != nil {
		a.logger.Warn("audit write failed", "action", action, "error", err)
	}
}
