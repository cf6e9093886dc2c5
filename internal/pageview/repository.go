package pageview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// KeyPageViews is the store key holding every PageView.
const KeyPageViews = "pageviews"

// Store is the slice of the persisted store adapter the repository needs.
type Store interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	SetNow(ctx context.Context, key string, v any) error
	Remove(ctx context.Context, keys ...string) error
}

type blob struct {
	SchemaVersion int                  `json:"schemaVersion"`
	Pages         map[string]*PageView `json:"pages"`
}

// Pages is the full set of PageViews keyed by normalized URL.
type Pages map[string]*PageView

// Repository loads and saves the PageView set. Read-modify-write cycles
// go through Update so concurrent handlers never interleave.
type Repository struct {
	store Store
	mu    sync.Mutex
}

// NewRepository returns a Repository over store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Load returns a snapshot of every PageView.
func (r *Repository) Load(ctx context.Context) (Pages, error) {
	var b blob
	found, err := r.store.Get(ctx, KeyPageViews, &b)
	if err != nil {
		return nil, fmt.Errorf("load page views: %w", err)
	}
	if !found || b.Pages == nil {
		return Pages{}, nil
	}
	if b.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("load page views: schema version %d is newer than supported %d", b.SchemaVersion, SchemaVersion)
	}
	for key, p := range b.Pages {
		if p == nil {
			delete(b.Pages, key)
			continue
		}
		migrate(p)
	}
	return b.Pages, nil
}

// migrate upgrades a record to the current schema in place.
func migrate(p *PageView) {
	if p.SchemaVersion == 0 {
		// Unversioned records predate stored totals.
		p.Recalculate()
	}
	if p.Sessions == nil {
		p.Sessions = []Session{}
	}
	p.SchemaVersion = SchemaVersion
}

// Get returns one PageView by normalized URL.
func (r *Repository) Get(ctx context.Context, normalizedURL string) (*PageView, error) {
	pages, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := pages[normalizedURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, normalizedURL)
	}
	return p, nil
}

// Update runs fn on the current page set and persists the result through
// the batched write path when fn reports a change.
func (r *Repository) Update(ctx context.Context, fn func(Pages) (bool, error)) error {
	return r.update(ctx, false, fn)
}

// UpdateNow is Update with an immediate write. Used for user-visible
// deletions.
func (r *Repository) UpdateNow(ctx context.Context, fn func(Pages) (bool, error)) error {
	return r.update(ctx, true, fn)
}

func (r *Repository) update(ctx context.Context, now bool, fn func(Pages) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pages, err := r.Load(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(pages)
	if err != nil || !changed {
		return err
	}

	b := blob{SchemaVersion: SchemaVersion, Pages: pages}
	if now {
		err = r.store.SetNow(ctx, KeyPageViews, b)
	} else {
		err = r.store.Set(ctx, KeyPageViews, b)
	}
	if err != nil {
		return fmt.Errorf("save page views: %w", err)
	}
	return nil
}

// DeletePage removes one PageView.
func (r *Repository) DeletePage(ctx context.Context, normalizedURL string) error {
	return r.UpdateNow(ctx, func(pages Pages) (bool, error) {
		if _, ok := pages[normalizedURL]; !ok {
			return false, fmt.Errorf("%w: %s", ErrNotFound, normalizedURL)
		}
		delete(pages, normalizedURL)
		return true, nil
	})
}

// DeleteDomain removes every PageView on domain or a subdomain of it and
// returns how many were removed.
func (r *Repository) DeleteDomain(ctx context.Context, domain string) (int, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	removed := 0
	err := r.UpdateNow(ctx, func(pages Pages) (bool, error) {
		for key, p := range pages {
			if HostMatches(p.Hostname, domain) {
				delete(pages, key)
				removed++
			}
		}
		return removed > 0, nil
	})
	return removed, err
}

// DeleteDate removes every session starting on day's calendar date in
// loc. Pages left without sessions are removed. It returns the number of
// sessions removed.
func (r *Repository) DeleteDate(ctx context.Context, day time.Time, loc *time.Location) (int, error) {
	start := StartOfDay(day, loc)
	end := start.AddDate(0, 0, 1)
	removed := 0
	err := r.UpdateNow(ctx, func(pages Pages) (bool, error) {
		for key, p := range pages {
			kept := p.Sessions[:0]
			for _, s := range p.Sessions {
				if s.StartTime >= start.UnixMilli() && s.StartTime < end.UnixMilli() {
					removed++
					continue
				}
				kept = append(kept, s)
			}
			p.Sessions = kept
			if len(p.Sessions) == 0 {
				delete(pages, key)
				continue
			}
			p.Recalculate()
		}
		return removed > 0, nil
	})
	return removed, err
}

// Clear removes every PageView.
func (r *Repository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Remove(ctx, KeyPageViews)
}

// Sorted returns the pages ordered by most recent visit.
func (p Pages) Sorted() []*PageView {
	out := make([]*PageView, 0, len(p))
	for _, v := range p {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastVisited != out[j].LastVisited {
			return out[i].LastVisited > out[j].LastVisited
		}
		return out[i].NormalizedURL < out[j].NormalizedURL
	})
	return out
}

// HostMatches reports whether host is domain or a subdomain of it.
func HostMatches(host, domain string) bool {
	host = strings.ToLower(host)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
