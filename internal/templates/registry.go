package templates

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotFound is returned by Lookup when no template has the requested id.
	ErrNotFound = errors.New("template not found")

	// ErrNotLoaded is returned before the registry has received its first load.
	ErrNotLoaded = errors.New("template registry not loaded")
)

type entry struct {
	tpl Template
	seq uint64
}

// snapshot is immutable once published.
type snapshot struct {
	entries []entry
	active  []Template
	byID    map[string]int
}

// Registry is an ordered, copy-on-write collection of templates. Readers never
// block; writers serialize on mu and publish a fresh snapshot. Match counts
// recorded at runtime live outside the snapshot so recording never publishes.
type Registry struct {
	mu      sync.Mutex
	nextSeq uint64
	snap    atomic.Pointer[snapshot]

	counts sync.Map // template id -> *atomic.Int64
}

// NewRegistry creates an empty registry. It reports ErrNotLoaded until
// Replace or Upsert is called.
func NewRegistry() *Registry {
	return &Registry{}
}

// ActiveTemplatesByPriority returns active templates ordered by ascending
// priority, then by registration order, then by id.
func (r *Registry) ActiveTemplatesByPriority() ([]Template, error) {
	s := r.snap.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	out := make([]Template, len(s.active))
	for i, t := range s.active {
		out[i] = r.withCount(t)
	}
	return out, nil
}

// Lookup returns the template with the given id, active or not.
func (r *Registry) Lookup(id string) (Template, error) {
	s := r.snap.Load()
	if s == nil {
		return Template{}, ErrNotLoaded
	}
	idx, ok := s.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("lookup %q: %w", id, ErrNotFound)
	}
	return r.withCount(s.entries[idx].tpl), nil
}

// All returns every template, active or not, in registry order.
func (r *Registry) All() []Template {
	s := r.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]Template, len(s.entries))
	for i, e := range s.entries {
		out[i] = r.withCount(e.tpl)
	}
	return out
}

// Loaded reports whether the registry has received at least one load.
func (r *Registry) Loaded() bool {
	return r.snap.Load() != nil
}

// Replace swaps the whole template set. Templates already known keep their
// registration sequence so reloads do not reshuffle equal-priority ties.
func (r *Registry) Replace(tpls []Template) error {
	for _, t := range tpls {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("replace: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sequences()
	r.absorbCounts(tpls)
	entries := make([]entry, 0, len(tpls))
	seen := make(map[string]bool, len(tpls))
	for _, t := range tpls {
		if seen[t.ID] {
			return fmt.Errorf("replace: duplicate template id %q", t.ID)
		}
		seen[t.ID] = true
		seq, ok := prev[t.ID]
		if !ok {
			seq = r.allocSeq()
		}
		entries = append(entries, entry{tpl: t.clone(), seq: seq})
	}
	r.publish(entries)
	return nil
}

// Upsert inserts or updates one template.
func (r *Registry) Upsert(t Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []entry
	if s := r.snap.Load(); s != nil {
		entries = append(entries, s.entries...)
		if idx, ok := s.byID[t.ID]; ok {
			entries[idx] = entry{tpl: t.clone(), seq: entries[idx].seq}
			r.publish(entries)
			return nil
		}
	}
	entries = append(entries, entry{tpl: t.clone(), seq: r.allocSeq()})
	r.publish(entries)
	return nil
}

// Remove deletes a template by id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.snap.Load()
	if s == nil {
		return ErrNotLoaded
	}
	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	entries := make([]entry, 0, len(s.entries)-1)
	entries = append(entries, s.entries[:idx]...)
	entries = append(entries, s.entries[idx+1:]...)
	r.publish(entries)
	r.counts.Delete(id)
	return nil
}

// RecordMatch bumps the in-memory match counter of a template. It does not
// touch the snapshot.
func (r *Registry) RecordMatch(id string) error {
	s := r.snap.Load()
	if s == nil {
		return ErrNotLoaded
	}
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("record match %q: %w", id, ErrNotFound)
	}
	r.counter(id).Add(1)
	return nil
}

func (r *Registry) counter(id string) *atomic.Int64 {
	if c, ok := r.counts.Load(id); ok {
		return c.(*atomic.Int64)
	}
	c, _ := r.counts.LoadOrStore(id, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// withCount returns a copy of t whose MatchCount includes runtime matches.
func (r *Registry) withCount(t Template) Template {
	out := t.clone()
	if c, ok := r.counts.Load(t.ID); ok {
		out.MatchCount += c.(*atomic.Int64).Load()
	}
	return out
}

// absorbCounts lowers runtime counters by the amount a reload's stored counts
// grew, so matches already persisted by a MatchRecorder are not counted
// twice. Sources that never persist counts keep their runtime counters.
// Must be called with mu held, before the new snapshot is published.
func (r *Registry) absorbCounts(tpls []Template) {
	s := r.snap.Load()
	if s == nil {
		return
	}
	for _, t := range tpls {
		idx, ok := s.byID[t.ID]
		if !ok {
			continue
		}
		grown := t.MatchCount - s.entries[idx].tpl.MatchCount
		if grown <= 0 {
			continue
		}
		v, ok := r.counts.Load(t.ID)
		if !ok {
			continue
		}
		c := v.(*atomic.Int64)
		for {
			cur := c.Load()
			next := cur - grown
			if next < 0 {
				next = 0
			}
			if c.CompareAndSwap(cur, next) {
				break
			}
		}
	}
}

func (r *Registry) sequences() map[string]uint64 {
	out := make(map[string]uint64)
	if s := r.snap.Load(); s != nil {
		for _, e := range s.entries {
			out[e.tpl.ID] = e.seq
		}
	}
	return out
}

func (r *Registry) allocSeq() uint64 {
	r.nextSeq++
	return r.nextSeq
}

// publish must be called with mu held.
func (r *Registry) publish(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.tpl.Priority != b.tpl.Priority {
			return a.tpl.Priority < b.tpl.Priority
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.tpl.ID < b.tpl.ID
	})

	s := &snapshot{
		entries: entries,
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		s.byID[e.tpl.ID] = i
		if e.tpl.IsActive {
			s.active = append(s.active, e.tpl)
		}
	}
	r.snap.Store(s)
}
