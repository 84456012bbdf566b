package lock

import (
	"sort"
	"sync"
	"time"
)

// Record is a single lease held on a resource.
type Record struct {
	ResourceID  string    `json:"resourceId"`
	HolderID    string    `json:"holderId"`
	HolderLabel string    `json:"holderLabel"`
	Token       string    `json:"token"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Snapshot is a read-only copy of a Record handed to callers.
type Snapshot = Record

// Live reports whether the lease is still in force at now.
func (r Record) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Store is the authoritative map from resource id to lease. Readers use the
// read side of the guard; only the Manager mutates it, through update.
type Store struct {
	mu       sync.RWMutex
	records  map[string]Record
	byHolder map[string]map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]Record),
		byHolder: make(map[string]map[string]struct{}),
	}
}

// Get returns the record for id, live or not.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	return r, ok
}

// Len returns the number of stored records, including lapsed ones the sweep
// has not removed yet.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns every record whose lease is live at now, ordered by resource id.
func (s *Store) All(now time.Time) []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Live(now) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// HeldBy returns the resource ids recorded against holder.
func (s *Store) HeldBy(holder string) []string {
	s.mu.RLock()
	set := s.byHolder[holder]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// update runs fn with exclusive access to the store. fn must not block.
func (s *Store) update(fn func(tx *txn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&txn{s: s})
}

// txn exposes the mutators available inside update.
type txn struct {
	s *Store
}

func (t *txn) get(id string) (Record, bool) {
	r, ok := t.s.records[id]
	return r, ok
}

func (t *txn) put(r Record) {
	if old, ok := t.s.records[r.ResourceID]; ok && old.HolderID != r.HolderID {
		t.unindex(old)
	}
	t.s.records[r.ResourceID] = r
	set := t.s.byHolder[r.HolderID]
	if set == nil {
		set = make(map[string]struct{})
		t.s.byHolder[r.HolderID] = set
	}
	set[r.ResourceID] = struct{}{}
}

func (t *txn) remove(id string) (Record, bool) {
	r, ok := t.s.records[id]
	if !ok {
		return Record{}, false
	}
	delete(t.s.records, id)
	t.unindex(r)
	return r, true
}

func (t *txn) unindex(r Record) {
	set := t.s.byHolder[r.HolderID]
	delete(set, r.ResourceID)
	if len(set) == 0 {
		delete(t.s.byHolder, r.HolderID)
	}
}

// expired removes and returns every record whose lease has lapsed at now.
func (t *txn) expired(now time.Time) []Record {
	var out []Record
	for id, r := range t.s.records {
		if !r.Live(now) {
			delete(t.s.records, id)
			t.unindex(r)
			out = append(out, r)
		}
	}
	return out
}

func (t *txn) len() int { return len(t.s.records) }
