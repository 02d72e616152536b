// Package store holds the in-memory record collection behind a single
// exclusive lock. Every mutating operation runs as one critical section:
// lookup, mutation, and the whole-collection snapshot write all happen while
// the lock is held, so no two operations ever interleave. This is what makes
// the cross-record uniqueness check of the confirmation flow sound.
//
// Callbacks passed to Update must not perform network calls; verification
// traffic belongs outside the lock, with its results re-validated inside.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/avecha/wikigate/internal/domain"
)

// Snapshotter persists the record collection as a whole. Load is called once
// at startup; Save after every committed mutation.
type Snapshotter interface {
	Load(ctx context.Context) ([]domain.Record, error)
	Save(ctx context.Context, recs []domain.Record) error
}

// Store is the process-wide set of confirmation records. Safe for
// concurrent use; all mutations serialize on one mutex.
type Store struct {
	mu      sync.Mutex
	records map[int64]*domain.Record
	snap    Snapshotter
}

// New returns an empty Store backed by the given snapshotter.
func New(snap Snapshotter) *Store {
	return &Store{
		records: map[int64]*domain.Record{},
		snap:    snap,
	}
}

// Load replaces the in-memory set with the persisted snapshot. A load error
// leaves the store untouched and must be treated as fatal by the caller.
func (s *Store) Load(ctx context.Context) error {
	recs, err := s.snap.Load(ctx)
	if err != nil {
		return err
	}

	m := make(map[int64]*domain.Record, len(recs))
	for i := range recs {
		r := recs[i]
		if r.WhitelistReasons == nil {
			r.WhitelistReasons = map[int64]string{}
		}
		m[r.UserID] = &r
	}

	s.mu.Lock()
	s.records = m
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the record for userID, if present.
func (s *Store) Get(userID int64) (*domain.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// All returns copies of every record, ordered by user id.
func (s *Store) All() []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Update runs fn as one atomic critical section. fn sees and mutates
// working copies through the Txn; when fn returns nil, the copies are
// committed to the in-memory set and the whole collection is snapshotted
// through the Snapshotter, all under the lock. When fn or the snapshot save
// returns an error, nothing changes — records created or mutated inside the
// transaction are never visible to other readers.
func (s *Store) Update(ctx context.Context, fn func(tx *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Txn{base: s.records, working: map[int64]*domain.Record{}}
	if err := fn(tx); err != nil {
		return err
	}

	// Working copies that were only read carry no change; dropping them here
	// keeps a read-only transaction from rewriting the whole snapshot.
	for id, r := range tx.working {
		if prev, ok := s.records[id]; ok && prev.Equal(r) {
			delete(tx.working, id)
		}
	}
	if len(tx.working) == 0 {
		return nil
	}

	merged := make(map[int64]*domain.Record, len(s.records)+len(tx.working))
	for id, r := range s.records {
		merged[id] = r
	}
	for id, r := range tx.working {
		merged[id] = r
	}

	snapshot := make([]domain.Record, 0, len(merged))
	for _, r := range merged {
		snapshot = append(snapshot, *r)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UserID < snapshot[j].UserID })

	if err := s.snap.Save(ctx, snapshot); err != nil {
		return err
	}
	s.records = merged
	return nil
}

// Txn is the mutable view handed to Update callbacks. Records obtained
// through it are private working copies until the transaction commits.
type Txn struct {
	base    map[int64]*domain.Record
	working map[int64]*domain.Record
}

// Find returns the working copy of the record for userID, if one exists.
func (t *Txn) Find(userID int64) (*domain.Record, bool) {
	if r, ok := t.working[userID]; ok {
		return r, true
	}
	r, ok := t.base[userID]
	if !ok {
		return nil, false
	}
	c := r.Clone()
	t.working[userID] = c
	return c, true
}

// FindOrCreate returns the working copy for userID, lazily creating a
// record with defaults on first reference.
func (t *Txn) FindOrCreate(userID int64) *domain.Record {
	if r, ok := t.Find(userID); ok {
		return r
	}
	r := domain.NewRecord(userID)
	t.working[userID] = r
	return r
}

// ConfirmedByAccount returns a record other than excludeUser that is
// confirmed and linked to the given account. It is the commit-time
// uniqueness check: at most one record may hold a confirmed link to any
// external account.
func (t *Txn) ConfirmedByAccount(account, excludeUser int64) (*domain.Record, bool) {
	for id, r := range t.working {
		if id != excludeUser && r.Confirmed && r.LinkedAccount == account {
			return r, true
		}
	}
	for id, r := range t.base {
		if _, shadowed := t.working[id]; shadowed {
			continue
		}
		if id != excludeUser && r.Confirmed && r.LinkedAccount == account {
			return r.Clone(), true
		}
	}
	return nil, false
}
