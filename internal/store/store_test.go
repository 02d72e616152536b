package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/avecha/wikigate/internal/domain"
)

// ----- Fake snapshotter -----

type fakeSnap struct {
	mu sync.Mutex

	loadRecs []domain.Record
	loadErr  error

	saved   [][]domain.Record
	saveErr error
}

func (f *fakeSnap) Load(ctx context.Context) ([]domain.Record, error) {
	return f.loadRecs, f.loadErr
}

func (f *fakeSnap) Save(ctx context.Context, recs []domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	cp := make([]domain.Record, len(recs))
	copy(cp, recs)
	f.saved = append(f.saved, cp)
	return nil
}

func (f *fakeSnap) lastSave() []domain.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return nil
	}
	return f.saved[len(f.saved)-1]
}

// ----- Tests -----

func TestLoad_PopulatesStore(t *testing.T) {
	snap := &fakeSnap{loadRecs: []domain.Record{
		{UserID: 1, Confirmed: true, LinkedAccount: 42},
		{UserID: 2, LinkedAccount: domain.NoLinkedAccount},
	}}
	s := New(snap)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	r, ok := s.Get(1)
	if !ok || !r.Confirmed || r.LinkedAccount != 42 {
		t.Fatalf("Get(1) = %+v, %v", r, ok)
	}
	// Nil whitelist maps from the snapshot are normalized.
	if r.WhitelistReasons == nil {
		t.Fatalf("WhitelistReasons not normalized on load")
	}
}

func TestLoad_ErrorLeavesStoreUntouched(t *testing.T) {
	snap := &fakeSnap{loadErr: errors.New("corrupt")}
	s := New(snap)

	if err := s.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if s.Len() != 0 {
		t.Fatalf("store mutated on failed load")
	}
}

func TestUpdate_CreatesAndPersistsWholeSnapshot(t *testing.T) {
	snap := &fakeSnap{}
	s := New(snap)
	ctx := context.Background()

	if err := s.Update(ctx, func(tx *Txn) error {
		tx.FindOrCreate(5)
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, func(tx *Txn) error {
		r := tx.FindOrCreate(7)
		r.Confirming = true
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Second save carries the full collection, not a delta.
	last := snap.lastSave()
	if len(last) != 2 {
		t.Fatalf("snapshot has %d records, want 2", len(last))
	}
	if last[0].UserID != 5 || last[1].UserID != 7 {
		t.Fatalf("snapshot order: %+v", last)
	}
	if !last[1].Confirming {
		t.Fatalf("mutation missing from snapshot: %+v", last[1])
	}
}

func TestUpdate_FnErrorDiscardsWorkingCopies(t *testing.T) {
	snap := &fakeSnap{}
	s := New(snap)
	boom := errors.New("boom")

	err := s.Update(context.Background(), func(tx *Txn) error {
		tx.FindOrCreate(5)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if s.Len() != 0 {
		t.Fatalf("record leaked from aborted transaction")
	}
	if len(snap.saved) != 0 {
		t.Fatalf("aborted transaction must not persist")
	}
}

func TestUpdate_SaveErrorRollsBack(t *testing.T) {
	snap := &fakeSnap{saveErr: errors.New("disk full")}
	s := New(snap)

	err := s.Update(context.Background(), func(tx *Txn) error {
		tx.FindOrCreate(5)
		return nil
	})
	if err == nil {
		t.Fatalf("expected save error")
	}
	if s.Len() != 0 {
		t.Fatalf("in-memory state committed despite failed save")
	}
}

func TestUpdate_ReadOnlyTransactionSkipsSave(t *testing.T) {
	snap := &fakeSnap{}
	s := New(snap)

	if err := s.Update(context.Background(), func(tx *Txn) error {
		if _, ok := tx.Find(99); ok {
			t.Fatalf("unexpected record")
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(snap.saved) != 0 {
		t.Fatalf("read-only transaction should not snapshot")
	}
}

func TestUpdate_UnchangedWorkingCopySkipsSave(t *testing.T) {
	snap := &fakeSnap{loadRecs: []domain.Record{
		{UserID: 7, Confirmed: true, LinkedAccount: 42, WhitelistReasons: map[int64]string{-1: "trusted"}},
	}}
	s := New(snap)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Find pulls the record into the transaction, but nothing changes.
	if err := s.Update(context.Background(), func(tx *Txn) error {
		if _, ok := tx.Find(7); !ok {
			t.Fatalf("record missing")
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(snap.saved) != 0 {
		t.Fatalf("unchanged transaction should not snapshot")
	}

	// A real change still commits, even alongside an untouched read.
	if err := s.Update(context.Background(), func(tx *Txn) error {
		tx.Find(7)
		tx.FindOrCreate(8).Confirming = true
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := snap.lastSave(); len(got) != 2 {
		t.Fatalf("expected both records in snapshot, got %+v", got)
	}
}

func TestTxn_WorkingCopyInvisibleUntilCommit(t *testing.T) {
	snap := &fakeSnap{}
	s := New(snap)

	_ = s.Update(context.Background(), func(tx *Txn) error {
		tx.FindOrCreate(5)
		// Not yet visible through the public readers (they would deadlock
		// here anyway); assert via a second lookup inside the txn instead.
		if r, ok := tx.Find(5); !ok || r.UserID != 5 {
			t.Fatalf("working copy not visible inside the transaction")
		}
		return errors.New("abort")
	})

	if _, ok := s.Get(5); ok {
		t.Fatalf("aborted creation visible to readers")
	}
}

func TestTxn_ConfirmedByAccount(t *testing.T) {
	snap := &fakeSnap{loadRecs: []domain.Record{
		{UserID: 1, Confirmed: true, LinkedAccount: 42},
		{UserID: 2, Confirmed: false, LinkedAccount: 42}, // deconfirmed history
		{UserID: 3, Confirmed: true, LinkedAccount: 99},
	}}
	s := New(snap)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_ = s.Update(context.Background(), func(tx *Txn) error {
		if holder, ok := tx.ConfirmedByAccount(42, 5); !ok || holder.UserID != 1 {
			t.Errorf("ConfirmedByAccount(42) = %+v, %v; want holder 1", holder, ok)
		}
		// The holder itself is excluded.
		if _, ok := tx.ConfirmedByAccount(42, 1); ok {
			t.Errorf("holder must be excluded from its own uniqueness check")
		}
		// Deconfirmed history never blocks.
		if _, ok := tx.ConfirmedByAccount(7, 5); ok {
			t.Errorf("unknown account reported as held")
		}
		// A working-copy deconfirm is honored over the base map.
		r, _ := tx.Find(1)
		r.Confirmed = false
		if _, ok := tx.ConfirmedByAccount(42, 5); ok {
			t.Errorf("working-copy deconfirm ignored by uniqueness check")
		}
		return errors.New("abort")
	})
}

func TestConcurrentUpdates_Serialize(t *testing.T) {
	snap := &fakeSnap{}
	s := New(snap)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = s.Update(ctx, func(tx *Txn) error {
				tx.FindOrCreate(id)
				return nil
			})
		}(int64(i))
	}
	wg.Wait()

	if s.Len() != 20 {
		t.Fatalf("Len = %d, want 20", s.Len())
	}
	if got := len(snap.lastSave()); got != 20 {
		t.Fatalf("final snapshot has %d records, want 20", got)
	}
}
