package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avecha/wikigate/internal/domain"
)

func newRecordDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("record_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestLoadRecords_EmptyTable(t *testing.T) {
	db := newRecordDB(t, true)

	recs, err := LoadRecords(context.Background(), db)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty slice, got %d records", len(recs))
	}
}

func TestLoadRecords_Error_NoTable(t *testing.T) {
	db := newRecordDB(t, false)

	if _, err := LoadRecords(context.Background(), db); err == nil {
		t.Fatalf("expected error loading without table")
	}
}

func TestReplaceThenLoad_RoundTrip(t *testing.T) {
	db := newRecordDB(t, true)
	ctx := context.Background()

	in := []domain.Record{
		{
			UserID:           7,
			Confirmed:        true,
			LinkedAccount:    42,
			ConfirmedTime:    1700000000,
			RestrictedUntil:  domain.NotRestricted,
			WhitelistReasons: map[int64]string{100: "trusted"},
		},
		{
			UserID:           9,
			Confirming:       true,
			LinkedAccount:    domain.NoLinkedAccount,
			RestrictedUntil:  domain.RestrictedByBot,
			WhitelistReasons: map[int64]string{},
		},
	}

	if err := ReplaceRecords(ctx, db, in); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}

	out, err := LoadRecords(ctx, db)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	// Ordered by user id.
	if out[0].UserID != 7 || out[1].UserID != 9 {
		t.Fatalf("unexpected order: %d, %d", out[0].UserID, out[1].UserID)
	}
	if !out[0].Confirmed || out[0].LinkedAccount != 42 || out[0].ConfirmedTime != 1700000000 {
		t.Fatalf("record 7 mismatch: %+v", out[0])
	}
	if out[0].WhitelistReasons[100] != "trusted" {
		t.Fatalf("whitelist map did not round-trip: %+v", out[0].WhitelistReasons)
	}
	if !out[1].Confirming || out[1].RestrictedUntil != domain.RestrictedByBot {
		t.Fatalf("record 9 mismatch: %+v", out[1])
	}
}

func TestReplaceRecords_OverwritesPreviousSnapshot(t *testing.T) {
	db := newRecordDB(t, true)
	ctx := context.Background()

	first := []domain.Record{
		{UserID: 1, LinkedAccount: domain.NoLinkedAccount, WhitelistReasons: map[int64]string{}},
		{UserID: 2, LinkedAccount: domain.NoLinkedAccount, WhitelistReasons: map[int64]string{}},
	}
	if err := ReplaceRecords(ctx, db, first); err != nil {
		t.Fatalf("first ReplaceRecords: %v", err)
	}

	second := []domain.Record{
		{UserID: 2, Confirmed: true, LinkedAccount: 5, WhitelistReasons: map[int64]string{}},
	}
	if err := ReplaceRecords(ctx, db, second); err != nil {
		t.Fatalf("second ReplaceRecords: %v", err)
	}

	out, err := LoadRecords(ctx, db)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(out) != 1 || out[0].UserID != 2 || !out[0].Confirmed {
		t.Fatalf("snapshot not replaced wholesale: %+v", out)
	}
}

func TestReplaceRecords_EmptySetClearsTable(t *testing.T) {
	db := newRecordDB(t, true)
	ctx := context.Background()

	if err := ReplaceRecords(ctx, db, []domain.Record{
		{UserID: 1, LinkedAccount: domain.NoLinkedAccount, WhitelistReasons: map[int64]string{}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ReplaceRecords(ctx, db, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, err := LoadRecords(ctx, db)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty table, got %+v", out)
	}
}

func TestMigrateLegacyWhitelist(t *testing.T) {
	db := newRecordDB(t, true)
	ctx := context.Background()

	// Simulate the oldest schema: a single global reason column.
	if err := db.Exec("ALTER TABLE records ADD COLUMN whitelist_reason TEXT NOT NULL DEFAULT ''").Error; err != nil {
		t.Fatalf("add legacy column: %v", err)
	}
	if err := ReplaceRecords(ctx, db, []domain.Record{
		{UserID: 1, LinkedAccount: domain.NoLinkedAccount, WhitelistReasons: map[int64]string{}},
		{UserID: 2, LinkedAccount: domain.NoLinkedAccount, WhitelistReasons: map[int64]string{}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Exec("UPDATE records SET whitelist_reason = 'legacy trust' WHERE user_id = 1").Error; err != nil {
		t.Fatalf("seed legacy reason: %v", err)
	}

	const primaryGroup = int64(-100200)
	if err := MigrateLegacyWhitelist(ctx, db, primaryGroup); err != nil {
		t.Fatalf("MigrateLegacyWhitelist: %v", err)
	}

	out, err := LoadRecords(ctx, db)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if out[0].WhitelistReasons[primaryGroup] != "legacy trust" {
		t.Fatalf("legacy reason not migrated: %+v", out[0].WhitelistReasons)
	}
	if len(out[1].WhitelistReasons) != 0 {
		t.Fatalf("record without legacy reason gained one: %+v", out[1].WhitelistReasons)
	}
	if db.Migrator().HasColumn(&domain.Record{}, "whitelist_reason") {
		t.Fatalf("legacy column should be dropped after migration")
	}

	// Second run is a no-op.
	if err := MigrateLegacyWhitelist(ctx, db, primaryGroup); err != nil {
		t.Fatalf("second MigrateLegacyWhitelist: %v", err)
	}
}
