// Package repo implements the durable snapshot layer for confirmation
// records. This file provides whole-collection load and replace operations.
//
// The store never updates rows in place: every mutation rewrites the full
// record set inside one transaction, so the on-disk state is always a
// consistent snapshot. Throughput is bounded by design; the record set of a
// single gated community fits comfortably in one write.
//
// Error semantics:
//   - LoadRecords on a fresh database returns an empty slice, not an error.
//   - Any other load failure is propagated and is treated as fatal by the
//     caller: the bot must not run against a partially loaded store.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/avecha/wikigate/internal/domain"
)

// Snapshot persists records to and from SQLite as whole collections. It
// satisfies the store's Snapshotter contract.
type Snapshot struct {
	DB *gorm.DB
}

// NewSnapshot returns a Snapshot bound to the given GORM handle.
func NewSnapshot(db *gorm.DB) *Snapshot { return &Snapshot{DB: db} }

// Load reads the entire record collection. An empty table yields an empty
// slice.
func (s *Snapshot) Load(ctx context.Context) ([]domain.Record, error) {
	return LoadRecords(ctx, s.DB)
}

// Save atomically replaces the entire record collection.
func (s *Snapshot) Save(ctx context.Context, recs []domain.Record) error {
	return ReplaceRecords(ctx, s.DB, recs)
}

// LoadRecords returns every persisted Record, ordered by user id for
// deterministic round-trips.
func LoadRecords(ctx context.Context, db *gorm.DB) ([]domain.Record, error) {
	var out []domain.Record
	err := db.WithContext(ctx).
		Order("user_id asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].WhitelistReasons == nil {
			out[i].WhitelistReasons = map[int64]string{}
		}
	}
	return out, nil
}

// ReplaceRecords deletes all rows and inserts the given set inside a single
// transaction. Either the whole snapshot lands or nothing changes.
func ReplaceRecords(ctx context.Context, db *gorm.DB, recs []domain.Record) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&domain.Record{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.Create(&recs).Error
	})
}

// MigrateLegacyWhitelist converts the oldest schema, where a record carried
// one global whitelist_reason string, into the per-group map form. Legacy
// reasons are filed under primaryGroup and the old column is dropped. The
// call is a no-op when the column is absent, so it is safe on every start.
func MigrateLegacyWhitelist(ctx context.Context, db *gorm.DB, primaryGroup int64) error {
	m := db.Migrator()
	if !m.HasTable(&domain.Record{}) || !m.HasColumn(&domain.Record{}, "whitelist_reason") {
		return nil
	}

	type legacyRow struct {
		UserID          int64
		WhitelistReason string
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []legacyRow
		if err := tx.Table("records").
			Select("user_id", "whitelist_reason").
			Where("whitelist_reason <> ''").
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			var rec domain.Record
			if err := tx.First(&rec, "user_id = ?", row.UserID).Error; err != nil {
				return err
			}
			if rec.WhitelistReasons == nil {
				rec.WhitelistReasons = map[int64]string{}
			}
			if rec.WhitelistReasons[primaryGroup] == "" {
				rec.WhitelistReasons[primaryGroup] = row.WhitelistReason
				if err := tx.Save(&rec).Error; err != nil {
					return err
				}
			}
		}
		return tx.Migrator().DropColumn(&domain.Record{}, "whitelist_reason")
	})
}
