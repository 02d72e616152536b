// Package domain defines the persistence model for per-user confirmation
// state. Records are mapped with GORM and form the single aggregate of the
// gate bot: one row per Telegram identity that has ever touched the bot.
package domain

import "maps"

// Sentinel values for Record.RestrictedUntil.
const (
	// NotRestricted means no bot-tracked restriction is pending restore.
	NotRestricted int64 = 0

	// RestrictedByBot marks a restriction imposed by the bot itself, with
	// no external expiry to restore on lift.
	RestrictedByBot int64 = -1
)

// NoLinkedAccount is the LinkedAccount value before a confirmation succeeds.
const NoLinkedAccount int64 = -1

// Record holds the confirmation, whitelist and restriction state for one
// Telegram user. Records are created lazily on first touch and never
// deleted; history such as ConfirmedTime and whitelist reasons survives
// deconfirmation.
//
// Fields:
//   - UserID: Telegram user id; immutable primary key.
//   - Confirmed: the user has a verified linked wiki account.
//   - Confirming: a confirmation handshake is in flight. Never true
//     together with a freshly set Confirmed.
//   - LinkedAccount: global wiki account id once confirmed; NoLinkedAccount
//     until the first success.
//   - ConfirmedTime: unix seconds of the last successful confirmation;
//     0 until the first success.
//   - RestrictedUntil: NotRestricted, RestrictedByBot, or a positive unix
//     timestamp recorded from an externally imposed restriction.
//   - WhitelistReasons: per-group exemption reasons keyed by chat id; an
//     absent key means not whitelisted in that group.
//   - Refused: an operator denied this user confirmation rights. Implies
//     Confirmed and Confirming are both false.
type Record struct {
	UserID           int64            `json:"user_id"           gorm:"primaryKey"`
	Confirmed        bool             `json:"confirmed"         gorm:"not null"`
	Confirming       bool             `json:"confirming"        gorm:"not null"`
	LinkedAccount    int64            `json:"linked_account"    gorm:"not null;default:-1"`
	ConfirmedTime    int64            `json:"confirmed_time"    gorm:"not null;default:0"`
	RestrictedUntil  int64            `json:"restricted_until"  gorm:"not null;default:0"`
	WhitelistReasons map[int64]string `json:"whitelist_reasons" gorm:"serializer:json"`
	Refused          bool             `json:"refused"           gorm:"not null"`
}

// TableName returns the database table name for Record.
func (Record) TableName() string { return "records" }

// NewRecord returns a Record with the defaults of a user the bot has never
// seen: not confirmed, not confirming, not refused, no linked account.
func NewRecord(userID int64) *Record {
	return &Record{
		UserID:           userID,
		LinkedAccount:    NoLinkedAccount,
		WhitelistReasons: map[int64]string{},
	}
}

// WhitelistedIn reports whether the record carries a non-empty whitelist
// reason for the given group.
func (r *Record) WhitelistedIn(group int64) bool {
	return r.WhitelistReasons[group] != ""
}

// Exempt reports whether the user should be unrestricted in the given
// group: either globally confirmed or whitelisted there.
func (r *Record) Exempt(group int64) bool {
	return r.Confirmed || r.WhitelistedIn(group)
}

// Equal reports whether two records hold identical state, field for field.
func (r *Record) Equal(o *Record) bool {
	return r.UserID == o.UserID &&
		r.Confirmed == o.Confirmed &&
		r.Confirming == o.Confirming &&
		r.LinkedAccount == o.LinkedAccount &&
		r.ConfirmedTime == o.ConfirmedTime &&
		r.RestrictedUntil == o.RestrictedUntil &&
		r.Refused == o.Refused &&
		maps.Equal(r.WhitelistReasons, o.WhitelistReasons)
}

// Clone returns a deep copy of the record. The store hands out clones so
// callers can read state without holding the store lock.
func (r *Record) Clone() *Record {
	c := *r
	c.WhitelistReasons = make(map[int64]string, len(r.WhitelistReasons))
	for g, reason := range r.WhitelistReasons {
		c.WhitelistReasons[g] = reason
	}
	return &c
}
