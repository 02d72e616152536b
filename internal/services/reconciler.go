// Package services – Reconciler
//
// Given a record and a target group, the reconciler decides whether the
// user should be muted or unmuted there and drives the membership interface
// accordingly. Membership failures the bot cannot control (missing rights,
// user gone, protected administrators) are logged and swallowed; every
// action is attempted exactly once per call.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avecha/wikigate/internal/domain"
)

// MemberState is the platform-side standing of a user in one group.
type MemberState string

// Member states as reported by the membership interface.
const (
	MemberStateMember        MemberState = "member"
	MemberStateRestricted    MemberState = "restricted"
	MemberStateLeft          MemberState = "left"
	MemberStateKicked        MemberState = "kicked"
	MemberStateAdministrator MemberState = "administrator"
	MemberStateCreator       MemberState = "creator"
)

// gone reports whether the user is out of the group entirely; no action is
// ever taken against absent members.
func (s MemberState) gone() bool {
	return s == MemberStateLeft || s == MemberStateKicked
}

// protected reports whether the user outranks the bot.
func (s MemberState) protected() bool {
	return s == MemberStateAdministrator || s == MemberStateCreator
}

// MemberStatus couples the member state with the restriction expiry the
// platform reports (unix seconds; 0 when absent or permanent).
type MemberStatus struct {
	State     MemberState
	UntilDate int64
}

// Membership is the chat-platform moderation interface. Implementations
// map platform failures onto ErrPermissionDenied, ErrTargetNotFound, and
// ErrAdministratorProtected.
type Membership interface {
	Mute(ctx context.Context, group, userID int64) error
	Unmute(ctx context.Context, group, userID int64) error
	Status(ctx context.Context, group, userID int64) (MemberStatus, error)
}

// Action is a reconciliation decision.
type Action int

// Reconciliation decisions.
const (
	ActionNone Action = iota
	ActionRestrict
	ActionUnrestrict
)

// String implements fmt.Stringer for log output.
func (a Action) String() string {
	switch a {
	case ActionRestrict:
		return "restrict"
	case ActionUnrestrict:
		return "unrestrict"
	default:
		return "none"
	}
}

// Decide returns the desired action for a record in one group: unrestrict
// when the user is confirmed or whitelisted there, restrict otherwise.
// Membership state (absent users, administrators) is Apply's concern.
func Decide(rec *domain.Record, group int64) Action {
	if rec.Exempt(group) {
		return ActionUnrestrict
	}
	return ActionRestrict
}

// Reconciler applies Decide against the membership interface.
type Reconciler struct {
	Membership Membership
}

// NewReconciler constructs a Reconciler over the given membership interface.
func NewReconciler(m Membership) *Reconciler {
	return &Reconciler{Membership: m}
}

// Sync reconciles the record against every given group and returns the
// restriction bookkeeping the caller should commit: the new RestrictedUntil
// value and whether it differs from the record's current one.
//
// Bookkeeping policy: when the bot mutes a user who is already under an
// externally imposed restriction with a future expiry, that expiry is
// recorded; when the mute is the bot's own, RestrictedByBot is recorded.
// Once the user is exempt the lift is immediate and unconditional — the
// stored expiry is cleared rather than re-applied.
func (rc *Reconciler) Sync(ctx context.Context, rec *domain.Record, groups []int64) (int64, bool) {
	until := rec.RestrictedUntil
	for _, group := range groups {
		until = rc.apply(ctx, rec, group, until)
	}
	return until, until != rec.RestrictedUntil
}

// apply reconciles one (record, group) pair and returns the updated
// bookkeeping value.
func (rc *Reconciler) apply(ctx context.Context, rec *domain.Record, group, until int64) int64 {
	action := Decide(rec, group)
	lg := log.With().
		Int64("user_id", rec.UserID).
		Int64("group", group).
		Stringer("action", action).
		Logger()

	st, err := rc.Membership.Status(ctx, group, rec.UserID)
	if err != nil {
		if swallowed(err) {
			lg.Debug().Err(err).Msg("membership status unavailable")
		} else {
			lg.Error().Err(err).Msg("membership status lookup failed")
		}
		return until
	}
	if st.State.gone() {
		return until
	}
	if st.State.protected() {
		return until
	}

	switch action {
	case ActionUnrestrict:
		if st.State != MemberStateRestricted && until == domain.NotRestricted {
			return until
		}
		if err := rc.Membership.Unmute(ctx, group, rec.UserID); err != nil {
			if !swallowed(err) {
				lg.Error().Err(err).Msg("unmute failed")
				return until
			}
			lg.Warn().Err(err).Msg("unmute swallowed")
		}
		reconcilerActions.WithLabelValues("unrestrict").Inc()
		return domain.NotRestricted

	case ActionRestrict:
		next := domain.RestrictedByBot
		if st.State == MemberStateRestricted && st.UntilDate > 0 {
			// Preserve the externally imposed expiry so it is never
			// silently widened into a permanent mute.
			next = st.UntilDate
		}
		if err := rc.Membership.Mute(ctx, group, rec.UserID); err != nil {
			if !swallowed(err) {
				lg.Error().Err(err).Msg("mute failed")
				return until
			}
			lg.Warn().Err(err).Msg("mute swallowed")
		}
		reconcilerActions.WithLabelValues("restrict").Inc()
		return next
	}
	return until
}

// swallowed reports whether a membership failure reflects external state
// the bot tolerates rather than a fault worth surfacing.
func swallowed(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrAdministratorProtected)
}
