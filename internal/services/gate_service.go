// Package services – GateService
//
// This file implements the confirmation state machine. A user moves from
// unlinked to confirming when they request confirmation, and from confirming
// to confirmed (or back to unlinked) when the verification handshake
// completes. Refusal is an operator override that clears any in-flight or
// settled confirmation; whitelisting is orthogonal and per group.
//
// Concurrency contract: every read-modify-write against the record store
// runs inside store.Update, one exclusive critical section per operation.
// Calls to the identity verifier happen outside the lock; every decision
// that depends on current store state (already confirmed, still confirming,
// account uniqueness) is re-validated inside the lock at commit time.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avecha/wikigate/internal/domain"
	"github.com/avecha/wikigate/internal/store"
)

// IdentityVerifier is the external identity system the gate confirms
// against. BeginLink starts an out-of-band handshake for a user;
// ExchangePendingLink redeems it once the external side has completed;
// LookupEligibility evaluates the account against the activity requirements.
type IdentityVerifier interface {
	// BeginLink resolves username, parks a pending link for userID, and
	// returns an opaque handshake token for the user to complete.
	BeginLink(ctx context.Context, userID int64, username string) (string, error)

	// ExchangePendingLink redeems the pending link for userID. ok is false
	// when no completed handshake exists for the user.
	ExchangePendingLink(ctx context.Context, userID int64) (accountID int64, ok bool, err error)

	// LookupEligibility reports whether the account satisfies the minimum
	// edit-count and account-age requirements.
	LookupEligibility(ctx context.Context, accountID int64) (bool, error)

	// PendingLink reports whether a live handshake is still parked for
	// userID. Purely local bookkeeping, no network; safe to consult from
	// inside a store transaction.
	PendingLink(userID int64) bool
}

// GateService drives per-user confirmation state and keeps group
// restrictions in line with it.
type GateService struct {
	// Store is the locked in-memory record collection.
	Store *store.Store
	// Verifier is the external identity collaborator.
	Verifier IdentityVerifier
	// Reconciler applies mute/unmute decisions; nil disables side effects
	// (useful in tests that only exercise transitions).
	Reconciler *Reconciler
	// Groups are the gated chat ids the reconciler acts on after global
	// state changes (confirm, deconfirm, refuse).
	Groups []int64

	// Now stamps ConfirmedTime; defaults to time.Now.
	Now func() time.Time
}

// NewGateService constructs a GateService over the given collaborators.
func NewGateService(st *store.Store, v IdentityVerifier, rc *Reconciler, groups []int64) *GateService {
	return &GateService{
		Store:      st,
		Verifier:   v,
		Reconciler: rc,
		Groups:     groups,
		Now:        time.Now,
	}
}

// Status returns a copy of the user's record, if one exists.
func (s *GateService) Status(userID int64) (*domain.Record, bool) {
	return s.Store.Get(userID)
}

// RegisterUser lazily creates a record for a user who contacted the bot.
// Idempotent: an existing record is left untouched.
func (s *GateService) RegisterUser(ctx context.Context, userID int64) error {
	return s.Store.Update(ctx, func(tx *store.Txn) error {
		tx.FindOrCreate(userID)
		return nil
	})
}

// RequestConfirmation moves a user from unlinked to confirming and starts
// the external handshake for the given wiki username. It returns the
// handshake token the user must complete.
//
// Rejections: ErrAlreadyConfirmed, ErrConfirmationInProgress, ErrRefused.
// When the handshake cannot be initiated (unknown account, transport
// failure) the confirming flag is rolled back and the attempt fails hard.
func (s *GateService) RequestConfirmation(ctx context.Context, userID int64, username string) (string, error) {
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		r := tx.FindOrCreate(userID)
		switch {
		case r.Refused:
			return ErrRefused
		case r.Confirmed:
			return ErrAlreadyConfirmed
		case r.Confirming:
			// Only a live handshake blocks a new attempt. A confirming
			// flag whose handshake expired unredeemed would otherwise
			// lock the user out for good.
			if s.Verifier.PendingLink(userID) {
				return ErrConfirmationInProgress
			}
		}
		r.Confirming = true
		return nil
	})
	if err != nil {
		return "", err
	}

	// Handshake initiation happens outside the store lock.
	token, err := s.Verifier.BeginLink(ctx, userID, username)
	if err != nil {
		s.clearConfirming(ctx, userID)
		return "", err
	}
	return token, nil
}

// CompleteConfirmation finishes the handshake for userID: it redeems the
// pending link, checks eligibility, and commits the confirmed state after
// re-validating, under the lock, that the attempt is still in flight and
// that no other record holds a confirmed link to the same account.
//
// Any failure clears the confirming flag; the user must re-request.
func (s *GateService) CompleteConfirmation(ctx context.Context, userID int64) (*domain.Record, error) {
	if r, ok := s.Store.Get(userID); !ok || !r.Confirming {
		return nil, ErrSessionLost
	}

	// Both verifier calls run outside the lock; their results are only
	// trusted after re-validation at commit time below.
	account, ok, err := s.Verifier.ExchangePendingLink(ctx, userID)
	if err != nil {
		s.clearConfirming(ctx, userID)
		return nil, ErrVerificationTransport
	}
	if !ok {
		s.clearConfirming(ctx, userID)
		return nil, ErrSessionLost
	}

	eligible, err := s.Verifier.LookupEligibility(ctx, account)
	if err != nil {
		s.clearConfirming(ctx, userID)
		return nil, ErrVerificationTransport
	}
	if !eligible {
		s.clearConfirming(ctx, userID)
		confirmationsTotal.WithLabelValues("ineligible").Inc()
		return nil, ErrIdentityNotEligible
	}

	var committed *domain.Record
	err = s.Store.Update(ctx, func(tx *store.Txn) error {
		r, found := tx.Find(userID)
		if !found || !r.Confirming {
			return ErrSessionLost
		}
		if _, taken := tx.ConfirmedByAccount(account, userID); taken {
			r.Confirming = false
			return nil // commit the cleared flag, report the conflict below
		}
		r.Confirming = false
		r.Confirmed = true
		r.LinkedAccount = account
		r.ConfirmedTime = s.Now().Unix()
		committed = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if committed == nil {
		confirmationsTotal.WithLabelValues("conflict").Inc()
		return nil, ErrIdentityAlreadyLinked
	}

	confirmationsTotal.WithLabelValues("confirmed").Inc()
	log.Info().Int64("user_id", userID).Int64("account", account).Msg("confirmation committed")
	s.reconcile(ctx, committed, s.Groups...)
	return committed, nil
}

// Deconfirm drops the confirmed flag. LinkedAccount and ConfirmedTime are
// history and survive. Calling it while unconfirmed is a reported no-op.
func (s *GateService) Deconfirm(ctx context.Context, userID int64) error {
	var after *domain.Record
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		r, ok := tx.Find(userID)
		if !ok || !r.Confirmed {
			return ErrNotConfirmed
		}
		r.Confirmed = false
		after = r.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	s.reconcile(ctx, after, s.Groups...)
	return nil
}

// Refuse is the operator override: it forces refused=true and clears both
// confirmation flags regardless of prior state.
func (s *GateService) Refuse(ctx context.Context, userID int64) error {
	var after *domain.Record
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		r := tx.FindOrCreate(userID)
		r.Refused = true
		r.Confirmed = false
		r.Confirming = false
		after = r.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	confirmationsTotal.WithLabelValues("refused").Inc()
	s.reconcile(ctx, after, s.Groups...)
	return nil
}

// Accept lifts a refusal. It clears only the refused flag; the user is back
// to unlinked and must confirm (or be whitelisted) like anyone else.
func (s *GateService) Accept(ctx context.Context, userID int64) error {
	return s.Store.Update(ctx, func(tx *store.Txn) error {
		r, ok := tx.Find(userID)
		if !ok || !r.Refused {
			return ErrNotRefused
		}
		r.Refused = false
		return nil
	})
}

// WhitelistAdd records a per-group exemption reason. Orthogonal to the
// confirmation machine: confirmed/refused flags are untouched.
func (s *GateService) WhitelistAdd(ctx context.Context, userID, group int64, reason string) error {
	var after *domain.Record
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		r := tx.FindOrCreate(userID)
		r.WhitelistReasons[group] = reason
		after = r.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	s.reconcile(ctx, after, group)
	return nil
}

// WhitelistRemove clears the exemption for one group.
func (s *GateService) WhitelistRemove(ctx context.Context, userID, group int64) error {
	var after *domain.Record
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		r, ok := tx.Find(userID)
		if !ok || !r.WhitelistedIn(group) {
			return ErrNotWhitelisted
		}
		delete(r.WhitelistReasons, group)
		after = r.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	s.reconcile(ctx, after, group)
	return nil
}

// NoteNewMember handles a join event: it lazily creates the record and
// reconciles the newcomer against the group, which mutes them unless a
// prior confirmation or whitelist entry is on file.
func (s *GateService) NoteNewMember(ctx context.Context, userID, group int64) error {
	var after *domain.Record
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		after = tx.FindOrCreate(userID).Clone()
		return nil
	})
	if err != nil {
		return err
	}
	s.reconcile(ctx, after, group)
	return nil
}

// AbandonConfirmation releases a record stuck in confirming after its
// handshake expired. A user with a live handshake is left alone, so calling
// this on behalf of the wrong user cannot destroy an attempt in flight.
func (s *GateService) AbandonConfirmation(ctx context.Context, userID int64) {
	if s.Verifier.PendingLink(userID) {
		return
	}
	s.clearConfirming(ctx, userID)
}

// clearConfirming rolls the confirming flag back after a failed handshake.
func (s *GateService) clearConfirming(ctx context.Context, userID int64) {
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		if r, ok := tx.Find(userID); ok && r.Confirming {
			r.Confirming = false
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to clear confirming flag")
	}
}

// reconcile applies moderation actions for the given groups and commits any
// restriction bookkeeping the reconciler reports.
func (s *GateService) reconcile(ctx context.Context, rec *domain.Record, groups ...int64) {
	if s.Reconciler == nil || rec == nil {
		return
	}
	until, changed := s.Reconciler.Sync(ctx, rec, groups)
	if !changed {
		return
	}
	err := s.Store.Update(ctx, func(tx *store.Txn) error {
		if r, ok := tx.Find(rec.UserID); ok {
			r.RestrictedUntil = until
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", rec.UserID).Msg("failed to persist restriction bookkeeping")
	}
}
