// Package identity glues the wiki client and the pending-link registry into
// the IdentityVerifier contract the gate service consumes, translating
// transport-level failures onto the service error taxonomy.
package identity

import (
	"context"
	"errors"

	"github.com/avecha/wikigate/internal/linker"
	"github.com/avecha/wikigate/internal/mediawiki"
	"github.com/avecha/wikigate/internal/services"
)

// Verifier implements services.IdentityVerifier.
type Verifier struct {
	Wiki  *mediawiki.Client
	Links *linker.Registry
}

// NewVerifier constructs a Verifier over the given collaborators.
func NewVerifier(wiki *mediawiki.Client, links *linker.Registry) *Verifier {
	return &Verifier{Wiki: wiki, Links: links}
}

// BeginLink resolves the username against the wiki and parks a pending
// handshake for userID, returning its token.
func (v *Verifier) BeginLink(ctx context.Context, userID int64, username string) (string, error) {
	name := mediawiki.CanonicalUsername(username)
	if name == "" {
		return "", services.ErrIdentityNotFound
	}

	acct, err := v.Wiki.LookupByName(ctx, name)
	if err != nil {
		if errors.Is(err, mediawiki.ErrAccountMissing) {
			return "", services.ErrIdentityNotFound
		}
		return "", services.ErrVerificationTransport
	}
	return v.Links.Begin(userID, acct.ID), nil
}

// ExchangePendingLink redeems the completed handshake for userID.
func (v *Verifier) ExchangePendingLink(ctx context.Context, userID int64) (int64, bool, error) {
	account, ok := v.Links.Exchange(userID)
	return account, ok, nil
}

// PendingLink reports whether a live handshake is still parked for userID.
func (v *Verifier) PendingLink(userID int64) bool {
	return v.Links.Pending(userID)
}

// LookupEligibility re-fetches the account by id and evaluates the
// activity requirements. An account that disappeared is simply ineligible.
func (v *Verifier) LookupEligibility(ctx context.Context, accountID int64) (bool, error) {
	acct, err := v.Wiki.LookupByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mediawiki.ErrAccountMissing) {
			return false, nil
		}
		return false, err
	}
	return v.Wiki.Eligible(acct), nil
}
