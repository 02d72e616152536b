// Package linker tracks pending account-link handshakes. A handshake is
// parked under an opaque token when a confirmation starts, completed
// out-of-band (inline button press or HTTP callback), and exchanged exactly
// once when the confirmation commits. Entries expire after a TTL so an
// abandoned attempt cannot be redeemed later.
package linker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds the lifetime of a pending handshake.
const DefaultTTL = 15 * time.Minute

// pending is one in-flight handshake.
type pending struct {
	userID    int64
	accountID int64
	completed bool
	expires   time.Time
}

// Registry is an in-memory pending-link store. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	byToken map[string]*pending
	byUser  map[int64]string // user id -> active token

	now func() time.Time
}

// New returns a Registry with the given TTL; ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		byToken: map[string]*pending{},
		byUser:  map[int64]string{},
		now:     time.Now,
	}
}

// Begin parks a handshake for userID resolving to accountID and returns its
// token. A previous pending handshake for the same user is discarded: one
// attempt per user at a time.
func (r *Registry) Begin(userID, accountID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok {
		delete(r.byToken, old)
	}

	token := uuid.NewString()
	r.byToken[token] = &pending{
		userID:    userID,
		accountID: accountID,
		expires:   r.now().Add(r.ttl),
	}
	r.byUser[userID] = token
	r.gcLocked()
	return token
}

// Complete marks the handshake for token as finished by the external side.
// It reports whether a live pending entry was found.
func (r *Registry) Complete(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byToken[token]
	if !ok || r.now().After(p.expires) {
		return false
	}
	p.completed = true
	return true
}

// Exchange redeems the completed handshake for userID, removing it. ok is
// false when there is no pending entry, it expired, or it was never
// completed.
func (r *Registry) Exchange(userID int64) (accountID int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, found := r.byUser[userID]
	if !found {
		return 0, false
	}
	p := r.byToken[token]
	delete(r.byUser, userID)
	delete(r.byToken, token)

	if p == nil || !p.completed || r.now().After(p.expires) {
		return 0, false
	}
	return p.accountID, true
}

// Owner reports which user a live token belongs to.
func (r *Registry) Owner(token string) (userID int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, found := r.byToken[token]
	if !found || r.now().After(p.expires) {
		return 0, false
	}
	return p.userID, true
}

// Pending reports whether a live handshake is parked for userID.
func (r *Registry) Pending(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byUser[userID]
	if !ok {
		return false
	}
	p := r.byToken[token]
	return p != nil && !r.now().After(p.expires)
}

// Abandon drops any pending handshake for userID.
func (r *Registry) Abandon(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token, ok := r.byUser[userID]; ok {
		delete(r.byToken, token)
		delete(r.byUser, userID)
	}
}

// gcLocked removes expired entries. Called opportunistically under the lock.
func (r *Registry) gcLocked() {
	now := r.now()
	for token, p := range r.byToken {
		if now.After(p.expires) {
			delete(r.byToken, token)
			delete(r.byUser, p.userID)
		}
	}
}
