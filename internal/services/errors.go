// Package services implements the confirmation state machine and the
// moderation reconciler. This file centralizes service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// All of these are expected, non-fatal outcomes. Translation into
// user-facing Telegram messages (or HTTP status codes) is performed at the
// transport layer.
package services

import "errors"

// Confirmation flow errors.
var (
	// ErrAlreadyConfirmed is returned when a user who already holds a
	// confirmed link tries to start another confirmation.
	ErrAlreadyConfirmed = errors.New("already confirmed")

	// ErrConfirmationInProgress is returned on a duplicate confirmation
	// attempt while a handshake is still in flight.
	ErrConfirmationInProgress = errors.New("confirmation already in progress")

	// ErrRefused marks a user an operator has denied confirmation rights.
	ErrRefused = errors.New("confirmation refused by operator")

	// ErrIdentityNotFound is returned when the requested wiki account does
	// not exist.
	ErrIdentityNotFound = errors.New("wiki account not found")

	// ErrIdentityNotEligible is returned when the wiki account fails the
	// edit-count or account-age requirement.
	ErrIdentityNotEligible = errors.New("wiki account not eligible")

	// ErrIdentityAlreadyLinked is returned when another user already holds
	// a confirmed link to the same wiki account. The second committer loses.
	ErrIdentityAlreadyLinked = errors.New("wiki account already linked to another user")

	// ErrVerificationTransport is returned when the wiki API could not be
	// reached. The attempt fails hard; the user must re-request.
	ErrVerificationTransport = errors.New("verification service unreachable")

	// ErrSessionLost is returned when a completion arrives with no matching
	// in-flight handshake.
	ErrSessionLost = errors.New("no confirmation in progress")
)

// Idempotent no-op outcomes.
var (
	// ErrNotConfirmed is returned by deconfirm when there is nothing to
	// deconfirm. State is never mutated.
	ErrNotConfirmed = errors.New("not confirmed")

	// ErrNotRefused is returned by accept when the user is not refused.
	ErrNotRefused = errors.New("not refused")

	// ErrNotWhitelisted is returned when removing an absent whitelist entry.
	ErrNotWhitelisted = errors.New("not whitelisted in this group")
)

// Membership side-effect failures. The reconciler swallows these (logged,
// not propagated) since they reflect external state the bot cannot control.
var (
	// ErrPermissionDenied means the bot lacks the rights for a membership
	// action in the target group.
	ErrPermissionDenied = errors.New("insufficient rights in group")

	// ErrTargetNotFound means the target user is no longer in the group.
	ErrTargetNotFound = errors.New("user not found in group")

	// ErrAdministratorProtected means the target is a group administrator
	// and cannot be restricted.
	ErrAdministratorProtected = errors.New("user is a protected administrator")
)
