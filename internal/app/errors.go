/**
 * @description
 * Sentinel errors for business-rule violations in the app layer. The API layer
 * maps these to HTTP status codes with errors.Is, keeping infrastructure
 * failures (which become 500s) distinct from caller mistakes.
 */
package app

import "errors"

var (
	// ErrInvalidAmount is returned when a grant or spend amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be a positive integer")
	// ErrEmptyReason is returned when a ledger mutation arrives without a reason.
	ErrEmptyReason = errors.New("reason must not be empty")
	// ErrInvalidReferenceType is returned when a spend names a reference type
	// that is not a feature spend.
	ErrInvalidReferenceType = errors.New("reference type is not spendable")
	// ErrEmptyIgnoreReason is returned when an admin ignores a refund without a reason.
	ErrEmptyIgnoreReason = errors.New("ignore reason must not be empty")
	// ErrNoUserMapped is returned when a refund is processed while no user is
	// mapped to the item and no override was supplied.
	ErrNoUserMapped = errors.New("no user mapped to refund queue item")
	// ErrUnknownPack is returned when a checkout references an unknown credit pack.
	ErrUnknownPack = errors.New("unknown credit pack")
)
