package challenge

import "errors"

// Precondition failures are surfaced to the player verbatim, so the message
// strings are part of the contract.
var (
	ErrNotAuthenticated     = errors.New("You are not signed in.")
	ErrInvalidCode          = errors.New("Invalid Challenge Code.")
	ErrChallengeInProgress  = errors.New("Challenge is already in progress.")
	ErrChallengeUnavailable = errors.New("Challenge is no longer available.")
)
