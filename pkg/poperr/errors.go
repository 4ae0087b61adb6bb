// Package poperr defines the error taxonomy shared by the PoP agent packages.
//
// Every failure surfaced by the agent wraps exactly one of these sentinels so
// callers can branch with errors.Is and present a distinct, actionable state
// ("re-register device" versus "access denied") instead of a generic failure.
package poperr

import "errors"

var (
	// ErrKeyUnavailable indicates device key material is missing, corrupt, or
	// cannot be used for signing.
	ErrKeyUnavailable = errors.New("device key unavailable")

	// ErrNotRegistered indicates an operation that requires a registered device
	// was attempted before registration succeeded.
	ErrNotRegistered = errors.New("device not registered")

	// ErrMalformedToken indicates a token that is not three base64url segments
	// with a structured claims payload.
	ErrMalformedToken = errors.New("malformed token")

	// ErrNoCurrentToken indicates no token is held, or its jti cannot be resolved.
	ErrNoCurrentToken = errors.New("no current token")

	// ErrSigningFailed indicates the signing primitive rejected the key or message.
	ErrSigningFailed = errors.New("signing failed")

	// ErrAccessDenied indicates the gateway rejected a signature or token.
	ErrAccessDenied = errors.New("access denied")

	// ErrChallengeRejected indicates the gateway rejected a challenge response.
	ErrChallengeRejected = errors.New("challenge rejected")

	// ErrNetwork indicates a transport-level failure reaching the gateway.
	ErrNetwork = errors.New("network error")
)

// IsLocal reports whether err is a local state problem that must not be
// retried automatically: the device needs re-registration or re-issuance.
func IsLocal(err error) bool {
	return errors.Is(err, ErrKeyUnavailable) ||
		errors.Is(err, ErrNotRegistered) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrNoCurrentToken) ||
		errors.Is(err, ErrSigningFailed)
}
