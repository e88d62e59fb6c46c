// Package wallet implements the challenge/response wallet authentication
// protocol: single-use nonces, Ed25519 signature verification, and
// short-lived bearer credentials.
package wallet

import "errors"

// Authentication errors. Each maps to a stable machine-readable kind.
var (
	// ErrInvalidSignature indicates the signature does not match the
	// canonical challenge for the claimed public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNonceExpired indicates the nonce outlived its TTL before login.
	ErrNonceExpired = errors.New("nonce expired")

	// ErrNonceConsumed indicates the nonce was already used by a login.
	ErrNonceConsumed = errors.New("nonce already consumed")

	// ErrUnknownNonce indicates no nonce is known for the public key, or
	// the presented value does not match the issued one.
	ErrUnknownNonce = errors.New("unknown nonce")

	// ErrCredentialExpired indicates the bearer credential is past expiry.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrInvalidCredential indicates the bearer credential failed verification.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidPubKey indicates the address is not a valid base58-encoded
	// 32-byte Ed25519 public key.
	ErrInvalidPubKey = errors.New("invalid public key")
)

// ErrorKind returns the stable error-kind label for an authentication error,
// or "internal" for anything outside the taxonomy.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrNonceExpired):
		return "nonce_expired"
	case errors.Is(err, ErrNonceConsumed):
		return "nonce_consumed"
	case errors.Is(err, ErrUnknownNonce):
		return "unknown_nonce"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrInvalidPubKey):
		return "invalid_pubkey"
	default:
		return "internal"
	}
}
