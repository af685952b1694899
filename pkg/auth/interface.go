package auth

import "errors"

var (
	// ErrMissingCredential is returned when no credential accompanied the request.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential is returned when the credential is not in the allowlist.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNotConfigured is returned when the allowlist is empty. The service
	// fails closed: an unconfigured deployment admits nobody.
	ErrNotConfigured = errors.New("credential allowlist not configured")
)

// Identity is the stable identity derived from a validated credential.
type Identity struct {
	// UserID is a one-way hash of the credential; it never exposes the key
	// itself and is stable across requests.
	UserID string
}

// Validator maps an opaque credential to a stable identity.
type Validator interface {
	Validate(credential string) (*Identity, error)
}
