// Package directory defines the account directory the portal verifies identities against.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrPrincipalNotFound is returned when no account matches the principal name
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrUnavailable wraps transport, bind and search failures
	ErrUnavailable = errors.New("directory unavailable")

	// ErrPasswordRejected is returned when the directory refuses a new password (policy)
	ErrPasswordRejected = errors.New("password rejected by directory")
)

// Principal is a resolved directory account
type Principal struct {
	PrincipalName string
	DisplayName   string
	DN            string
}

// Directory is the account store behind the portal
type Directory interface {
	// Lookup resolves a canonical principal name (user@domain)
	Lookup(ctx context.Context, principal string) (*Principal, error)

	// Authenticate checks a password. A wrong password is (false, nil).
	Authenticate(ctx context.Context, principal, password string) (bool, error)

	// SetPassword replaces the account password
	SetPassword(ctx context.Context, principal, newPassword string) error
}
