package services

import (
	"errors"
	"fmt"

	"github.com/devilmonastery/passgate/internal/domain/repositories"
)

// Flow-level error kinds. Web handlers and the bot map these to user-facing messages.
var (
	ErrNotFound               = errors.New("login not found")
	ErrUnsupportedDomain      = errors.New("login domain not supported")
	ErrDirectoryUnavailable   = errors.New("directory unavailable")
	ErrTokenMismatch          = errors.New("challenge token mismatch")
	ErrNoTokenOutstanding     = errors.New("no challenge token outstanding")
	ErrDestinationUnavailable = errors.New("destination not bound")
	ErrPersistenceFailure     = errors.New("failed to persist identity")
	ErrUnsupportedDestination = errors.New("destination not supported")
	ErrPasswordRejected       = errors.New("password rejected")
	ErrInvalidCredentials     = errors.New("invalid login or password")
	ErrSessionInvalid         = errors.New("session invalid or expired")
	ErrChatAlreadyBound       = errors.New("chat already linked to another login")
)

// persistErr wraps a store failure so callers can match ErrPersistenceFailure
// while the cause stays inspectable.
func persistErr(op string, err error) error {
	if errors.Is(err, repositories.ErrChatAlreadyBound) {
		return ErrChatAlreadyBound
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailure, op, err)
}

// IsUserError reports whether err is an expected flow outcome rather than a fault.
// A store failure is always a fault, even when joined with a flow outcome.
func IsUserError(err error) bool {
	if errors.Is(err, ErrPersistenceFailure) {
		return false
	}
	for _, known := range []error{
		ErrNotFound, ErrUnsupportedDomain, ErrTokenMismatch, ErrNoTokenOutstanding,
		ErrDestinationUnavailable, ErrUnsupportedDestination, ErrPasswordRejected,
		ErrInvalidCredentials, ErrSessionInvalid, ErrChatAlreadyBound,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// UserMessage returns the text shown to a user for a flow error
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPersistenceFailure):
		return "Something went wrong. Please start over."
	case errors.Is(err, ErrNotFound):
		return "Login not found."
	case errors.Is(err, ErrUnsupportedDomain):
		return "This login domain is not supported."
	case errors.Is(err, ErrTokenMismatch), errors.Is(err, ErrNoTokenOutstanding):
		return "The confirmation code is wrong or has already been used. Request a new one."
	case errors.Is(err, ErrDestinationUnavailable):
		return "Nothing to reset with: this channel is not linked to your account."
	case errors.Is(err, ErrPasswordRejected):
		return "Could not set the password. Check that it meets the password policy."
	case errors.Is(err, ErrInvalidCredentials):
		return "Wrong login or password."
	case errors.Is(err, ErrChatAlreadyBound):
		return "This chat is already linked to another account."
	case errors.Is(err, ErrDirectoryUnavailable):
		return "The directory is not reachable right now. Try again later."
	default:
		return "Something went wrong. Please start over."
	}
}
