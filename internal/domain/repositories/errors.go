package repositories

import "errors"

// Domain-specific repository errors
var (
	// ErrIdentityNotFound is returned when an identity record cannot be found
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrSessionNotFound is returned when a browser session cannot be found
	ErrSessionNotFound = errors.New("session not found")

	// ErrVersionConflict is returned when an update lost a race with another writer
	ErrVersionConflict = errors.New("identity version conflict")

	// ErrChatAlreadyBound is returned when a chat id is already bound to another identity
	ErrChatAlreadyBound = errors.New("chat already bound to another identity")
)
