package vault

import "errors"

var (
	// ErrNoKey is returned when a bot has no stored credential.
	ErrNoKey = errors.New("no credential stored")

	// ErrMalformed is returned when sealed material cannot be decoded or
	// fails authentication, e.g. after a master key rotation.
	ErrMalformed = errors.New("malformed credential material")
)
