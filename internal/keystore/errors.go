package keystore

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerNotFound is returned when no container has the given id.
	ErrContainerNotFound = errors.New("container not found")

	// ErrVersionConflict is returned when a container changed between read
	// and write.
	ErrVersionConflict = errors.New("container version conflict")

	// ErrNotKeyEntry is returned when a key operation targets a
	// certificate-only entry.
	ErrNotKeyEntry = errors.New("entry has no private key")
)

// ValidationError reports a missing or malformed argument. It is returned
// before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid argument %s: required", e.Field)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// DuplicateAliasError reports a rename onto an alias that is already taken.
type DuplicateAliasError struct {
	Alias       string
	ContainerID string
}

func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("alias %q already exists in container %s", e.Alias, e.ContainerID)
}

// CryptographyError wraps a failure to decrypt the container password or to
// decode or encode the container blob.
type CryptographyError struct {
	Op          string
	Alias       string
	ContainerID string
	Err         error
}

func (e *CryptographyError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("%s alias %q in container %s: %v", e.Op, e.Alias, e.ContainerID, e.Err)
	}
	return fmt.Sprintf("%s container %s: %v", e.Op, e.ContainerID, e.Err)
}

func (e *CryptographyError) Unwrap() error { return e.Err }
