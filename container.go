package keystorekit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Container types understood by Decode and Encode.
const (
	TypeJKS    = "JKS"
	TypePKCS12 = "PKCS12"
	TypeJCEKS  = "JCEKS"
)

const (
	jksMagic   uint32 = 0xFEEDFEED
	jceksMagic uint32 = 0xCECECECE
)

var (
	// ErrUnsupportedType is returned for container types the codec cannot
	// read and write with alias fidelity.
	ErrUnsupportedType = errors.New("unsupported keystore type")

	// ErrAliasExists is returned when an alias is already taken.
	ErrAliasExists = errors.New("alias already exists")

	// ErrAliasNotFound is returned when an alias does not resolve to an entry.
	ErrAliasNotFound = errors.New("alias not found")

	// ErrInvalidEntry is returned for entries that cannot be stored.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrKeyMismatch is returned when a private key does not belong to the
	// certificate it is paired with.
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

// DecodeError reports a container blob that could not be decoded because it
// is corrupt, the password is wrong, or its type is unsupported.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s container: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports an entry set that could not be serialized.
type EncodeError struct {
	Type  string
	Alias string
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("encoding %s container (alias %q): %v", e.Type, e.Alias, e.Err)
	}
	return fmt.Sprintf("encoding %s container: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// NormalizeType upper-cases a container type name and maps common aliases
// ("P12", "PFX") to their canonical form.
func NormalizeType(typ string) string {
	t := strings.ToUpper(strings.TrimSpace(typ))
	switch t {
	case "P12", "PFX", "PKCS#12":
		return TypePKCS12
	}
	return t
}

// SupportedType reports whether Decode and Encode accept typ.
func SupportedType(typ string) bool {
	return NormalizeType(typ) == TypeJKS
}

// Decode parses a container blob into an entry set. An empty blob decodes to
// an empty set. The password opens both the store and its key entries.
func Decode(blob []byte, typ string, password []byte) (*EntrySet, error) {
	t := NormalizeType(typ)
	if !SupportedType(t) {
		return nil, &DecodeError{Type: t, Err: ErrUnsupportedType}
	}
	if len(blob) == 0 {
		return NewEntrySet(), nil
	}
	set, err := decodeJKS(blob, password)
	if err != nil {
		return nil, &DecodeError{Type: t, Err: err}
	}
	return set, nil
}

// Encode serializes an entry set. It never returns a partial blob.
func Encode(set *EntrySet, typ string, password []byte) ([]byte, error) {
	t := NormalizeType(typ)
	if !SupportedType(t) {
		return nil, &EncodeError{Type: t, Err: ErrUnsupportedType}
	}
	if set == nil {
		set = NewEntrySet()
	}
	blob, err := encodeJKS(set, password)
	if err != nil {
		var encErr *EncodeError
		if errors.As(err, &encErr) {
			encErr.Type = t
			return nil, encErr
		}
		return nil, &EncodeError{Type: t, Err: err}
	}
	return blob, nil
}

// SniffType guesses the container type from its leading magic bytes. It
// returns "" when the data does not look like a Java keystore.
func SniffType(data []byte) string {
	if len(data) < 8 {
		return ""
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != 1 && version != 2 {
		return ""
	}
	switch binary.BigEndian.Uint32(data[0:4]) {
	case jksMagic:
		return TypeJKS
	case jceksMagic:
		return TypeJCEKS
	}
	return ""
}
