package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Encode produces the canonical JSON bytes for v: sorted object keys
// (guaranteed by encoding/json for map types; struct field order is
// the struct's declaration order), UTF-8, and no insignificant
// whitespace. Callers must not pass a value whose JSON shape depends
// on map iteration order for anything other than map[string]* types.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	return b, nil
}

// Hash returns the lowercase-hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashValue canonically encodes v and returns its hash. Equivalent to
// Hash(Encode(v)) but returns the encode error instead of panicking.
func HashValue(v any) (string, []byte, error) {
	b, err := Encode(v)
	if err != nil {
		return "", nil, err
	}
	return Hash(b), b, nil
}

// Verify reports whether hash is the SHA-256 digest of b.
func Verify(hash string, b []byte) bool {
	return Hash(b) == hash
}
