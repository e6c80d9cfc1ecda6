package jcs

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// Canonicalize encodes value and returns its RFC 8785 canonical string.
// Object keys are sorted, array order is preserved and numbers use the
// ECMAScript shortest round-trip form. Cyclic structures and values JSON
// cannot represent (channels, funcs, NaN, infinities) are rejected.
//
// RFC 8785 orders keys by UTF-16 code units, not UTF-8 bytes. The two
// orders agree except when a key with a character above U+FFFF is compared
// with one holding a character in U+E000..U+FFFF. Manifests are ASCII-only,
// so CanonicalizeManifest is unaffected; other callers with such keys get
// the UTF-16 order.
func Canonicalize(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode canonical input: %w", err)
	}
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return string(canonical), nil
}
