package ecox

import (
	"fmt"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
)

// manifestCharset lists the bytes a manifest may contain: ASCII letters,
// digits, JSON structure, whitespace and the punctuation used in ids,
// timestamps, base64, emails and plain titles. Backslashes and non-ASCII
// bytes are refused, so JSON escapes never reach the parser.
var manifestCharset = func() [256]bool {
	var allowed [256]bool
	for c := 'a'; c <= 'z'; c++ {
		allowed[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		allowed[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		allowed[c] = true
	}
	for _, c := range []byte("{}[]:,\"._-+/=@()'!?&#%; \t\r\n\f\v") {
		allowed[c] = true
	}
	return allowed
}()

// checkManifestText applies the size ceiling and the character allowlist
// to raw manifest text before any parsing happens.
func checkManifestText(text []byte, limit int64) error {
	if int64(len(text)) > limit {
		return coreerrors.Fatal(
			fmt.Errorf("manifest too large: exceeds %d byte limit", limit),
			coreerrors.CategoryFormatInvalid,
			codeManifestTooLarge,
			"",
		)
	}
	if len(text) == 0 {
		return coreerrors.Fatal(fmt.Errorf("manifest is empty"), coreerrors.CategoryFormatInvalid, codeManifestCharset, "")
	}
	for offset, b := range text {
		if !manifestCharset[b] {
			return coreerrors.Fatal(
				fmt.Errorf("manifest contains invalid or unsupported characters (byte 0x%02x at offset %d)", b, offset),
				coreerrors.CategoryFormatInvalid,
				codeManifestCharset,
				"manifest text is limited to ASCII letters, digits and common punctuation",
			)
		}
	}
	return nil
}
