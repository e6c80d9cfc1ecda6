package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// SignCanonical signs the UTF-8 bytes of an already canonical string.
func SignCanonical(priv ed25519.PrivateKey, canonical string) ([]byte, error) {
	return SignBytes(priv, []byte(canonical))
}

// VerifyCanonical checks sig over the UTF-8 bytes of canonical. It never
// fails loudly: any mismatch or malformed input is simply false.
func VerifyCanonical(pub ed25519.PublicKey, canonical string, sig []byte) bool {
	return VerifyBytes(pub, []byte(canonical), sig)
}

// SignCanonicalBase64 is SignCanonical with the base64 form stored in
// manifest signature blocks.
func SignCanonicalBase64(priv ed25519.PrivateKey, canonical string) (string, error) {
	sig, err := SignCanonical(priv, canonical)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func VerifyCanonicalBase64(pub ed25519.PublicKey, canonical, encodedSig string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(encodedSig)
	if err != nil {
		return false, fmt.Errorf("decode sig: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	return VerifyCanonical(pub, canonical, sig), nil
}
