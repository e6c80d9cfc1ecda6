package sign

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Persisted key format: private keys are PKCS#8 DER, public keys are
// SubjectPublicKeyInfo DER. Text files hold the DER either base64-encoded
// on one line or PEM-armored. Raw 32-byte public keys and 32/64-byte
// private keys are accepted on input for older key files.

const (
	pemTypePrivate = "PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
)

func MarshalPrivateKeyDER(priv ed25519.PrivateKey) ([]byte, error) {
	if l := len(priv); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", l)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}

func MarshalPublicKeyDER(pub ed25519.PublicKey) ([]byte, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", l)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return der, nil
}

// EncodePrivateKeyBase64 returns base64(PKCS#8 DER).
func EncodePrivateKeyBase64(priv ed25519.PrivateKey) (string, error) {
	der, err := MarshalPrivateKeyDER(priv)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// EncodePublicKeyBase64 returns base64(SPKI DER).
func EncodePublicKeyBase64(pub ed25519.PublicKey) (string, error) {
	der, err := MarshalPublicKeyDER(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func EncodePrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := MarshalPrivateKeyDER(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: der}), nil
}

func EncodePublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKeyDER(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: der}), nil
}

// ParsePrivateKey accepts PEM, base64 text or binary DER.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	raw, err := keyBytes(data, pemTypePrivate)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return parsePrivateKeyBytes(raw)
}

// ParsePublicKey accepts PEM, base64 text or binary DER.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	raw, err := keyBytes(data, pemTypePublic)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return parsePublicKeyBytes(raw)
}

func ParsePrivateKeyBase64(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return parsePrivateKeyBytes(raw)
}

func ParsePublicKeyBase64(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return parsePublicKeyBytes(raw)
}

func parsePrivateKeyBytes(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key (length %d): %w", len(raw), err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", parsed)
	}
	return priv, nil
}

func parsePublicKeyBytes(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid public key (length %d): %w", len(raw), err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", parsed)
	}
	return pub, nil
}

// keyBytes unwraps PEM or base64 text. Input containing non-text bytes is
// binary DER and is returned untouched.
func keyBytes(data []byte, pemType string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	if !isText(data) {
		return data, nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, _ := pem.Decode(trimmed)
		if block == nil {
			return nil, fmt.Errorf("malformed PEM block")
		}
		if block.Type != pemType {
			return nil, fmt.Errorf("unexpected PEM type %q", block.Type)
		}
		return block.Bytes, nil
	}
	return base64.StdEncoding.DecodeString(string(trimmed))
}

func isText(data []byte) bool {
	for _, b := range data {
		if b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}
