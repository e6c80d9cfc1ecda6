package sign

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"
)

// KeyConfig names where signing and verification keys come from. Each key
// has at most one source: a file path or an environment variable holding
// the same text a key file would. Private key files sealed with age need
// PassphraseEnv.
type KeyConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PrivateKeyEnv  string
	PublicKeyEnv   string
	PassphraseEnv  string
}

func LoadSigningKey(cfg KeyConfig) (KeyPair, error) {
	if !cfg.hasPrivateSource() {
		return KeyPair{}, fmt.Errorf("private key not configured")
	}
	priv, err := loadPrivateKey(cfg)
	if err != nil {
		return KeyPair{}, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if cfg.hasPublicSource() {
		loaded, err := loadPublicKey(cfg)
		if err != nil {
			return KeyPair{}, err
		}
		if !loaded.Equal(pub) {
			return KeyPair{}, fmt.Errorf("public key does not match private key")
		}
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// LoadVerifyKey prefers an explicit public key and falls back to deriving
// it from a configured private key.
func LoadVerifyKey(cfg KeyConfig) (ed25519.PublicKey, error) {
	if cfg.hasPublicSource() {
		return loadPublicKey(cfg)
	}
	if cfg.hasPrivateSource() {
		priv, err := loadPrivateKey(cfg)
		if err != nil {
			return nil, err
		}
		return priv.Public().(ed25519.PublicKey), nil
	}
	return nil, fmt.Errorf("public key not configured")
}

func (cfg KeyConfig) hasPrivateSource() bool {
	return cfg.PrivateKeyPath != "" || cfg.PrivateKeyEnv != ""
}

func (cfg KeyConfig) hasPublicSource() bool {
	return cfg.PublicKeyPath != "" || cfg.PublicKeyEnv != ""
}

func loadPrivateKey(cfg KeyConfig) (ed25519.PrivateKey, error) {
	if cfg.PrivateKeyPath != "" && cfg.PrivateKeyEnv != "" {
		return nil, fmt.Errorf("private key source: set either path or env")
	}
	var data []byte
	switch {
	case cfg.PrivateKeyPath != "":
		// #nosec G304 -- caller supplies local key path by design
		raw, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		data = raw
	case cfg.PrivateKeyEnv != "":
		encoded, ok := readEnvValue(cfg.PrivateKeyEnv)
		if !ok {
			return nil, fmt.Errorf("private key env not set: %s", cfg.PrivateKeyEnv)
		}
		data = []byte(encoded)
	default:
		return nil, fmt.Errorf("private key not configured")
	}
	if IsSealed(data) {
		if cfg.PassphraseEnv == "" {
			return nil, fmt.Errorf("private key is sealed; passphrase env not configured")
		}
		passphrase, ok := readEnvValue(cfg.PassphraseEnv)
		if !ok {
			return nil, fmt.Errorf("passphrase env not set: %s", cfg.PassphraseEnv)
		}
		return UnsealPrivateKey(data, passphrase)
	}
	return ParsePrivateKey(data)
}

func loadPublicKey(cfg KeyConfig) (ed25519.PublicKey, error) {
	if cfg.PublicKeyPath != "" && cfg.PublicKeyEnv != "" {
		return nil, fmt.Errorf("public key source: set either path or env")
	}
	if cfg.PublicKeyPath != "" {
		return LoadPublicKeyFile(cfg.PublicKeyPath)
	}
	if cfg.PublicKeyEnv != "" {
		encoded, ok := readEnvValue(cfg.PublicKeyEnv)
		if !ok {
			return nil, fmt.Errorf("public key env not set: %s", cfg.PublicKeyEnv)
		}
		return ParsePublicKey([]byte(encoded))
	}
	return nil, fmt.Errorf("public key not configured")
}

func readEnvValue(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false
	}
	return val, true
}
