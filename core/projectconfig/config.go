package projectconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

const DefaultPath = ".eco/config.yaml"

type Config struct {
	Signing SigningDefaults `yaml:"signing"`
	Verify  VerifyDefaults  `yaml:"verify"`
	Archive ArchiveDefaults `yaml:"archive"`
	Log     LogDefaults     `yaml:"log"`
}

type SigningDefaults struct {
	KeyID         string `yaml:"key_id"`
	PrivateKey    string `yaml:"private_key"` // #nosec G117 -- config key name documents expected secret input.
	PrivateKeyEnv string `yaml:"private_key_env"`
	PassphraseEnv string `yaml:"passphrase_env"`
	SpecVersion   string `yaml:"spec_version"`
}

type VerifyDefaults struct {
	PublicKey        string `yaml:"public_key"`
	PublicKeyEnv     string `yaml:"public_key_env"`
	ExpectedKeyID    string `yaml:"expected_key_id"`
	MaxManifestBytes int64  `yaml:"max_manifest_bytes"`
}

type ArchiveDefaults struct {
	CompressionLevel int `yaml:"compression_level"`
}

type LogDefaults struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

// SigningKeyConfig maps the signing section onto key sources.
func (configuration Config) SigningKeyConfig() sign.KeyConfig {
	return sign.KeyConfig{
		PrivateKeyPath: configuration.Signing.PrivateKey,
		PrivateKeyEnv:  configuration.Signing.PrivateKeyEnv,
		PassphraseEnv:  configuration.Signing.PassphraseEnv,
	}
}

// VerifyKeyConfig maps the verify section onto key sources.
func (configuration Config) VerifyKeyConfig() sign.KeyConfig {
	return sign.KeyConfig{
		PublicKeyPath: configuration.Verify.PublicKey,
		PublicKeyEnv:  configuration.Verify.PublicKeyEnv,
	}
}

func (configuration *Config) normalize() {
	configuration.Signing.KeyID = strings.TrimSpace(configuration.Signing.KeyID)
	configuration.Signing.PrivateKey = strings.TrimSpace(configuration.Signing.PrivateKey)
	configuration.Signing.PrivateKeyEnv = strings.TrimSpace(configuration.Signing.PrivateKeyEnv)
	configuration.Signing.PassphraseEnv = strings.TrimSpace(configuration.Signing.PassphraseEnv)
	configuration.Signing.SpecVersion = strings.TrimSpace(configuration.Signing.SpecVersion)
	configuration.Verify.PublicKey = strings.TrimSpace(configuration.Verify.PublicKey)
	configuration.Verify.PublicKeyEnv = strings.TrimSpace(configuration.Verify.PublicKeyEnv)
	configuration.Verify.ExpectedKeyID = strings.TrimSpace(configuration.Verify.ExpectedKeyID)
	configuration.Log.Level = strings.ToLower(strings.TrimSpace(configuration.Log.Level))
	configuration.Log.Format = strings.ToLower(strings.TrimSpace(configuration.Log.Format))
}

func (configuration Config) validate() error {
	if configuration.Verify.MaxManifestBytes < 0 {
		return fmt.Errorf("verify.max_manifest_bytes must not be negative")
	}
	if level := configuration.Archive.CompressionLevel; level < -2 || level > 9 {
		return fmt.Errorf("archive.compression_level must be between -2 and 9, got %d", level)
	}
	switch configuration.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log.level %q", configuration.Log.Level)
	}
	switch configuration.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log.format %q", configuration.Log.Format)
	}
	return nil
}
