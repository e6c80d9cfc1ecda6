package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/fsx"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

type keysInitOutput struct {
	OK             bool   `json:"ok"`
	Prefix         string `json:"prefix,omitempty"`
	KeyID          string `json:"key_id,omitempty"`
	PublicKeyPath  string `json:"public_key_path,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Sealed         bool   `json:"sealed,omitempty"`
	errorFields
}

type keyFileOptions struct {
	outDir        string
	prefix        string
	force         bool
	passphraseEnv string
	workFactor    int
}

func runKeys(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Manage the Ed25519 keys that sign and verify .ecox manifests.")
	}
	if len(arguments) == 0 {
		printKeysUsage()
		return exitInvalidInput
	}
	if arguments[0] == "--help" || arguments[0] == "-h" {
		printKeysUsage()
		return exitOK
	}
	switch arguments[0] {
	case "init":
		return runKeysInit(arguments[1:])
	default:
		printKeysUsage()
		return exitInvalidInput
	}
}

func runKeysInit(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Generate an Ed25519 keypair and write PKCS#8/SPKI key files, optionally sealing the private key with a passphrase.")
	}
	flagSet := pflag.NewFlagSet("keys-init", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var options keyFileOptions
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&options.outDir, "out-dir", filepath.Join(".eco", "keys"), "directory for generated key files")
	flagSet.StringVar(&options.prefix, "prefix", "eco", "key file prefix")
	flagSet.BoolVar(&options.force, "force", false, "overwrite existing key files")
	flagSet.StringVar(&options.passphraseEnv, "passphrase-env", "", "seal the private key with the passphrase held in this env var")
	flagSet.IntVar(&options.workFactor, "work-factor", sign.DefaultSealWorkFactor, "scrypt work factor for sealed keys")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: classify(invalidInput(err.Error()))}, exitInvalidInput)
	}
	if helpFlag {
		printKeysInitUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: classify(invalidInput("unexpected positional arguments"))}, exitInvalidInput)
	}

	result, err := createSigningKeypair(options)
	if err != nil {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: classify(err)}, exitCodeForError(err, exitInvalidInput))
	}
	return writeKeysInitOutput(jsonOutput, result, exitOK)
}

func createSigningKeypair(options keyFileOptions) (keysInitOutput, error) {
	outDir := strings.TrimSpace(options.outDir)
	if outDir == "" {
		return keysInitOutput{}, invalidInput("out-dir must not be empty")
	}
	prefix := strings.TrimSpace(options.prefix)
	if prefix == "" {
		return keysInitOutput{}, invalidInput("prefix must not be empty")
	}
	if strings.ContainsAny(prefix, `/\`) {
		return keysInitOutput{}, invalidInput("prefix must be a plain file name prefix")
	}

	kp, err := sign.GenerateKeyPair()
	if err != nil {
		return keysInitOutput{}, coreerrors.Fatal(fmt.Errorf("generate keypair: %w", err), coreerrors.CategoryInternalFailure, "keygen_failed", "")
	}
	privateText, sealed, err := encodePrivateKeyFile(kp, options)
	if err != nil {
		return keysInitOutput{}, err
	}
	publicText, err := sign.EncodePublicKeyPEM(kp.Public)
	if err != nil {
		return keysInitOutput{}, coreerrors.Fatal(err, coreerrors.CategoryInternalFailure, "keygen_failed", "")
	}

	privatePath := filepath.Join(outDir, prefix+"_private.key")
	publicPath := filepath.Join(outDir, prefix+"_public.pem")
	if err := writeKeyFile(privatePath, privateText, 0o600, options.force); err != nil {
		return keysInitOutput{}, err
	}
	if err := writeKeyFile(publicPath, publicText, 0o644, options.force); err != nil {
		return keysInitOutput{}, err
	}

	return keysInitOutput{
		OK:             true,
		Prefix:         prefix,
		KeyID:          sign.KeyID(kp.Public),
		PublicKeyPath:  publicPath,
		PrivateKeyPath: privatePath,
		Sealed:         sealed,
	}, nil
}

func encodePrivateKeyFile(kp sign.KeyPair, options keyFileOptions) ([]byte, bool, error) {
	envName := strings.TrimSpace(options.passphraseEnv)
	if envName == "" {
		encoded, err := sign.EncodePrivateKeyBase64(kp.Private)
		if err != nil {
			return nil, false, coreerrors.Fatal(err, coreerrors.CategoryInternalFailure, "keygen_failed", "")
		}
		return []byte(encoded + "\n"), false, nil
	}
	passphrase := os.Getenv(envName)
	if passphrase == "" {
		return nil, false, coreerrors.Fatal(
			fmt.Errorf("passphrase env var %s is empty", envName),
			coreerrors.CategoryInvalidInput, "missing_passphrase",
			"export the passphrase before running keys init",
		)
	}
	sealed, err := sign.SealPrivateKey(kp.Private, passphrase, options.workFactor)
	if err != nil {
		return nil, false, coreerrors.Fatal(err, coreerrors.CategoryInternalFailure, "seal_failed", "")
	}
	return sealed, true, nil
}

func writeKeyFile(path string, content []byte, mode os.FileMode, force bool) error {
	var err error
	if force {
		err = fsx.WriteFileAtomic(path, content, mode)
	} else {
		err = fsx.WriteFileExclusive(path, content, mode)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return coreerrors.Fatal(fmt.Errorf("key path already exists (use --force): %s", path), coreerrors.CategoryInvalidInput, "key_exists", "pass --force to replace existing keys")
	}
	return coreerrors.Fatal(fmt.Errorf("write key file: %w", err), coreerrors.CategoryIOFailure, "write_failed", "check that the key directory is writable")
}

func invalidInput(message string) error {
	return coreerrors.Fatal(errors.New(message), coreerrors.CategoryInvalidInput, "invalid_input", "")
}

func writeKeysInitOutput(jsonOutput bool, output keysInitOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("keys init ok: key_id=%s public=%s private=%s sealed=%t\n", output.KeyID, output.PublicKeyPath, output.PrivateKeyPath, output.Sealed)
		return exitCode
	}
	fmt.Printf("keys init error: %s\n", output.Error)
	return exitCode
}

func printKeysUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco keys init [--out-dir .eco/keys] [--prefix eco] [--force] [--passphrase-env <VAR>] [--json] [--explain]")
}

func printKeysInitUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco keys init [--out-dir .eco/keys] [--prefix eco] [--force] [--passphrase-env <VAR>] [--work-factor 18] [--json] [--explain]")
}
