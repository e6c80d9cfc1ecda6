package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/ecox"
	"github.com/TemporalDynamics/verifysign-sub002/core/projectconfig"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

type verifyOutput struct {
	OK          bool              `json:"ok"`
	Path        string            `json:"path,omitempty"`
	ProjectID   string            `json:"project_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	KeyID       string            `json:"key_id,omitempty"`
	SignedAt    string            `json:"signed_at,omitempty"`
	Assets      int               `json:"assets,omitempty"`
	Segments    int               `json:"segments,omitempty"`
	Operations  int               `json:"operations,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	AssetChecks []ecox.AssetCheck `json:"asset_checks,omitempty"`
	errorFields
}

type verifyKeyFlags struct {
	publicKeyPath string
	publicKeyEnv  string
	expectedKeyID string
	maxManifest   int64
}

func (flags *verifyKeyFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&flags.publicKeyPath, "public-key", "", "path to public key file")
	flagSet.StringVar(&flags.publicKeyEnv, "public-key-env", "", "env var containing the public key")
	flagSet.StringVar(&flags.expectedKeyID, "expected-key-id", "", "require the signature to carry this key id")
	flagSet.Int64Var(&flags.maxManifest, "max-manifest-bytes", 0, "manifest size ceiling in bytes (default 1000000)")
}

// unpackOptions merges verify flags over the verify section of config.
func (flags verifyKeyFlags) unpackOptions(configuration projectconfig.Config, logger *slog.Logger) (ecox.UnpackOptions, error) {
	keyConfig := configuration.VerifyKeyConfig()
	if flags.publicKeyPath != "" || flags.publicKeyEnv != "" {
		keyConfig.PublicKeyPath = flags.publicKeyPath
		keyConfig.PublicKeyEnv = flags.publicKeyEnv
	}
	publicKey, err := sign.LoadVerifyKey(keyConfig)
	if err != nil {
		return ecox.UnpackOptions{}, coreerrors.Fatal(fmt.Errorf("load public key: %w", err), coreerrors.CategoryInvalidInput, "missing_key", "pass --public-key or configure verify.public_key")
	}
	maxManifest := configuration.Verify.MaxManifestBytes
	if flags.maxManifest > 0 {
		maxManifest = flags.maxManifest
	}
	return ecox.UnpackOptions{
		PublicKey:        publicKey,
		ExpectedKeyID:    firstNonEmpty(flags.expectedKeyID, configuration.Verify.ExpectedKeyID),
		MaxManifestBytes: maxManifest,
		Logger:           logger,
	}, nil
}

func runVerify(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Verify a .ecox archive offline: signature, schema and cross references. With --asset-dir, also re-hash asset files against the manifest.")
	}
	flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var keyFlags verifyKeyFlags
	var assetDir string
	var configPath string
	var logLevel string
	var jsonOutput bool
	var helpFlag bool

	keyFlags.register(flagSet)
	flagSet.StringVar(&assetDir, "asset-dir", "", "directory holding asset files to check against manifest hashes")
	flagSet.StringVar(&configPath, "config", "", "project config path (default .eco/config.yaml)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: classify(invalidInput(err.Error()))}, exitInvalidInput)
	}
	if helpFlag {
		printVerifyUsage()
		return exitOK
	}
	remaining := flagSet.Args()
	if len(remaining) != 1 || strings.TrimSpace(remaining[0]) == "" {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: classify(invalidInput("expected exactly one archive path"))}, exitInvalidInput)
	}
	path := remaining[0]

	configuration, logger, err := commandSetup(configPath, logLevel)
	if err != nil {
		err = coreerrors.Fatal(err, coreerrors.CategoryInvalidInput, "invalid_config", "fix the project config file")
		return writeVerifyOutput(jsonOutput, verifyOutput{Path: path, errorFields: classify(err)}, exitInvalidInput)
	}
	options, err := keyFlags.unpackOptions(configuration, logger)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{Path: path, errorFields: classify(err)}, exitCodeForError(err, exitInvalidInput))
	}

	result, err := ecox.UnpackFile(path, options)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{
			Path:        path,
			Stage:       string(ecox.StageOf(err)),
			errorFields: classify(err),
		}, exitCodeForError(err, exitVerifyFailed))
	}

	output := verifyOutput{
		OK:         true,
		Path:       path,
		ProjectID:  result.Manifest.ProjectID,
		Title:      result.Manifest.Title,
		KeyID:      result.Signature.KeyID,
		SignedAt:   result.Signature.CreatedAt,
		Assets:     len(result.Manifest.Assets),
		Segments:   len(result.Manifest.Segments),
		Operations: len(result.Manifest.OperationLog),
		Stage:      string(ecox.StageTrusted),
	}
	if strings.TrimSpace(assetDir) == "" {
		return writeVerifyOutput(jsonOutput, output, exitOK)
	}

	checks, err := ecox.VerifyAssetDir(result.Manifest, assetDir)
	if err != nil {
		output.OK = false
		output.errorFields = classify(err)
		return writeVerifyOutput(jsonOutput, output, exitCodeForError(err, exitInternalFailure))
	}
	output.AssetChecks = checks
	for _, check := range checks {
		if !check.OK() {
			output.OK = false
			output.errorFields = classify(coreerrors.Fatal(
				errors.New("asset content does not match the manifest"),
				coreerrors.CategoryIntegrityViolation,
				"asset_"+check.Status,
				"use the original asset files the manifest was packed with",
			))
			return writeVerifyOutput(jsonOutput, output, exitVerifyFailed)
		}
	}
	return writeVerifyOutput(jsonOutput, output, exitOK)
}

func writeVerifyOutput(jsonOutput bool, output verifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("verify ok: %s project=%s key_id=%s assets=%d segments=%d\n", output.Path, output.ProjectID, output.KeyID, output.Assets, output.Segments)
		for _, check := range output.AssetChecks {
			fmt.Printf("  asset %s %s: %s\n", check.AssetID, check.FileName, check.Status)
		}
		return exitCode
	}
	fmt.Printf("verify error: %s\n", output.Error)
	for _, check := range output.AssetChecks {
		fmt.Printf("  asset %s %s: %s\n", check.AssetID, check.FileName, check.Status)
	}
	return exitCode
}

func printVerifyUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco verify <file.ecox> [--public-key <path>|--public-key-env <VAR>] [--expected-key-id <id>]")
	fmt.Println("             [--max-manifest-bytes 1000000] [--asset-dir <dir>] [--config .eco/config.yaml] [--log-level warn] [--json] [--explain]")
}
