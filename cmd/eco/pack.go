package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/ecox"
	"github.com/TemporalDynamics/verifysign-sub002/core/fsx"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

// maxProjectBytes bounds project and hash files read by pack.
const maxProjectBytes int64 = 16 << 20

type packOutput struct {
	OK             bool   `json:"ok"`
	Path           string `json:"path,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	KeyID          string `json:"key_id,omitempty"`
	Assets         int    `json:"assets,omitempty"`
	Segments       int    `json:"segments,omitempty"`
	ArchiveBytes   int    `json:"archive_bytes,omitempty"`
	ManifestSHA256 string `json:"manifest_sha256,omitempty"`
	errorFields
}

type packFlags struct {
	projectPath      string
	hashesPath       string
	assetDir         string
	outPath          string
	keyID            string
	privateKeyPath   string
	privateKeyEnv    string
	passphraseEnv    string
	notes            string
	compressionLevel int
	configPath       string
	logLevel         string
}

func runPack(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Build, sign and archive a project manifest as a .ecox file. Asset content is referenced by SHA-256 and never embedded.")
	}
	flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var flags packFlags
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&flags.projectPath, "project", "", "path to project JSON")
	flagSet.StringVar(&flags.hashesPath, "hashes", "", "path to JSON object mapping asset id to sha256")
	flagSet.StringVar(&flags.assetDir, "asset-dir", "", "directory holding asset files to hash")
	flagSet.StringVar(&flags.outPath, "out", "", "output .ecox path")
	flagSet.StringVar(&flags.keyID, "key-id", "", "key id recorded in the signature (default: key fingerprint)")
	flagSet.StringVar(&flags.privateKeyPath, "private-key", "", "path to private key file")
	flagSet.StringVar(&flags.privateKeyEnv, "private-key-env", "", "env var containing the private key")
	flagSet.StringVar(&flags.passphraseEnv, "passphrase-env", "", "env var containing the passphrase of a sealed key")
	flagSet.StringVar(&flags.notes, "notes", "", "notes stored with the signature")
	flagSet.IntVar(&flags.compressionLevel, "compression-level", 0, "deflate level -2..9 (default 9)")
	flagSet.StringVar(&flags.configPath, "config", "", "project config path (default .eco/config.yaml)")
	flagSet.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writePackOutput(jsonOutput, packOutput{errorFields: classify(invalidInput(err.Error()))}, exitInvalidInput)
	}
	if helpFlag {
		printPackUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writePackOutput(jsonOutput, packOutput{errorFields: classify(invalidInput("unexpected positional arguments"))}, exitInvalidInput)
	}

	output, err := executePack(flags, flagSet.Changed("compression-level"))
	if err != nil {
		return writePackOutput(jsonOutput, packOutput{errorFields: classify(err)}, exitCodeForError(err, exitInvalidInput))
	}
	return writePackOutput(jsonOutput, output, exitOK)
}

func executePack(flags packFlags, levelSet bool) (packOutput, error) {
	if strings.TrimSpace(flags.projectPath) == "" {
		return packOutput{}, invalidInput("--project is required")
	}
	if strings.TrimSpace(flags.outPath) == "" {
		return packOutput{}, invalidInput("--out is required")
	}
	if (flags.hashesPath == "") == (flags.assetDir == "") {
		return packOutput{}, invalidInput("exactly one of --hashes or --asset-dir is required")
	}
	configuration, logger, err := commandSetup(flags.configPath, flags.logLevel)
	if err != nil {
		return packOutput{}, coreerrors.Fatal(err, coreerrors.CategoryInvalidInput, "invalid_config", "fix the project config file")
	}

	keyConfig := configuration.SigningKeyConfig()
	if flags.privateKeyPath != "" || flags.privateKeyEnv != "" {
		keyConfig.PrivateKeyPath = flags.privateKeyPath
		keyConfig.PrivateKeyEnv = flags.privateKeyEnv
	}
	if flags.passphraseEnv != "" {
		keyConfig.PassphraseEnv = flags.passphraseEnv
	}
	keyPair, err := sign.LoadSigningKey(keyConfig)
	if err != nil {
		return packOutput{}, coreerrors.Fatal(fmt.Errorf("load signing key: %w", err), coreerrors.CategoryInvalidInput, "missing_key", "pass --private-key or configure signing.private_key")
	}
	keyID := firstNonEmpty(flags.keyID, configuration.Signing.KeyID, sign.KeyID(keyPair.Public))

	project, err := readProject(flags.projectPath)
	if err != nil {
		return packOutput{}, err
	}
	var hashes map[string]string
	if flags.hashesPath != "" {
		hashes, err = readHashes(flags.hashesPath)
	} else {
		hashes, err = hashProjectAssets(project, flags.assetDir)
	}
	if err != nil {
		return packOutput{}, err
	}

	level := configuration.Archive.CompressionLevel
	if levelSet {
		level = flags.compressionLevel
	}
	result, err := ecox.Pack(project, hashes, ecox.PackOptions{
		PrivateKey:       keyPair.Private,
		KeyID:            keyID,
		SpecVersion:      configuration.Signing.SpecVersion,
		SignatureNotes:   flags.notes,
		CompressionLevel: level,
		Logger:           logger,
	})
	if err != nil {
		return packOutput{}, err
	}
	if err := ecox.WriteArchive(flags.outPath, result); err != nil {
		return packOutput{}, err
	}
	return packOutput{
		OK:             true,
		Path:           flags.outPath,
		ProjectID:      result.Manifest.ProjectID,
		KeyID:          keyID,
		Assets:         len(result.Manifest.Assets),
		Segments:       len(result.Manifest.Segments),
		ArchiveBytes:   len(result.ArchiveBytes),
		ManifestSHA256: sign.SHA256Hex([]byte(result.CanonicalManifest)),
	}, nil
}

func readProject(path string) (ecox.Project, error) {
	content, err := fsx.ReadFileLimited(path, maxProjectBytes)
	if err != nil {
		return ecox.Project{}, coreerrors.Fatal(fmt.Errorf("read project: %w", err), coreerrors.CategoryIOFailure, "read_failed", "check the --project path")
	}
	var project ecox.Project
	if err := decodeStrictJSON(content, &project); err != nil {
		return ecox.Project{}, coreerrors.Fatal(fmt.Errorf("parse project: %w", err), coreerrors.CategoryFormatInvalid, "project_json", "the project file must be a JSON object")
	}
	return project, nil
}

func readHashes(path string) (map[string]string, error) {
	content, err := fsx.ReadFileLimited(path, maxProjectBytes)
	if err != nil {
		return nil, coreerrors.Fatal(fmt.Errorf("read hashes: %w", err), coreerrors.CategoryIOFailure, "read_failed", "check the --hashes path")
	}
	hashes := map[string]string{}
	if err := decodeStrictJSON(content, &hashes); err != nil {
		return nil, coreerrors.Fatal(fmt.Errorf("parse hashes: %w", err), coreerrors.CategoryFormatInvalid, "hashes_json", "the hashes file maps asset id to sha256 hex")
	}
	return hashes, nil
}

// hashProjectAssets hashes dir/<fileName> for every project asset.
func hashProjectAssets(project ecox.Project, dir string) (map[string]string, error) {
	hashes := make(map[string]string, len(project.Assets))
	for _, asset := range project.Assets {
		name, err := ecox.SanitizeFileName(asset.FileName, asset.ID)
		if err != nil {
			return nil, err
		}
		digest, err := sign.SHA256HexFile(filepath.Join(dir, name))
		if err != nil {
			return nil, coreerrors.Fatal(fmt.Errorf("hash asset %s: %w", asset.ID, err), coreerrors.CategoryInvalidInput, "missing_asset_hash", "place every asset file in --asset-dir")
		}
		hashes[asset.ID] = digest
	}
	return hashes, nil
}

func decodeStrictJSON(content []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(content))
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func writePackOutput(jsonOutput bool, output packOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("pack ok: %s project=%s key_id=%s assets=%d segments=%d\n", output.Path, output.ProjectID, output.KeyID, output.Assets, output.Segments)
		return exitCode
	}
	fmt.Printf("pack error: %s\n", output.Error)
	return exitCode
}

func printPackUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco pack --project <project.json> (--hashes <hashes.json>|--asset-dir <dir>) --out <file.ecox>")
	fmt.Println("           [--key-id <id>] [--private-key <path>|--private-key-env <VAR>] [--passphrase-env <VAR>]")
	fmt.Println("           [--notes <text>] [--compression-level 9] [--config .eco/config.yaml] [--log-level warn] [--json] [--explain]")
}
