package ecox

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/fsx"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
	"github.com/TemporalDynamics/verifysign-sub002/core/schema/validate"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
	"github.com/TemporalDynamics/verifysign-sub002/core/zipx"
)

// DefaultAuthorName is recorded when the project carries no author.
const DefaultAuthorName = "ECO User"

// Project is the editor-side input to Pack.
type Project struct {
	ID           string                        `json:"id"`
	Name         string                        `json:"name"`
	Description  string                        `json:"description,omitempty"`
	CreatedAt    time.Time                     `json:"createdAt"`
	Author       schemaeco.Author              `json:"author"`
	Assets       []ProjectAsset                `json:"assets"`
	Timeline     []schemaeco.Segment           `json:"timeline"`
	OperationLog []schemaeco.OperationLogEntry `json:"operationLog,omitempty"`
	Metadata     *schemaeco.Metadata           `json:"metadata,omitempty"`
}

// ProjectAsset is asset metadata without a hash; hashes are supplied
// separately because the packer never reads asset content.
type ProjectAsset struct {
	ID        string   `json:"id"`
	MediaType string   `json:"mediaType"`
	FileName  string   `json:"fileName"`
	Duration  *float64 `json:"duration,omitempty"`
	Width     *int     `json:"width,omitempty"`
	Height    *int     `json:"height,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

type PackOptions struct {
	PrivateKey       ed25519.PrivateKey
	KeyID            string
	SpecVersion      string
	SignatureNotes   string
	CompressionLevel int
	Now              func() time.Time
	NewOpID          func() string
	Logger           *slog.Logger
	Validator        *validate.Validator
}

type PackResult struct {
	Manifest          schemaeco.Manifest
	CanonicalManifest string
	ArchiveBytes      []byte
}

// Pack builds, signs and archives the manifest for project. Every failure
// is terminal and classified; nothing is retried.
func Pack(project Project, assetHashes map[string]string, opts PackOptions) (PackResult, error) {
	if len(opts.PrivateKey) == 0 || opts.KeyID == "" {
		return PackResult{}, coreerrors.Fatal(
			fmt.Errorf("private key and key id are required for packing"),
			coreerrors.CategoryInvalidInput,
			codeMissingKey,
			"configure signing.private_key and signing.key_id or pass --private-key and --key-id",
		)
	}
	logger := loggerOrDiscard(opts.Logger)
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	manifest, err := buildManifest(project, assetHashes, opts, now())
	if err != nil {
		return PackResult{}, err
	}
	validator, err := resolveValidator(opts.Validator)
	if err != nil {
		return PackResult{}, err
	}
	if err := validateManifest(validator, manifest); err != nil {
		return PackResult{}, err
	}
	if err := checkIntegrity(manifest); err != nil {
		return PackResult{}, err
	}

	body, err := CanonicalizeManifest(manifest)
	if err != nil {
		return PackResult{}, internalError(fmt.Errorf("canonicalize manifest: %w", err))
	}
	encodedSig, err := sign.SignCanonicalBase64(opts.PrivateKey, body)
	if err != nil {
		return PackResult{}, coreerrors.Fatal(err, coreerrors.CategoryInvalidInput, codeMissingKey, "the private key must be an Ed25519 key")
	}
	manifest.Signatures = append(manifest.Signatures, schemaeco.Signature{
		KeyID:     opts.KeyID,
		Algorithm: sign.AlgEd25519,
		Signature: encodedSig,
		CreatedAt: formatTimestamp(now()),
		Notes:     opts.SignatureNotes,
	})

	final, err := CanonicalizeManifest(manifest)
	if err != nil {
		return PackResult{}, internalError(fmt.Errorf("canonicalize signed manifest: %w", err))
	}
	if err := checkManifestText([]byte(final), DefaultMaxManifestBytes); err != nil {
		return PackResult{}, err
	}

	level := opts.CompressionLevel
	if level == 0 {
		level = zipx.DefaultLevel
	}
	var archive bytes.Buffer
	if err := zipx.WriteDeterministicZipLevel(&archive, []zipx.File{
		{Path: schemaeco.ManifestFileName, Data: []byte(final), Mode: 0o644},
	}, level); err != nil {
		return PackResult{}, coreerrors.Fatal(fmt.Errorf("write archive: %w", err), coreerrors.CategoryInvalidInput, codeWriteFailed, "compression level must be between -2 and 9")
	}

	logger.Info("ecox packed",
		"project_id", manifest.ProjectID,
		"assets", len(manifest.Assets),
		"segments", len(manifest.Segments),
		"key_id", opts.KeyID,
		"manifest_bytes", len(final),
		"archive_bytes", archive.Len(),
	)
	return PackResult{
		Manifest:          manifest,
		CanonicalManifest: final,
		ArchiveBytes:      archive.Bytes(),
	}, nil
}

// WriteArchive atomically writes a packed archive to path.
func WriteArchive(path string, result PackResult) error {
	if len(result.ArchiveBytes) == 0 {
		return coreerrors.Fatal(fmt.Errorf("archive is empty"), coreerrors.CategoryInvalidInput, codeWriteFailed, "pack the project before writing")
	}
	if err := fsx.WriteFileAtomic(path, result.ArchiveBytes, 0o644); err != nil {
		return coreerrors.Fatal(fmt.Errorf("write %s: %w", path, err), coreerrors.CategoryIOFailure, codeWriteFailed, "check that the output directory is writable")
	}
	return nil
}

func buildManifest(project Project, assetHashes map[string]string, opts PackOptions, now time.Time) (schemaeco.Manifest, error) {
	assets := make([]schemaeco.Asset, 0, len(project.Assets))
	for _, asset := range project.Assets {
		hash, err := normalizeAssetHash(asset.ID, assetHashes)
		if err != nil {
			return schemaeco.Manifest{}, err
		}
		fileName, err := SanitizeFileName(asset.FileName, asset.ID)
		if err != nil {
			return schemaeco.Manifest{}, err
		}
		assets = append(assets, schemaeco.Asset{
			ID:        asset.ID,
			MediaType: asset.MediaType,
			FileName:  fileName,
			Duration:  asset.Duration,
			Width:     asset.Width,
			Height:    asset.Height,
			Notes:     asset.Notes,
			SHA256:    hash,
		})
	}

	segments := make([]schemaeco.Segment, len(project.Timeline))
	copy(segments, project.Timeline)

	newOpID := opts.NewOpID
	if newOpID == nil {
		newOpID = uuid.NewString
	}
	operations := make([]schemaeco.OperationLogEntry, 0, len(project.OperationLog))
	for _, entry := range project.OperationLog {
		if entry.OpID == "" {
			entry.OpID = newOpID()
		}
		if entry.Payload == nil {
			entry.Payload = map[string]any{}
		}
		operations = append(operations, entry)
	}

	specVersion := opts.SpecVersion
	if specVersion == "" {
		specVersion = schemaeco.SpecVersion
	}
	createdAt := project.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	author := project.Author
	if author.Name == "" {
		author.Name = DefaultAuthorName
	}

	return schemaeco.Manifest{
		SpecVersion:  specVersion,
		ProjectID:    project.ID,
		Title:        project.Name,
		Description:  project.Description,
		CreatedAt:    formatTimestamp(createdAt),
		Author:       author,
		Assets:       assets,
		Segments:     segments,
		OperationLog: operations,
		Metadata:     project.Metadata,
		Signatures:   []schemaeco.Signature{},
	}, nil
}

func validateManifest(validator *validate.Validator, manifest schemaeco.Manifest) error {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return internalError(fmt.Errorf("encode manifest: %w", err))
	}
	if err := validator.Validate(raw); err != nil {
		return coreerrors.Fatal(
			fmt.Errorf("manifest does not conform to schema: %w", err),
			coreerrors.CategorySchemaInvalid,
			codeSchemaInvalid,
			"fix the reported fields; see schemas/v1/eco/manifest.schema.json",
		)
	}
	return nil
}

func resolveValidator(validator *validate.Validator) (*validate.Validator, error) {
	if validator != nil {
		return validator, nil
	}
	compiled, err := validate.NewManifestValidator()
	if err != nil {
		return nil, internalError(err)
	}
	return compiled, nil
}

func internalError(cause error) error {
	return coreerrors.Fatal(cause, coreerrors.CategoryInternalFailure, codeInternal, "")
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}
