package ecox

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/klauspost/compress/zip"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/fsx"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
	"github.com/TemporalDynamics/verifysign-sub002/core/schema/validate"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
	"github.com/TemporalDynamics/verifysign-sub002/core/zipx"
)

const (
	// DefaultMaxManifestBytes bounds manifest.json before it is parsed.
	DefaultMaxManifestBytes int64 = 1_000_000
	// MaxArchiveBytes bounds archive files read from disk.
	MaxArchiveBytes int64 = 16 << 20
)

type UnpackOptions struct {
	PublicKey        ed25519.PublicKey
	ExpectedKeyID    string
	MaxManifestBytes int64
	Logger           *slog.Logger
	Validator        *validate.Validator
}

type UnpackResult struct {
	Manifest  schemaeco.Manifest
	Signature schemaeco.Signature
	// CanonicalBody is the signed text: the manifest with empty signatures.
	CanonicalBody string
}

// Unpack verifies an archive and returns its manifest only when every
// verification stage passes.
func Unpack(archive []byte, opts UnpackOptions) (UnpackResult, error) {
	if len(opts.PublicKey) == 0 {
		return UnpackResult{}, failAt(StageOpened,
			fmt.Errorf("public key is required for unpacking and verification"),
			coreerrors.CategoryInvalidInput, codeMissingKey,
			"pass --public-key or configure verify.public_key",
		)
	}
	v := &verification{
		opts:   opts,
		logger: loggerOrDiscard(opts.Logger),
	}
	return v.run(archive)
}

// UnpackFile reads an archive from disk and verifies it.
func UnpackFile(path string, opts UnpackOptions) (UnpackResult, error) {
	archive, err := fsx.ReadFileLimited(path, MaxArchiveBytes)
	if err != nil {
		if errors.Is(err, fsx.ErrTooLarge) {
			return UnpackResult{}, failAt(StageOpened, fmt.Errorf("failed to read file: %w", err),
				coreerrors.CategoryFormatInvalid, codeArchiveUnreadable, "archives only carry a manifest and stay small")
		}
		return UnpackResult{}, failAt(StageOpened, fmt.Errorf("failed to read file: %w", err),
			coreerrors.CategoryIOFailure, codeReadFailed, "check the archive path")
	}
	return Unpack(archive, opts)
}

type verification struct {
	opts   UnpackOptions
	logger *slog.Logger
}

func (v *verification) run(archive []byte) (UnpackResult, error) {
	reader, err := zipx.Open(archive)
	if err != nil {
		return UnpackResult{}, failAt(StageOpened, fmt.Errorf("failed to read file: %w", err),
			coreerrors.CategoryFormatInvalid, codeArchiveUnreadable, "the file is not a readable .ecox archive")
	}
	v.reached(StageOpened)

	text, tree, err := v.extractManifest(reader.File)
	if err != nil {
		return UnpackResult{}, err
	}
	v.reached(StageManifestExtracted)

	signature, err := v.selectSignature(tree)
	if err != nil {
		return UnpackResult{}, err
	}
	v.reached(StageSignatureSelected)

	forVerify := make(map[string]any, len(tree))
	for key, value := range tree {
		forVerify[key] = value
	}
	forVerify["signatures"] = []any{}
	body, err := CanonicalizeManifest(forVerify)
	if err != nil {
		return UnpackResult{}, failAt(StageCanonicalizedForVerify, fmt.Errorf("canonicalize manifest: %w", err),
			coreerrors.CategoryInternalFailure, codeInternal, "")
	}
	v.reached(StageCanonicalizedForVerify)

	if err := v.verifySignature(body, signature); err != nil {
		return UnpackResult{}, err
	}
	v.reached(StageSignatureVerified)

	validator, err := resolveValidator(v.opts.Validator)
	if err != nil {
		return UnpackResult{}, &StageError{Stage: StageSchemaValidated, Err: err}
	}
	if err := validator.Validate(text); err != nil {
		return UnpackResult{}, failAt(StageSchemaValidated, fmt.Errorf("manifest schema validation failed: %w", err),
			coreerrors.CategorySchemaInvalid, codeSchemaInvalid, "the signer produced a manifest outside the v1 schema")
	}
	var manifest schemaeco.Manifest
	if err := json.Unmarshal(text, &manifest); err != nil {
		return UnpackResult{}, failAt(StageSchemaValidated, fmt.Errorf("decode manifest: %w", err),
			coreerrors.CategoryFormatInvalid, codeManifestJSON, "")
	}
	v.reached(StageSchemaValidated)

	if err := checkIntegrity(manifest); err != nil {
		return UnpackResult{}, &StageError{Stage: StageCrossReferenceValidated, Err: err}
	}
	v.reached(StageCrossReferenceValidated)

	v.logger.Info("ecox verified",
		"project_id", manifest.ProjectID,
		"key_id", signature.KeyID,
		"assets", len(manifest.Assets),
		"segments", len(manifest.Segments),
	)
	v.reached(StageTrusted)
	return UnpackResult{
		Manifest:      manifest,
		Signature:     signature,
		CanonicalBody: body,
	}, nil
}

func (v *verification) reached(stage Stage) {
	v.logger.Debug("ecox verify stage", "stage", string(stage))
}

func (v *verification) maxManifestBytes() int64 {
	if v.opts.MaxManifestBytes > 0 {
		return v.opts.MaxManifestBytes
	}
	return DefaultMaxManifestBytes
}

func (v *verification) extractManifest(files []*zip.File) ([]byte, map[string]any, error) {
	entry, ok := zipx.Find(files, schemaeco.ManifestFileName)
	if !ok {
		return nil, nil, failAt(StageManifestExtracted, fmt.Errorf("invalid .ecox file: manifest.json not found"),
			coreerrors.CategoryFormatInvalid, codeManifestMissing, "")
	}
	limit := v.maxManifestBytes()
	text, err := zipx.ReadFile(entry, limit)
	if err != nil {
		if errors.Is(err, zipx.ErrEntryTooLarge) {
			return nil, nil, failAt(StageManifestExtracted, fmt.Errorf("manifest too large: exceeds %d byte limit", limit),
				coreerrors.CategoryFormatInvalid, codeManifestTooLarge, "")
		}
		return nil, nil, failAt(StageManifestExtracted, fmt.Errorf("failed to read manifest.json: %w", err),
			coreerrors.CategoryFormatInvalid, codeArchiveUnreadable, "")
	}
	if err := checkManifestText(text, limit); err != nil {
		return nil, nil, &StageError{Stage: StageManifestExtracted, Err: err}
	}
	parsed, err := decodeTree(text)
	if err != nil {
		return nil, nil, failAt(StageManifestExtracted, fmt.Errorf("invalid .ecox file: manifest.json is not valid JSON: %w", err),
			coreerrors.CategoryFormatInvalid, codeManifestJSON, "")
	}
	tree, ok := parsed.(map[string]any)
	if !ok {
		return nil, nil, failAt(StageManifestExtracted, fmt.Errorf("invalid manifest structure: expected a JSON object"),
			coreerrors.CategoryFormatInvalid, codeManifestJSON, "")
	}
	return text, tree, nil
}

func (v *verification) selectSignature(tree map[string]any) (schemaeco.Signature, error) {
	entries, ok := tree["signatures"].([]any)
	if !ok || len(entries) == 0 {
		return schemaeco.Signature{}, failAt(StageSignatureSelected, fmt.Errorf("invalid manifest: no signatures found: %w", ErrTampered),
			coreerrors.CategoryVerification, codeNoSignatures, "the archive was never signed")
	}
	for _, entry := range entries {
		candidate, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		algorithm, _ := candidate["algorithm"].(string)
		if algorithm != sign.AlgEd25519 {
			continue
		}
		keyID, _ := candidate["keyId"].(string)
		if v.opts.ExpectedKeyID != "" && keyID != v.opts.ExpectedKeyID {
			continue
		}
		value, _ := candidate["signature"].(string)
		if value == "" {
			return schemaeco.Signature{}, failAt(StageSignatureSelected, fmt.Errorf("invalid signature block: signature is missing: %w", ErrTampered),
				coreerrors.CategoryVerification, codeSignatureMissing, "")
		}
		createdAt, _ := candidate["createdAt"].(string)
		notes, _ := candidate["notes"].(string)
		return schemaeco.Signature{
			KeyID:     keyID,
			Algorithm: algorithm,
			Signature: value,
			CreatedAt: createdAt,
			Notes:     notes,
		}, nil
	}
	hint := "the archive carries no Ed25519 signature"
	if v.opts.ExpectedKeyID != "" {
		hint = fmt.Sprintf("no Ed25519 signature has key id %q", v.opts.ExpectedKeyID)
	}
	return schemaeco.Signature{}, failAt(StageSignatureSelected, fmt.Errorf("no compatible Ed25519 signature found: %w", ErrTampered),
		coreerrors.CategoryVerification, codeNoCompatibleSig, hint)
}

func (v *verification) verifySignature(body string, signature schemaeco.Signature) error {
	ok, err := sign.VerifyCanonicalBase64(v.opts.PublicKey, body, signature.Signature)
	if err != nil {
		v.logger.Debug("ecox signature undecodable", "key_id", signature.KeyID, "error", err.Error())
		return v.tampered()
	}
	if !ok {
		v.logger.Debug("ecox signature mismatch",
			"key_id", signature.KeyID,
			"public_key_id", sign.KeyID(v.opts.PublicKey),
			"canonical_bytes", len(body),
		)
		return v.tampered()
	}
	return nil
}

func (v *verification) tampered() error {
	return failAt(StageSignatureVerified, ErrTampered, coreerrors.CategoryVerification, codeSignatureMismatch,
		"verify with the signer's public key; any edit to the manifest invalidates the signature")
}
