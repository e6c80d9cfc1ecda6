package ecox

import (
	"errors"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
)

// ErrTampered is the only cryptographic failure callers see. Detail about
// why a signature was rejected goes to the debug log.
var ErrTampered = errors.New("manifest verification failed: the file is corrupt or has been tampered with")

// Stage is a step of manifest verification. A manifest is trusted only
// after every stage passed; there is no partial trust.
type Stage string

const (
	StageOpened                  Stage = "opened"
	StageManifestExtracted       Stage = "manifest_extracted"
	StageSignatureSelected       Stage = "signature_selected"
	StageCanonicalizedForVerify  Stage = "canonicalized_for_verify"
	StageSignatureVerified       Stage = "signature_verified"
	StageSchemaValidated         Stage = "schema_validated"
	StageCrossReferenceValidated Stage = "cross_reference_validated"
	StageTrusted                 Stage = "trusted"
)

const (
	codeMissingKey          = "missing_key"
	codeMissingAssetHash    = "missing_asset_hash"
	codeInvalidAssetHash    = "invalid_asset_hash"
	codeUnsafeFileName      = "unsafe_file_name"
	codeSchemaInvalid       = "schema_invalid"
	codeDuplicateAssetID    = "duplicate_asset_id"
	codeUnknownAssetRef     = "unknown_asset_ref"
	codeNegativeTime        = "negative_time"
	codeInvertedRange       = "inverted_range"
	codeNonPositiveSpeed    = "non_positive_speed"
	codeInvalidLogTimestamp = "invalid_log_timestamp"
	codeNoSignatures        = "no_signatures"
	codeNoCompatibleSig     = "no_compatible_signature"
	codeSignatureMissing    = "signature_missing"
	codeSignatureMismatch   = "signature_mismatch"
	codeArchiveUnreadable   = "archive_unreadable"
	codeManifestMissing     = "manifest_missing"
	codeManifestTooLarge    = "manifest_too_large"
	codeManifestCharset     = "manifest_charset"
	codeManifestJSON        = "manifest_json"
	codeReadFailed          = "read_failed"
	codeWriteFailed         = "write_failed"
	codeInternal            = "internal"
)

// StageError records the verification stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage a verification error happened in, or "".
func StageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

func failAt(stage Stage, cause error, category coreerrors.Category, code, hint string) error {
	return &StageError{Stage: stage, Err: coreerrors.Fatal(cause, category, code, hint)}
}
