package ecox

import (
	"fmt"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
)

const integrityHint = "rebuild the project so every segment references a known asset with a valid time range"

// checkIntegrity runs the cross-reference rules the schema cannot express.
// The first violation wins and names the offending entity.
func checkIntegrity(manifest schemaeco.Manifest) error {
	if err := ensureUniqueAssetIDs(manifest.Assets); err != nil {
		return err
	}
	if err := verifySegmentReferences(manifest.Segments, manifest.Assets); err != nil {
		return err
	}
	return validateOperationLog(manifest.OperationLog)
}

func ensureUniqueAssetIDs(assets []schemaeco.Asset) error {
	seen := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		if _, ok := seen[asset.ID]; ok {
			return integrityError(codeDuplicateAssetID, "duplicate asset id %q", asset.ID)
		}
		seen[asset.ID] = struct{}{}
	}
	return nil
}

func verifySegmentReferences(segments []schemaeco.Segment, assets []schemaeco.Asset) error {
	known := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		known[asset.ID] = struct{}{}
	}
	for _, segment := range segments {
		if _, ok := known[segment.AssetID]; !ok {
			return integrityError(codeUnknownAssetRef, "segment %q references unknown asset %q", segment.ID, segment.AssetID)
		}
		if segment.StartTime < 0 || segment.EndTime < 0 {
			return integrityError(codeNegativeTime, "segment %q contains negative timestamps", segment.ID)
		}
		if segment.EndTime < segment.StartTime {
			return integrityError(codeInvertedRange, "segment %q has endTime < startTime", segment.ID)
		}
		if segment.Speed != nil && *segment.Speed <= 0 {
			return integrityError(codeNonPositiveSpeed, "segment %q has non-positive speed", segment.ID)
		}
	}
	return nil
}

func validateOperationLog(entries []schemaeco.OperationLogEntry) error {
	for _, entry := range entries {
		if _, ok := parseTimestamp(entry.Timestamp); !ok {
			return integrityError(codeInvalidLogTimestamp, "operation %q has invalid timestamp %q", entry.OpID, entry.Timestamp)
		}
	}
	return nil
}

func integrityError(code, format string, args ...any) error {
	return coreerrors.Fatal(
		fmt.Errorf("manifest validation failed: "+format, args...),
		coreerrors.CategoryIntegrityViolation,
		code,
		integrityHint,
	)
}
