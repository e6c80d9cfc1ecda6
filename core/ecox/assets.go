package ecox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

var (
	sha256Pattern   = regexp.MustCompile(`^[a-f0-9]{64}$`)
	fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// normalizeAssetHash trims and lowercases a caller-supplied digest.
func normalizeAssetHash(assetID string, hashes map[string]string) (string, error) {
	raw, ok := hashes[assetID]
	if !ok || strings.TrimSpace(raw) == "" {
		return "", coreerrors.Fatal(
			fmt.Errorf("missing SHA256 hash for asset %q", assetID),
			coreerrors.CategoryInvalidInput,
			codeMissingAssetHash,
			"hash every asset file and pass the digest keyed by asset id",
		)
	}
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if !sha256Pattern.MatchString(normalized) {
		return "", coreerrors.Fatal(
			fmt.Errorf("invalid SHA256 hash for asset %q", assetID),
			coreerrors.CategoryInvalidInput,
			codeInvalidAssetHash,
			"asset hashes must be 64 hex characters",
		)
	}
	return normalized, nil
}

// SanitizeFileName returns the trimmed base name or an error naming the
// asset. Paths, dot segments and anything outside [A-Za-z0-9._-] are
// rejected rather than rewritten.
func SanitizeFileName(fileName, assetID string) (string, error) {
	trimmed := strings.TrimSpace(fileName)
	switch {
	case trimmed == "":
		return "", unsafeFileName(fmt.Errorf("missing fileName for asset %q", assetID))
	case strings.ContainsAny(trimmed, `/\:`):
		return "", unsafeFileName(fmt.Errorf("invalid fileName for asset %q: path separators are not allowed", assetID))
	case trimmed == "." || trimmed == "..":
		return "", unsafeFileName(fmt.Errorf("invalid fileName for asset %q: dot segments are not allowed", assetID))
	case !fileNamePattern.MatchString(trimmed):
		return "", unsafeFileName(fmt.Errorf("invalid fileName for asset %q: contains unsupported characters", assetID))
	}
	return trimmed, nil
}

func unsafeFileName(cause error) error {
	return coreerrors.Fatal(cause, coreerrors.CategoryInvalidInput, codeUnsafeFileName, "use a plain file name such as clip1.mp4")
}

const (
	AssetVerified = "verified"
	AssetMismatch = "mismatch"
	AssetMissing  = "missing"
)

// AssetCheck is the outcome of comparing asset bytes with a manifest hash.
type AssetCheck struct {
	AssetID  string `json:"asset_id"`
	FileName string `json:"file_name"`
	Expected string `json:"expected_sha256"`
	Actual   string `json:"actual_sha256,omitempty"`
	Status   string `json:"status"`
}

func (c AssetCheck) OK() bool {
	return c.Status == AssetVerified
}

// VerifyAsset hashes content and compares it with the manifest entry for
// assetID. A digest mismatch is reported in the check, not as an error.
func VerifyAsset(manifest schemaeco.Manifest, assetID string, content io.Reader) (AssetCheck, error) {
	asset, ok := findAsset(manifest, assetID)
	if !ok {
		return AssetCheck{}, coreerrors.Fatal(
			fmt.Errorf("asset %q not found in manifest", assetID),
			coreerrors.CategoryInvalidInput,
			codeUnknownAssetRef,
			"pick an asset id listed in the manifest",
		)
	}
	digest, err := sign.SHA256HexReader(content)
	if err != nil {
		return AssetCheck{}, coreerrors.Fatal(fmt.Errorf("hash asset %q: %w", assetID, err), coreerrors.CategoryIOFailure, codeReadFailed, "")
	}
	return compareAsset(asset, digest), nil
}

// VerifyAssetDir checks every manifest asset against dir/<fileName>.
// Missing files are reported with status "missing".
func VerifyAssetDir(manifest schemaeco.Manifest, dir string) ([]AssetCheck, error) {
	checks := make([]AssetCheck, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		name, err := SanitizeFileName(asset.FileName, asset.ID)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		digest, err := sign.SHA256HexFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				checks = append(checks, AssetCheck{
					AssetID:  asset.ID,
					FileName: name,
					Expected: asset.SHA256,
					Status:   AssetMissing,
				})
				continue
			}
			return nil, coreerrors.Fatal(err, coreerrors.CategoryIOFailure, codeReadFailed, "check asset directory permissions")
		}
		checks = append(checks, compareAsset(asset, digest))
	}
	return checks, nil
}

func compareAsset(asset schemaeco.Asset, digest string) AssetCheck {
	check := AssetCheck{
		AssetID:  asset.ID,
		FileName: asset.FileName,
		Expected: asset.SHA256,
		Actual:   digest,
		Status:   AssetVerified,
	}
	if !strings.EqualFold(asset.SHA256, digest) {
		check.Status = AssetMismatch
	}
	return check
}

func findAsset(manifest schemaeco.Manifest, assetID string) (schemaeco.Asset, bool) {
	for _, asset := range manifest.Assets {
		if asset.ID == assetID {
			return asset, true
		}
	}
	return schemaeco.Asset{}, false
}
