package ecox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
)

func TestVerifyAsset(t *testing.T) {
	manifest := mustPack(t, mustKeyPair(t), "test-key-1").Manifest

	check, err := VerifyAsset(manifest, "asset_1", strings.NewReader("video content"))
	if err != nil {
		t.Fatalf("verify asset: %v", err)
	}
	if !check.OK() || check.FileName != "clip1.mp4" {
		t.Fatalf("expected verified asset, got %+v", check)
	}

	check, err = VerifyAsset(manifest, "asset_1", strings.NewReader("edited video"))
	if err != nil {
		t.Fatalf("verify asset: %v", err)
	}
	if check.Status != AssetMismatch || check.OK() {
		t.Fatalf("expected mismatch, got %+v", check)
	}

	_, err = VerifyAsset(manifest, "asset_9", strings.NewReader(""))
	assertCode(t, err, coreerrors.CategoryInvalidInput, codeUnknownAssetRef)
}

func TestVerifyAssetDir(t *testing.T) {
	manifest := mustPack(t, mustKeyPair(t), "test-key-1").Manifest
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip1.mp4"), []byte("video content"), 0o600); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	checks, err := VerifyAssetDir(manifest, dir)
	if err != nil {
		t.Fatalf("verify dir: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	statuses := map[string]string{}
	for _, check := range checks {
		statuses[check.AssetID] = check.Status
	}
	if statuses["asset_1"] != AssetVerified || statuses["asset_2"] != AssetMissing {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}

func TestSanitizeFileName(t *testing.T) {
	name, err := SanitizeFileName(" music.mp3 ", "asset_2")
	if err != nil || name != "music.mp3" {
		t.Fatalf("expected trimmed name, got %q err=%v", name, err)
	}
	_, err = SanitizeFileName("../etc/passwd", "asset_2")
	assertCode(t, err, coreerrors.CategoryInvalidInput, codeUnsafeFileName)
	assertContains(t, err, `asset "asset_2"`, "path separators")
}
