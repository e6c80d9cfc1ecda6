package ecox

import (
	"bytes"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
	"github.com/TemporalDynamics/verifysign-sub002/core/zipx"
)

var fixedNow = time.Date(2025, time.October, 31, 10, 5, 0, 0, time.UTC)

func float(value float64) *float64 {
	return &value
}

func integer(value int) *int {
	return &value
}

func createTestProject() Project {
	return Project{
		ID:        "project_123",
		Name:      "My Test Project",
		CreatedAt: time.Date(2025, time.October, 31, 10, 0, 0, 0, time.UTC),
		Author:    schemaeco.Author{Name: "Ana Ortiz", Email: "ana@example.com"},
		Assets: []ProjectAsset{
			{ID: "asset_1", MediaType: "video", FileName: "clip1.mp4", Duration: float(10), Width: integer(1920), Height: integer(1080)},
			{ID: "asset_2", MediaType: "audio", FileName: "music.mp3", Duration: float(180)},
		},
		Timeline: []schemaeco.Segment{
			{ID: "segment_1", AssetID: "asset_1", StartTime: 0, EndTime: 5, ProjectStartTime: 0, Speed: float(1)},
		},
		OperationLog: []schemaeco.OperationLogEntry{
			{OpID: "op_1", Type: "import", Timestamp: "2025-10-31T09:50:00.000Z", Payload: map[string]any{"asset": "asset_1"}},
			{OpID: "op_2", Type: "import", Timestamp: "2025-10-31T09:55:00.000Z", Payload: map[string]any{"asset": "asset_2"}},
		},
	}
}

func createTestHashes() map[string]string {
	return map[string]string{
		"asset_1": sign.SHA256Hex([]byte("video content")),
		"asset_2": sign.SHA256Hex([]byte("audio content")),
	}
}

func mustKeyPair(t *testing.T) sign.KeyPair {
	t.Helper()
	kp, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

func testPackOptions(kp sign.KeyPair, keyID string) PackOptions {
	return PackOptions{
		PrivateKey: kp.Private,
		KeyID:      keyID,
		Now:        func() time.Time { return fixedNow },
	}
}

func mustPack(t *testing.T, kp sign.KeyPair, keyID string) PackResult {
	t.Helper()
	result, err := Pack(createTestProject(), createTestHashes(), testPackOptions(kp, keyID))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return result
}

// archiveWithManifest wraps raw manifest text in an archive without any
// checks, the way a third party could.
func archiveWithManifest(t *testing.T, name, text string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if err := zipx.WriteDeterministicZipLevel(&buffer, []zipx.File{{Path: name, Data: []byte(text)}}, zipx.DefaultLevel); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return buffer.Bytes()
}

// signedArchive signs an arbitrary manifest, bypassing the packer's own
// validation, so verifier-side checks can be exercised.
func signedArchive(t *testing.T, kp sign.KeyPair, manifest schemaeco.Manifest) []byte {
	t.Helper()
	manifest.Signatures = []schemaeco.Signature{}
	body, err := CanonicalizeManifest(manifest)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig, err := sign.SignCanonicalBase64(kp.Private, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	manifest.Signatures = append(manifest.Signatures, schemaeco.Signature{
		KeyID:     "test-key-1",
		Algorithm: sign.AlgEd25519,
		Signature: sig,
		CreatedAt: "2025-10-31T10:05:00.000Z",
	})
	final, err := CanonicalizeManifest(manifest)
	if err != nil {
		t.Fatalf("canonicalize signed: %v", err)
	}
	return archiveWithManifest(t, schemaeco.ManifestFileName, final)
}

func assertCode(t *testing.T, err error, category coreerrors.Category, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error", code)
	}
	if got := coreerrors.CategoryOf(err); got != category {
		t.Fatalf("expected category %s, got %s (%v)", category, got, err)
	}
	if got := coreerrors.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
	if coreerrors.RetryableOf(err) {
		t.Fatalf("expected non-retryable error: %v", err)
	}
}

func assertContains(t *testing.T, err error, parts ...string) {
	t.Helper()
	for _, part := range parts {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("expected %q in error %q", part, err.Error())
		}
	}
}
