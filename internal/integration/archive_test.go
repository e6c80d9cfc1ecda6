package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/TemporalDynamics/verifysign-sub002/core/ecox"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
	"github.com/TemporalDynamics/verifysign-sub002/internal/testutil"
)

func TestArchiveOnDiskRoundTrip(t *testing.T) {
	workDir := t.TempDir()
	projectPath, assetDir := testutil.WriteSampleProject(t, workDir)
	keyFiles := testutil.WriteKeyFiles(t, workDir)

	project := readSampleProject(t, projectPath)
	hashes := map[string]string{}
	for _, asset := range project.Assets {
		digest, err := sign.SHA256HexFile(filepath.Join(assetDir, asset.FileName))
		if err != nil {
			t.Fatalf("hash %s: %v", asset.FileName, err)
		}
		hashes[asset.ID] = digest
	}

	signer, err := sign.LoadSigningKey(sign.KeyConfig{
		PrivateKeyPath: keyFiles.PrivateKeyPath,
		PublicKeyPath:  keyFiles.PublicKeyPath,
	})
	if err != nil {
		t.Fatalf("load signing key: %v", err)
	}
	privateKey := signer.Private
	now := time.Date(2025, time.November, 1, 12, 0, 0, 0, time.UTC)
	result, err := ecox.Pack(project, hashes, ecox.PackOptions{
		PrivateKey: privateKey,
		KeyID:      "integration",
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	archivePath := filepath.Join(workDir, "nested", "project.ecox")
	if err := ecox.WriteArchive(archivePath, result); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if onDisk := testutil.MustReadFile(t, archivePath); !bytes.Equal(onDisk, result.ArchiveBytes) {
		t.Fatalf("archive on disk differs from packed bytes")
	}

	publicKey, err := sign.LoadPublicKeyFile(keyFiles.PublicKeyPath)
	if err != nil {
		t.Fatalf("load public key: %v", err)
	}
	unpacked, err := ecox.UnpackFile(archivePath, ecox.UnpackOptions{PublicKey: publicKey, ExpectedKeyID: "integration"})
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if diff := cmp.Diff(result.Manifest, unpacked.Manifest); diff != "" {
		t.Fatalf("manifest changed across disk round trip (-packed +unpacked):\n%s", diff)
	}
	for _, entry := range unpacked.Manifest.OperationLog {
		if entry.OpID == "" {
			t.Fatalf("operation log entries without ids must be assigned one: %+v", entry)
		}
	}

	checks, err := ecox.VerifyAssetDir(unpacked.Manifest, assetDir)
	if err != nil {
		t.Fatalf("verify assets: %v", err)
	}
	for _, check := range checks {
		if !check.OK() {
			t.Fatalf("asset %s: %s", check.AssetID, check.Status)
		}
	}

	repacked, err := ecox.Pack(project, hashes, ecox.PackOptions{
		PrivateKey: privateKey,
		KeyID:      "integration",
		Now:        func() time.Time { return now },
		NewOpID:    sequentialIDs(unpacked.Manifest),
	})
	if err != nil {
		t.Fatalf("repack: %v", err)
	}
	if !bytes.Equal(repacked.ArchiveBytes, result.ArchiveBytes) {
		t.Fatalf("packing the same project twice must produce identical archives")
	}
}

func readSampleProject(t *testing.T, path string) ecox.Project {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test fixture path.
	if err != nil {
		t.Fatalf("read project: %v", err)
	}
	var project ecox.Project
	if err := json.Unmarshal(content, &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	return project
}

// sequentialIDs replays the operation ids assigned by an earlier pack.
func sequentialIDs(manifest schemaeco.Manifest) func() string {
	next := 0
	return func() string {
		id := manifest.OperationLog[next].OpID
		next++
		return id
	}
}
