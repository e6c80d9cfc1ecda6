package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func BuildEcoBinary(t *testing.T, root string) string {
	t.Helper()
	binDir := t.TempDir()
	binName := "eco"
	if runtime.GOOS == "windows" {
		binName = "eco.exe"
	}
	binPath := filepath.Join(binDir, binName)

	// #nosec G204 -- arguments are fixed and used only in test binaries.
	build := exec.Command("go", "build", "-o", binPath, "./cmd/eco")
	build.Dir = root
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build eco binary: %v\n%s", err, string(out))
	}
	return binPath
}

func CommandExitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected command exit error, got: %v", err)
	}
	return exitErr.ExitCode()
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}

// KeyFiles are key files written for a test keypair.
type KeyFiles struct {
	KeyPair        sign.KeyPair
	PrivateKeyPath string
	PublicKeyPath  string
}

// WriteKeyFiles writes a fresh keypair to dir as base64 PKCS#8 and PEM SPKI.
func WriteKeyFiles(t *testing.T, dir string) KeyFiles {
	t.Helper()
	kp, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	privateText, err := sign.EncodePrivateKeyBase64(kp.Private)
	if err != nil {
		t.Fatalf("encode private key: %v", err)
	}
	publicText, err := sign.EncodePublicKeyPEM(kp.Public)
	if err != nil {
		t.Fatalf("encode public key: %v", err)
	}
	files := KeyFiles{
		KeyPair:        kp,
		PrivateKeyPath: filepath.Join(dir, "test_private.key"),
		PublicKeyPath:  filepath.Join(dir, "test_public.pem"),
	}
	WriteFile(t, files.PrivateKeyPath, []byte(privateText+"\n"))
	WriteFile(t, files.PublicKeyPath, publicText)
	return files
}

// SampleAssets maps asset file names in SampleProjectJSON to their content.
var SampleAssets = map[string][]byte{
	"clip1.mp4": []byte("video content"),
	"music.mp3": []byte("audio content"),
}

// SampleProjectJSON is a two-asset project in the shape pack reads.
const SampleProjectJSON = `{
  "id": "project_123",
  "name": "My Test Project",
  "createdAt": "2025-10-31T10:00:00Z",
  "author": {"name": "Ana Ortiz", "email": "ana@example.com"},
  "assets": [
    {"id": "asset_1", "mediaType": "video", "fileName": "clip1.mp4", "duration": 10, "width": 1920, "height": 1080},
    {"id": "asset_2", "mediaType": "audio", "fileName": "music.mp3", "duration": 180}
  ],
  "timeline": [
    {"id": "segment_1", "assetId": "asset_1", "startTime": 0, "endTime": 5, "projectStartTime": 0},
    {"id": "segment_2", "assetId": "asset_2", "startTime": 10, "endTime": 20, "projectStartTime": 5, "volume": 0.8}
  ],
  "operationLog": [
    {"type": "import", "timestamp": "2025-10-31T09:50:00.000Z", "payload": {"asset": "asset_1"}},
    {"type": "import", "timestamp": "2025-10-31T09:55:00.000Z", "payload": {"asset": "asset_2"}}
  ]
}
`

// WriteSampleProject writes SampleProjectJSON and its asset files under dir
// and returns the project path and asset directory.
func WriteSampleProject(t *testing.T, dir string) (string, string) {
	t.Helper()
	projectPath := filepath.Join(dir, "project.json")
	WriteFile(t, projectPath, []byte(SampleProjectJSON))
	assetDir := filepath.Join(dir, "assets")
	for name, content := range SampleAssets {
		WriteFile(t, filepath.Join(assetDir, name), content)
	}
	return projectPath, assetDir
}
