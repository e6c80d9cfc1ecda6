package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
	"github.com/TemporalDynamics/verifysign-sub002/internal/testutil"
)

func TestRunVersionAndUsage(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	out := captureStdout(t, func() {
		if code := run([]string{"eco", "version"}); code != exitOK {
			t.Fatalf("version: unexpected exit code %d", code)
		}
	})
	if !strings.Contains(out, "eco "+version) {
		t.Fatalf("unexpected version output: %q", out)
	}
	captureStdout(t, func() {
		if code := run([]string{"eco"}); code != exitOK {
			t.Fatalf("bare invocation: unexpected exit code %d", code)
		}
		if code := run([]string{"eco", "unknown"}); code != exitInvalidInput {
			t.Fatalf("unknown command: unexpected exit code %d", code)
		}
		if code := run([]string{"eco", "--explain"}); code != exitOK {
			t.Fatalf("explain: unexpected exit code %d", code)
		}
		for _, command := range []string{"hash", "pack", "verify", "summary"} {
			if code := run([]string{"eco", command, "--help"}); code != exitOK {
				t.Fatalf("%s --help: unexpected exit code %d", command, code)
			}
		}
		if code := run([]string{"eco", "keys", "init", "--help"}); code != exitOK {
			t.Fatalf("keys init --help: unexpected exit code %d", code)
		}
		if code := run([]string{"eco", "keys"}); code != exitInvalidInput {
			t.Fatalf("keys without subcommand: unexpected exit code %d", code)
		}
	})
}

func TestKeysInitPackVerifySummary(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	projectPath, assetDir := testutil.WriteSampleProject(t, workDir)

	var keys keysInitOutput
	runJSON(t, []string{"eco", "keys", "init", "--json"}, exitOK, &keys)
	if !keys.OK || keys.KeyID == "" {
		t.Fatalf("unexpected keys init output: %+v", keys)
	}
	if keys.PrivateKeyPath != filepath.Join(".eco", "keys", "eco_private.key") {
		t.Fatalf("unexpected private key path: %s", keys.PrivateKeyPath)
	}

	archivePath := filepath.Join(workDir, "out", "project.ecox")
	var packed packOutput
	runJSON(t, []string{
		"eco", "pack",
		"--project", projectPath,
		"--asset-dir", assetDir,
		"--out", archivePath,
		"--private-key", keys.PrivateKeyPath,
		"--json",
	}, exitOK, &packed)
	if !packed.OK || packed.ProjectID != "project_123" || packed.Assets != 2 || packed.Segments != 2 {
		t.Fatalf("unexpected pack output: %+v", packed)
	}
	if packed.KeyID != keys.KeyID {
		t.Fatalf("pack key id defaults to the key fingerprint: got %s want %s", packed.KeyID, keys.KeyID)
	}

	var verified verifyOutput
	runJSON(t, []string{
		"eco", "verify", archivePath,
		"--public-key", keys.PublicKeyPath,
		"--expected-key-id", keys.KeyID,
		"--asset-dir", assetDir,
		"--json",
	}, exitOK, &verified)
	if !verified.OK || verified.Stage != "trusted" || verified.Operations != 2 {
		t.Fatalf("unexpected verify output: %+v", verified)
	}
	if len(verified.AssetChecks) != 2 {
		t.Fatalf("expected two asset checks, got %+v", verified.AssetChecks)
	}

	summaryPath := filepath.Join(workDir, "summary.json")
	var summarized summaryOutput
	runJSON(t, []string{
		"eco", "summary", archivePath,
		"--public-key", keys.PublicKeyPath,
		"--out", summaryPath,
		"--json",
	}, exitOK, &summarized)
	if !summarized.OK || summarized.Path != summaryPath {
		t.Fatalf("unexpected summary output: %+v", summarized)
	}
	var summary map[string]any
	if err := json.Unmarshal(testutil.MustReadFile(t, summaryPath), &summary); err != nil {
		t.Fatalf("summary file is not JSON: %v", err)
	}
	if summary["projectId"] != "project_123" || summary["duration"] != float64(15) {
		t.Fatalf("unexpected summary: %v", summary)
	}
	if signature, _ := summary["sourceSignature"].(string); signature == "" {
		t.Fatalf("summary must carry the source signature: %v", summary)
	}
	if _, leaked := summary["assets"]; leaked {
		t.Fatalf("summary must not expose assets: %v", summary)
	}
}

func TestPackWithHashesFileAndConfig(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	projectPath, _ := testutil.WriteSampleProject(t, workDir)
	keyFiles := testutil.WriteKeyFiles(t, workDir)

	hashes := map[string]string{}
	for id, name := range map[string]string{"asset_1": "clip1.mp4", "asset_2": "music.mp3"} {
		hashes[id] = strings.ToUpper(sign.SHA256Hex(testutil.SampleAssets[name]))
	}
	encoded, err := json.Marshal(hashes)
	if err != nil {
		t.Fatalf("encode hashes: %v", err)
	}
	hashesPath := filepath.Join(workDir, "hashes.json")
	testutil.WriteFile(t, hashesPath, encoded)

	testutil.WriteFile(t, filepath.Join(workDir, ".eco", "config.yaml"), []byte(strings.Join([]string{
		"signing:",
		"  key_id: studio-key-1",
		"  private_key: " + keyFiles.PrivateKeyPath,
		"verify:",
		"  public_key: " + keyFiles.PublicKeyPath,
		"  expected_key_id: studio-key-1",
		"archive:",
		"  compression_level: 6",
		"",
	}, "\n")))

	archivePath := filepath.Join(workDir, "project.ecox")
	var packed packOutput
	runJSON(t, []string{"eco", "pack", "--project", projectPath, "--hashes", hashesPath, "--out", archivePath, "--json"}, exitOK, &packed)
	if packed.KeyID != "studio-key-1" {
		t.Fatalf("expected config key id, got %+v", packed)
	}

	var verified verifyOutput
	runJSON(t, []string{"eco", "verify", archivePath, "--json"}, exitOK, &verified)
	if !verified.OK || verified.KeyID != "studio-key-1" {
		t.Fatalf("unexpected verify output: %+v", verified)
	}

	var rejected verifyOutput
	runJSON(t, []string{"eco", "verify", archivePath, "--expected-key-id", "other-key", "--json"}, exitVerifyFailed, &rejected)
	if rejected.ErrorCode != "no_compatible_signature" || rejected.Stage != "signature_selected" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
}

func TestVerifyWrongKeyReportsTampering(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	projectPath, assetDir := testutil.WriteSampleProject(t, workDir)
	signer := testutil.WriteKeyFiles(t, filepath.Join(workDir, "signer"))
	other := testutil.WriteKeyFiles(t, filepath.Join(workDir, "other"))

	archivePath := filepath.Join(workDir, "project.ecox")
	captureStdout(t, func() {
		code := run([]string{"eco", "pack", "--project", projectPath, "--asset-dir", assetDir, "--out", archivePath, "--private-key", signer.PrivateKeyPath})
		if code != exitOK {
			t.Fatalf("pack: unexpected exit code %d", code)
		}
	})

	var verified verifyOutput
	runJSON(t, []string{"eco", "verify", archivePath, "--public-key", other.PublicKeyPath, "--json"}, exitVerifyFailed, &verified)
	if verified.OK || verified.Stage != "signature_verified" || verified.ErrorCode != "signature_mismatch" {
		t.Fatalf("unexpected verify output: %+v", verified)
	}
	if !strings.Contains(verified.Error, "tampered") {
		t.Fatalf("expected tamper message, got %q", verified.Error)
	}
}

func TestVerifyAssetMismatch(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	projectPath, assetDir := testutil.WriteSampleProject(t, workDir)
	keyFiles := testutil.WriteKeyFiles(t, workDir)

	archivePath := filepath.Join(workDir, "project.ecox")
	captureStdout(t, func() {
		if code := run([]string{"eco", "pack", "--project", projectPath, "--asset-dir", assetDir, "--out", archivePath, "--private-key", keyFiles.PrivateKeyPath}); code != exitOK {
			t.Fatalf("pack: unexpected exit code %d", code)
		}
	})
	testutil.WriteFile(t, filepath.Join(assetDir, "clip1.mp4"), []byte("re-encoded video"))
	if err := os.Remove(filepath.Join(assetDir, "music.mp3")); err != nil {
		t.Fatalf("remove asset: %v", err)
	}

	var verified verifyOutput
	runJSON(t, []string{"eco", "verify", archivePath, "--public-key", keyFiles.PublicKeyPath, "--asset-dir", assetDir, "--json"}, exitVerifyFailed, &verified)
	if verified.OK || verified.ErrorCategory != "integrity_violation" {
		t.Fatalf("unexpected verify output: %+v", verified)
	}
	statuses := map[string]string{}
	for _, check := range verified.AssetChecks {
		statuses[check.AssetID] = check.Status
	}
	if statuses["asset_1"] != "mismatch" || statuses["asset_2"] != "missing" {
		t.Fatalf("unexpected asset statuses: %v", statuses)
	}
}

func TestKeysInitRefusesOverwriteWithoutForce(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)

	captureStdout(t, func() {
		if code := run([]string{"eco", "keys", "init", "--out-dir", "keys"}); code != exitOK {
			t.Fatalf("first init: unexpected exit code %d", code)
		}
	})
	var second keysInitOutput
	runJSON(t, []string{"eco", "keys", "init", "--out-dir", "keys", "--json"}, exitInvalidInput, &second)
	if second.ErrorCode != "key_exists" {
		t.Fatalf("unexpected overwrite output: %+v", second)
	}
	var forced keysInitOutput
	runJSON(t, []string{"eco", "keys", "init", "--out-dir", "keys", "--force", "--json"}, exitOK, &forced)
	if !forced.OK {
		t.Fatalf("forced init failed: %+v", forced)
	}
}

func TestSealedKeyRequiresPassphrase(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	projectPath, assetDir := testutil.WriteSampleProject(t, workDir)
	t.Setenv("ECO_TEST_PASSPHRASE", "correct horse battery staple")

	var keys keysInitOutput
	runJSON(t, []string{"eco", "keys", "init", "--passphrase-env", "ECO_TEST_PASSPHRASE", "--work-factor", "10", "--json"}, exitOK, &keys)
	if !keys.Sealed {
		t.Fatalf("expected sealed key: %+v", keys)
	}
	if !sign.IsSealed(testutil.MustReadFile(t, keys.PrivateKeyPath)) {
		t.Fatalf("private key file is not sealed")
	}

	archivePath := filepath.Join(workDir, "project.ecox")
	var locked packOutput
	runJSON(t, []string{"eco", "pack", "--project", projectPath, "--asset-dir", assetDir, "--out", archivePath, "--private-key", keys.PrivateKeyPath, "--json"}, exitInvalidInput, &locked)
	if locked.ErrorCode != "missing_key" {
		t.Fatalf("unexpected locked pack output: %+v", locked)
	}

	var packed packOutput
	runJSON(t, []string{
		"eco", "pack", "--project", projectPath, "--asset-dir", assetDir, "--out", archivePath,
		"--private-key", keys.PrivateKeyPath, "--passphrase-env", "ECO_TEST_PASSPHRASE", "--json",
	}, exitOK, &packed)
	if packed.KeyID != keys.KeyID {
		t.Fatalf("unexpected pack output: %+v", packed)
	}
}

func TestPackInputErrors(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	projectPath, assetDir := testutil.WriteSampleProject(t, workDir)
	keyFiles := testutil.WriteKeyFiles(t, workDir)
	out := filepath.Join(workDir, "project.ecox")

	cases := []struct {
		name      string
		arguments []string
		code      string
	}{
		{name: "missing_project", arguments: []string{"--asset-dir", assetDir, "--out", out}, code: "invalid_input"},
		{name: "both_hash_sources", arguments: []string{"--project", projectPath, "--asset-dir", assetDir, "--hashes", "h.json", "--out", out}, code: "invalid_input"},
		{name: "no_key", arguments: []string{"--project", projectPath, "--asset-dir", assetDir, "--out", out}, code: "missing_key"},
		{name: "missing_asset_file", arguments: []string{"--project", projectPath, "--asset-dir", workDir, "--out", out, "--private-key", keyFiles.PrivateKeyPath}, code: "missing_asset_hash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var output packOutput
			runJSON(t, append([]string{"eco", "pack", "--json"}, tc.arguments...), exitInvalidInput, &output)
			if output.OK || output.ErrorCode != tc.code {
				t.Fatalf("unexpected pack output: %+v", output)
			}
		})
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("failed packs must not write an archive: %v", err)
	}
}

func TestHashCommand(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	_, assetDir := testutil.WriteSampleProject(t, workDir)

	var output hashOutput
	runJSON(t, []string{"eco", "hash", filepath.Join(assetDir, "clip1.mp4"), "--json"}, exitOK, &output)
	if len(output.Files) != 1 || output.Files[0].SHA256 != sign.SHA256Hex([]byte("video content")) {
		t.Fatalf("unexpected hash output: %+v", output)
	}

	var missing hashOutput
	runJSON(t, []string{"eco", "hash", filepath.Join(workDir, "absent.mp4"), "--json"}, exitInternalFailure, &missing)
	if missing.ErrorCategory != "io_failure" || missing.Hint == "" {
		t.Fatalf("unexpected hash failure: %+v", missing)
	}
}

func TestSummaryFromManifestFile(t *testing.T) {
	workDir := t.TempDir()
	withWorkingDir(t, workDir)
	manifestPath := filepath.Join(workDir, "manifest.json")
	testutil.WriteFile(t, manifestPath, []byte(`{
  "projectId": "p1",
  "title": "Cut",
  "assets": [{"id": "a1", "fileName": "secret.mp4"}],
  "segments": [{"id": "s1", "assetId": "a1", "startTime": 0, "endTime": 4, "projectStartTime": 2}],
  "signatures": [{"signature": "c2ln"}]
}`))

	var output summaryOutput
	runJSON(t, []string{"eco", "summary", "--manifest", manifestPath, "--json"}, exitOK, &output)
	var summary map[string]any
	if err := json.Unmarshal(output.Summary, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["sourceSignature"] != "c2ln" || summary["duration"] != float64(6) {
		t.Fatalf("unexpected summary: %v", summary)
	}
	if strings.Contains(string(output.Summary), "secret.mp4") {
		t.Fatalf("summary leaked asset file names: %s", output.Summary)
	}
}

func TestVerifyArgumentErrors(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	var output verifyOutput
	runJSON(t, []string{"eco", "verify", "--json"}, exitInvalidInput, &output)
	if output.ErrorCode != "invalid_input" || output.ErrorCategory != "invalid_input" {
		t.Fatalf("unexpected envelope: %+v", output)
	}
	runJSON(t, []string{"eco", "verify", "a.ecox", "--json"}, exitInvalidInput, &output)
	if output.ErrorCode != "missing_key" {
		t.Fatalf("unexpected missing key output: %+v", output)
	}
}

func runJSON(t *testing.T, arguments []string, wantCode int, target any) {
	t.Helper()
	var code int
	out := captureStdout(t, func() {
		code = run(arguments)
	})
	if code != wantCode {
		t.Fatalf("%v: exit code %d, want %d\n%s", arguments[1:], code, wantCode, out)
	}
	if err := json.Unmarshal([]byte(out), target); err != nil {
		t.Fatalf("%v: parse output: %v\n%s", arguments[1:], err, out)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	original := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = writer
	defer func() {
		os.Stdout = original
	}()

	type readResult struct {
		raw []byte
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		raw, readErr := io.ReadAll(reader)
		resultCh <- readResult{raw: raw, err: readErr}
	}()

	fn()

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	result := <-resultCh
	if result.err != nil {
		t.Fatalf("read stdout: %v", result.err)
	}
	return string(result.raw)
}

func withWorkingDir(t *testing.T, path string) {
	t.Helper()
	current, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd: %v", err)
	}
	if err := os.Chdir(path); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(current)
	})
}
