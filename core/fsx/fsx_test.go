package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesAndOverwrites(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out", "project.ecox")

	if err := WriteFileAtomic(target, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read first write: %v", err)
	}
	if string(first) != "first\n" {
		t.Fatalf("unexpected first content: %q", string(first))
	}

	if err := WriteFileAtomic(target, []byte("second\n"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	second, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read second write: %v", err)
	}
	if string(second) != "second\n" {
		t.Fatalf("unexpected second content: %q", string(second))
	}
	entries, err := os.ReadDir(filepath.Dir(target))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicMode(t *testing.T) {
	target := filepath.Join(t.TempDir(), "private.key")

	if err := WriteFileAtomic(target, []byte("key\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600 got %#o", info.Mode().Perm())
	}
}

func TestWriteFileExclusive(t *testing.T) {
	target := filepath.Join(t.TempDir(), "private.key")
	if err := WriteFileExclusive(target, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	err := WriteFileExclusive(target, []byte("two"), 0o600)
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "one" {
		t.Fatalf("existing file was modified: %q", data)
	}
}

func TestReadFileLimited(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(target, []byte("0123456789"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := ReadFileLimited(target, 10)
	if err != nil || string(data) != "0123456789" {
		t.Fatalf("expected full read, got %q err=%v", data, err)
	}
	if _, err := ReadFileLimited(target, 9); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := ReadFileLimited(filepath.Join(t.TempDir(), "missing"), 10); err == nil {
		t.Fatalf("expected missing file error")
	}
}
