package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(src, content, 0o640); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(content) {
		t.Fatalf("size mismatch: got %d, want %d", len(got), len(content))
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o040 == 0 {
		t.Fatalf("expected group read bit preserved, got %v", info.Mode().Perm())
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestMoveFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "incoming", "a.bin")
	dst := filepath.Join(dir, "deletion_queue", "sensor", "2024-01-01", "a.bin")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, err=%v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "payload" {
		t.Fatalf("unexpected destination content %q err=%v", got, err)
	}
}

func TestWriteDurableRotatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "pending.json")

	if err := WriteDurable(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := os.Stat(path + BackupSuffix); !os.IsNotExist(err) {
		t.Fatalf("expected no backup after first write, err=%v", err)
	}
	if err := WriteDurable(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	primary, err := os.ReadFile(path)
	if err != nil || string(primary) != "second" {
		t.Fatalf("unexpected primary %q err=%v", primary, err)
	}
	backup, err := os.ReadFile(path + BackupSuffix)
	if err != nil || string(backup) != "first" {
		t.Fatalf("unexpected backup %q err=%v", backup, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected only primary and backup, found %d entries", len(entries))
	}
}

func TestReadDurableFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	if err := os.WriteFile(path+BackupSuffix, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]int
	found, err := ReadJSON(path, &decoded)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if !found || decoded["a"] != 1 {
		t.Fatalf("expected backup content, found=%v decoded=%v", found, decoded)
	}
}

func TestReadJSONMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	var decoded map[string]int

	found, err := ReadJSON(filepath.Join(dir, "absent.json"), &decoded)
	if err != nil || found {
		t.Fatalf("expected clean miss, found=%v err=%v", found, err)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = ReadJSON(corrupt, &decoded)
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}
