package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
)

func TestWriteFileAtomic(t *testing.T) {
	target := filepath.Join(t.TempDir(), "artifact.json")

	if err := WriteFileAtomic(target, []byte(`{"status":"built"}`), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"status":"built"}` {
		t.Fatalf("content = %q", data)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ref")
	if err := os.WriteFile(target, []byte("old"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := WriteFileAtomic(target, []byte("new"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != "new" {
		t.Fatalf("content = %q, want new", data)
	}
}

func TestWriteStreamAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "image.tar")
	payload := strings.Repeat("layer-bytes ", 1024)

	n, err := WriteStreamAtomic(target, strings.NewReader(payload), 0o644)
	if err != nil {
		t.Fatalf("WriteStreamAtomic: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("written = %d, want %d", n, len(payload))
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != payload {
		t.Fatal("content mismatch")
	}
}

func TestWriteStreamAtomicLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "image.tar")
	boom := errors.New("stream broke")

	if _, err := WriteStreamAtomic(target, iotest.ErrReader(boom), 0o644); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("target exists after failed write: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}
