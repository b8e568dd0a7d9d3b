package fs

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	return dir
}

func readEntries(t *testing.T, a *Archive) map[string]string {
	t.Helper()

	entries := map[string]string{}
	tr := tar.NewReader(a.Reader())
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}

		if hdr.Uid != 0 || hdr.Gid != 0 {
			t.Errorf("entry %s: ownership %d:%d, want 0:0", hdr.Name, hdr.Uid, hdr.Gid)
		}
		if !hdr.ModTime.Equal(time.Unix(0, 0)) {
			t.Errorf("entry %s: modtime %v not pinned", hdr.Name, hdr.ModTime)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			entries[hdr.Name] = ""
		case tar.TypeSymlink:
			entries[hdr.Name] = "-> " + hdr.Linkname
		default:
			content, err := io.ReadAll(tr)
			if err != nil {
				t.Fatalf("read entry %s: %v", hdr.Name, err)
			}
			entries[hdr.Name] = string(content)
		}
	}

	return entries
}

func TestArchiveDirEntries(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.py":           "print('hi')\n",
		"routers/survey.py": "ROUTES = []\n",
	})
	if err := os.Symlink("main.py", filepath.Join(dir, "entry.py")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	a, err := ArchiveDir(dir, "app")
	if err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	got := readEntries(t, a)
	want := map[string]string{
		"app/":                  "",
		"app/entry.py":          "-> main.py",
		"app/main.py":           "print('hi')\n",
		"app/routers/":          "",
		"app/routers/survey.py": "ROUTES = []\n",
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for name, content := range want {
		if got[name] != content {
			t.Errorf("entry %s = %q, want %q", name, got[name], content)
		}
	}
}

func TestArchiveDirDeterministic(t *testing.T) {
	files := map[string]string{
		"pyproject.toml": "[tool.poetry]\n",
		"app/main.py":    "app = None\n",
		"app/models.py":  "class Survey: pass\n",
	}

	first, err := ArchiveDir(writeTree(t, files), "src")
	if err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	// A second tree with identical content but different timestamps must
	// produce the same digest, otherwise it cannot serve as a cache key.
	other := writeTree(t, files)
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(other, "app", "main.py"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	second, err := ArchiveDir(other, "src")
	if err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	if first.Digest != second.Digest {
		t.Fatalf("digests differ for identical content: %s vs %s", first.Digest, second.Digest)
	}
}

func TestArchiveDirDigestTracksContent(t *testing.T) {
	files := map[string]string{"app/main.py": "v1\n"}

	before, err := ArchiveDir(writeTree(t, files), "app")
	if err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	files["app/main.py"] = "v2\n"
	after, err := ArchiveDir(writeTree(t, files), "app")
	if err != nil {
		t.Fatalf("ArchiveDir: %v", err)
	}

	if before.Digest == after.Digest {
		t.Fatal("digest did not change with file content")
	}
}

func TestArchiveFile(t *testing.T) {
	dir := writeTree(t, map[string]string{"pyproject.toml": "[tool.poetry]\nname = \"backend\"\n"})

	a, err := ArchiveFile(filepath.Join(dir, "pyproject.toml"), "pyproject.toml")
	if err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}

	got := readEntries(t, a)
	if got["pyproject.toml"] != "[tool.poetry]\nname = \"backend\"\n" {
		t.Fatalf("unexpected entries: %v", got)
	}
	if a.Size() != int64(len(a.Data)) {
		t.Fatalf("Size() = %d, want %d", a.Size(), len(a.Data))
	}
}

func TestArchiveFileRejectsDirectory(t *testing.T) {
	if _, err := ArchiveFile(t.TempDir(), "x"); err == nil {
		t.Fatal("expected error for directory source")
	}
}

func TestPackDirRejectsFile(t *testing.T) {
	dir := writeTree(t, map[string]string{"f": "x"})
	if err := PackDir(io.Discard, filepath.Join(dir, "f"), ""); err == nil {
		t.Fatal("expected error for file source")
	}
}
