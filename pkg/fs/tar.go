package fs

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
)

// Archive is a packed build-context tar together with its content digest.
// Packing is deterministic, so equal file trees produce equal digests and the
// digest can serve as a cache key for the copy that ships the archive.
type Archive struct {
	Data   []byte
	Digest digest.Digest
}

func (a *Archive) Reader() io.Reader {
	return bytes.NewReader(a.Data)
}

func (a *Archive) Size() int64 {
	return int64(len(a.Data))
}

// ArchiveFile packs the single file at srcPath, stored under name.
func ArchiveFile(srcPath, name string) (*Archive, error) {
	var buf bytes.Buffer
	if err := PackFile(&buf, srcPath, name); err != nil {
		return nil, err
	}

	return &Archive{Data: buf.Bytes(), Digest: digest.FromBytes(buf.Bytes())}, nil
}

// ArchiveDir packs the tree rooted at dir, with entry names prefixed by
// prefix ("app" yields app/, app/main.py, ...).
func ArchiveDir(dir, prefix string) (*Archive, error) {
	var buf bytes.Buffer
	if err := PackDir(&buf, dir, prefix); err != nil {
		return nil, err
	}

	return &Archive{Data: buf.Bytes(), Digest: digest.FromBytes(buf.Bytes())}, nil
}

// PackFile writes a tar stream containing exactly one regular file.
func PackFile(w io.Writer, srcPath, name string) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", srcPath)
	}

	tw := tar.NewWriter(w)
	if err := writeEntry(tw, srcPath, name, info); err != nil {
		return err
	}

	return tw.Close()
}

// PackDir writes a tar stream of the tree rooted at dir. WalkDir visits
// entries in lexical order, which keeps the stream stable across runs.
func PackDir(w io.Writer, dir, prefix string) error {
	root, err := os.Lstat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !root.IsDir() {
		return fmt.Errorf("%s: not a directory", dir)
	}

	tw := tar.NewWriter(w)

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		name := path.Join(prefix, filepath.ToSlash(rel))
		if name == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return writeEntry(tw, p, name, info)
	})
	if err != nil {
		return err
	}

	return tw.Close()
}

// writeEntry emits one normalized header (+ contents for regular files).
// Ownership is rooted and timestamps are pinned so the stream is reproducible.
func writeEntry(tw *tar.Writer, srcPath, name string, info os.FileInfo) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", srcPath, err)
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", srcPath, err)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		hdr.Name = name + "/"
	case tar.TypeReg, tar.TypeSymlink:
		hdr.Name = name
	default:
		return fmt.Errorf("%s: unsupported file type %c in build context", srcPath, hdr.Typeflag)
	}

	hdr.Uid = 0
	hdr.Gid = 0
	hdr.Uname = ""
	hdr.Gname = ""
	hdr.ModTime = time.Unix(0, 0)
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Format = tar.FormatPAX

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if hdr.Typeflag != tar.TypeReg {
		return nil
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("pack %s: %w", srcPath, err)
	}

	return nil
}
