package fs

import (
	"fmt"
	"io"
	"os"
	"path"
)

// WriteFileAtomic ensures atomic writes via rename. Beware that atomicity is only guaranteed on the same filesystem
func WriteFileAtomic(filePath string, data []byte, perm os.FileMode) error {
	tmpName, err := writeTemp(filePath, func(tmp *os.File) error {
		_, err := tmp.Write(data)
		return err
	}, perm)
	if err != nil {
		return err
	}

	return commitTemp(tmpName, filePath)
}

// WriteStreamAtomic is WriteFileAtomic for readers too large to buffer, e.g. engine image exports.
// It reports the number of bytes written.
func WriteStreamAtomic(filePath string, r io.Reader, perm os.FileMode) (int64, error) {
	var written int64
	tmpName, err := writeTemp(filePath, func(tmp *os.File) error {
		n, err := io.Copy(tmp, r)
		written = n
		return err
	}, perm)
	if err != nil {
		return 0, err
	}

	if err := commitTemp(tmpName, filePath); err != nil {
		return 0, err
	}

	return written, nil
}

func writeTemp(filePath string, fill func(*os.File) error, perm os.FileMode) (string, error) {
	dir := path.Dir(filePath)
	tmp, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	if err := tmp.Chmod(perm); err != nil {
		return fail(err)
	}

	if err := fill(tmp); err != nil {
		return fail(err)
	}

	if err := tmp.Sync(); err != nil {
		return fail(err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}

	return tmpName, nil
}

func commitTemp(tmpName, filePath string) error {
	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", filePath, err)
	}

	// fsync dir so rename is durable across power loss
	dfd, err := os.Open(path.Dir(filePath))
	if err != nil {
		return err
	}
	defer dfd.Close()
	return dfd.Sync()
}
