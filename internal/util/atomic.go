// Package util provides common file helpers for jolo.
package util

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// MarshalJSON renders v the way every generated JSON file is written:
// four-space indent and a trailing newline.
func MarshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// AtomicWriteJSON writes v as generated JSON, atomically.
func AtomicWriteJSON(path string, v any) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data, 0644)
}

// EnsureDirAndWriteFile is AtomicWriteFile after creating the parent directory.
func EnsureDirAndWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return AtomicWriteFile(path, data, perm)
}

// AtomicWriteFile replaces path with data through a temp file in the same
// directory, so a bind-mounted reader never sees a partial file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Chmod(perm); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
