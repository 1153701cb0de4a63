package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	appDirPerm  os.FileMode = 0o750
	appFilePerm os.FileMode = 0o640
)

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals the value and atomically writes it to filename.
func WriteJSONAtomic(filename string, v any) error {
	return writeAtomic(filename, func(w io.Writer) error {
		jsonEncoder := json.NewEncoder(w)
		jsonEncoder.SetEscapeHTML(true)
		if err := jsonEncoder.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	})
}

// ReadJSON decodes the JSON document stored in filename into v.
func ReadJSON(filename string, v any) error {
	b, err := os.ReadFile(filename) //nolint:gosec // path is controlled by application
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(filename), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// CopyAtomic writes data provided by the reader to the destination file atomically.
func CopyAtomic(filename string, reader io.Reader) error {
	return writeAtomic(filename, func(w io.Writer) error {
		if _, err := io.Copy(w, reader); err != nil {
			return fmt.Errorf("copy to temp: %w", err)
		}
		return nil
	})
}

// AppendFrom appends everything read from reader to filename and returns the
// number of bytes written. Bytes written before a read or write failure stay
// in the file.
func AppendFrom(filename string, reader io.Reader) (int64, error) {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND, appFilePerm) //nolint:gosec // path is constructed by the application
	if err != nil {
		return 0, fmt.Errorf("open for append: %w", err)
	}
	written, copyErr := io.Copy(f, reader)
	syncErr := f.Sync()
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return written, fmt.Errorf("append: %w", copyErr)
	case syncErr != nil:
		return written, fmt.Errorf("sync: %w", syncErr)
	case closeErr != nil:
		return written, fmt.Errorf("close: %w", closeErr)
	}
	return written, nil
}

// Size returns the size in bytes of filename.
func Size(filename string) (int64, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return 0, err //nolint:wrapcheck // callers inspect os.IsNotExist
	}
	return info.Size(), nil
}

// writeAtomic writes via a temporary file in the same directory followed by
// a rename.
func writeAtomic(filename string, write func(io.Writer) error) error {
	if filename == "" {
		return errors.New("empty filename")
	}
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()

	if err := write(tempFile); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return err
	}
	// ensure data hits disk
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(filename); err == nil {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
