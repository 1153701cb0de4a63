package file

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type failingReader struct {
	data []byte
	n    int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n >= len(r.data) {
		return 0, errors.New("connection reset")
	}
	k := copy(p, r.data[r.n:])
	r.n += k
	return k, nil
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := map[string]int{"seqno": 42}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["seqno"] != 42 {
		t.Fatalf("unexpected content: %v", out)
	}
}

func TestCopyAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	if err := CopyAtomic(path, strings.NewReader("first")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := CopyAtomic(path, strings.NewReader("second")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "second" {
		t.Fatalf("got %q", b)
	}
}

func TestAppendFromKeepsPartialWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	if err := CopyAtomic(path, strings.NewReader("ab")); err != nil {
		t.Fatalf("copy: %v", err)
	}

	n, err := AppendFrom(path, &failingReader{data: []byte("cde")})
	if err == nil {
		t.Fatalf("expected append error")
	}
	if n != 3 {
		t.Fatalf("expected 3 bytes written before failure, got %d", n)
	}

	if _, err := AppendFrom(path, strings.NewReader("f")); err != nil {
		t.Fatalf("append: %v", err)
	}
	size, err := Size(path)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 6 {
		t.Fatalf("expected size 6, got %d", size)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "abcdef" {
		t.Fatalf("got %q", b)
	}
}

func TestAppendFromMissingFile(t *testing.T) {
	_, err := AppendFrom(filepath.Join(t.TempDir(), "missing"), io.LimitReader(strings.NewReader("x"), 1))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
