package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRotatingWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()

	for i := 0; i < 3; i++ {
		if _, err := writer.Write([]byte("entry\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got := bytes.Count(data, []byte("entry\n")); got != 3 {
		t.Fatalf("file holds %d entries, want 3", got)
	}
}

func TestRotatingWriterRotatesBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer := &rotatingWriter{
		path:       path,
		maxSize:    64,
		maxBackups: 2,
		maxAge:     24 * time.Hour,
	}
	defer writer.Close()

	line := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("active file missing: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("backup missing after rotation: %v", err)
	}
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter("", 1, 1, 1); err == nil {
		t.Fatal("empty path must be rejected")
	}
}
