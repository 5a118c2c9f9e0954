package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

var (
	_ FileSystem = OSFileSystem{}
	_ FileSystem = (*MemoryFileSystem)(nil)
)

func TestOSFileSystem_StatMissing(t *testing.T) {
	fs := OSFileSystem{}

	if _, err := fs.Stat("filesystem.go"); err != nil {
		t.Errorf("Stat(filesystem.go) failed: %v", err)
	}
	if _, err := fs.Stat("nonexistent_file_xyz.go"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestOSFileSystem_WriteFileReplaces(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "a.4mse")

	if err := fs.WriteFile(path, []byte("first"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fs.WriteFile(path, []byte("second"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected %q, got %q", "second", data)
	}

	info, err := fs.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestOSFileSystem_ListFiles(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	for _, name := range []string{"b.4mse", "a.4mse", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.4mse"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := fs.ListFiles(dir, ".4mse")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.4mse"), filepath.Join(dir, "b.4mse")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ListFiles = %v, want %v", got, want)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Returned data must be a copy.
	data[0] = 'X'
	again, _ := mfs.ReadFile("/test.txt")
	if again[0] != 'h' {
		t.Error("ReadFile returned an alias of the stored data")
	}
}

func TestMemoryFileSystem_WriteNeedsParent(t *testing.T) {
	mfs := NewMemoryFileSystem()

	err := mfs.WriteFile("/records/a.4mse", nil, 0644)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if err := mfs.MkdirAll("/records", 0755); err != nil {
		t.Fatal(err)
	}
	if err := mfs.WriteFile("/records/a.4mse", []byte{1}, 0644); err != nil {
		t.Fatalf("WriteFile after MkdirAll failed: %v", err)
	}
}

func TestMemoryFileSystem_Stat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.MkdirAll("/a/b", 0755)
	_ = mfs.WriteFile("/a/b/c.bin", []byte("1234"), 0640)

	info, err := mfs.Stat("/a/b/c.bin")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 4 || info.Mode() != 0640 || info.IsDir() {
		t.Errorf("unexpected info: size=%d mode=%v dir=%v", info.Size(), info.Mode(), info.IsDir())
	}
	if dir, err := mfs.Stat("/a"); err != nil || !dir.IsDir() {
		t.Errorf("expected /a to be a directory, err=%v", err)
	}
	if _, err := mfs.Stat("/a/b/missing.bin"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_ListFiles(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.MkdirAll("/data/nested", 0755)
	for _, name := range []string{"/data/z.4mse", "/data/a.4mse", "/data/readme.md", "/data/nested/x.4mse"} {
		_ = mfs.WriteFile(name, nil, 0644)
	}

	got, err := mfs.ListFiles("/data", ".4mse")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(got) != 2 || got[0] != "/data/a.4mse" || got[1] != "/data/z.4mse" {
		t.Errorf("ListFiles = %v", got)
	}

	if _, err := mfs.ListFiles("/missing", ""); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing dir, got %v", err)
	}
}
