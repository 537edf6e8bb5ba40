package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryFileSystem_ReadDirSorted(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("/frames/north/0002.jpg", []byte("b"))
	m.WriteFile("/frames/north/0001.jpg", []byte("a"))
	m.MkdirAll("/frames/north/sub")

	entries, err := m.ReadDir("/frames/north")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"0001.jpg", "0002.jpg", "sub"}
	if len(names) != len(want) {
		t.Fatalf("ReadDir names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
	if !entries[2].IsDir() {
		t.Error("sub should be reported as a directory")
	}
}

func TestMemoryFileSystem_ReadFileCopies(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("/a.jpg", []byte("abc"))

	data, err := m.ReadFile("/a.jpg")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[0] = 'z'

	again, _ := m.ReadFile("/a.jpg")
	if string(again) != "abc" {
		t.Errorf("stored data mutated through returned slice: %q", again)
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	m := NewMemoryFileSystem()
	if _, err := m.ReadFile("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want ErrNotExist", err)
	}
	if _, err := m.ReadDir("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir error = %v, want ErrNotExist", err)
	}
	if _, err := m.Stat("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat error = %v, want ErrNotExist", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.png"), []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	var fsys FileSystem = OSFileSystem{}
	entries, err := fsys.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir = %v, %v", entries, err)
	}
	info, err := fsys.Stat(filepath.Join(dir, "f.png"))
	if err != nil || info.Size() != 3 {
		t.Fatalf("Stat = %v, %v", info, err)
	}
}
