// manager_test.go - Tests for storage layer
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		if _, err := NewLocalStore(uploadDir); err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
			t.Error("Expected upload directory to be created")
		}
	})
}

func TestLocalStore_SaveAndOpen(t *testing.T) {
	t.Run("round-trips content", func(t *testing.T) {
		store := createTestStore(t)
		content := "10,20,30\n40,50,60"

		info, err := store.Save("samples.csv", strings.NewReader(content))
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}
		if info.ID == "" {
			t.Error("Expected ID to be set")
		}
		if info.Name != "samples.csv" {
			t.Errorf("Expected name 'samples.csv', got %v", info.Name)
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), info.Size)
		}
		if info.Status != "uploaded" {
			t.Errorf("Expected status 'uploaded', got %v", info.Status)
		}

		rc, err := store.Open(info.ID)
		if err != nil {
			t.Fatalf("Failed to open file: %v", err)
		}
		defer rc.Close()

		data, _ := io.ReadAll(rc)
		if string(data) != content {
			t.Errorf("Expected content %q, got %q", content, string(data))
		}
	})

	t.Run("strips directories from name", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.Save("../../etc/data.csv", strings.NewReader("1"))
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}
		if info.Name != "data.csv" {
			t.Errorf("Expected name 'data.csv', got %v", info.Name)
		}
	})

	t.Run("open unknown id", func(t *testing.T) {
		store := createTestStore(t)

		_, err := store.Open("missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestLocalStore_Get(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.Save("a.csv", strings.NewReader("1"))

	got, err := store.Get(info.ID)
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	if got.Name != "a.csv" {
		t.Errorf("Expected name 'a.csv', got %v", got.Name)
	}

	got.Name = "mutated.csv"
	again, _ := store.Get(info.ID)
	if again.Name != "a.csv" {
		t.Error("Expected Get to return a copy")
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_List(t *testing.T) {
	t.Run("newest first with limit", func(t *testing.T) {
		store := createTestStore(t)
		for _, name := range []string{"one.csv", "two.csv", "three.csv"} {
			if _, err := store.Save(name, strings.NewReader("1")); err != nil {
				t.Fatalf("Failed to save file: %v", err)
			}
			time.Sleep(2 * time.Millisecond)
		}

		files, err := store.List(2)
		if err != nil {
			t.Fatalf("Failed to list files: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("Expected 2 files, got %d", len(files))
		}
		if files[0].Name != "three.csv" {
			t.Errorf("Expected newest file first, got %v", files[0].Name)
		}
	})

	t.Run("zero limit returns all", func(t *testing.T) {
		store := createTestStore(t)
		store.Save("a.csv", strings.NewReader("1"))
		store.Save("b.csv", strings.NewReader("2"))

		files, _ := store.List(0)
		if len(files) != 2 {
			t.Errorf("Expected 2 files, got %d", len(files))
		}
	})
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.Save("gone.csv", strings.NewReader("1"))

	if err := store.Delete(info.ID); err != nil {
		t.Fatalf("Failed to delete file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.uploadDir, info.ID)); !os.IsNotExist(err) {
		t.Error("Expected file to be removed from disk")
	}
	if err := store.Delete(info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLocalStore_ConcurrentAccess(t *testing.T) {
	store := createTestStore(t)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			content := "Content " + string(rune('0'+n))
			if _, err := store.Save("file.csv", strings.NewReader(content)); err != nil {
				t.Errorf("Failed to save file: %v", err)
			}
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	files, err := store.List(20)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(files) != 10 {
		t.Errorf("Expected 10 files, got %d", len(files))
	}
}

// mockReader is a reader that can simulate errors
type mockReader struct {
	failAfter int
	readCount int
}

func (m *mockReader) Read(p []byte) (n int, err error) {
	if m.readCount >= m.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	m.readCount++
	return copy(p, "data"), nil
}

func TestLocalStore_SaveReadError(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.Save("test.csv", &mockReader{}); err == nil {
		t.Error("Expected error when reader fails")
	}

	files, _ := store.List(0)
	if len(files) != 0 {
		t.Errorf("Expected failed save to leave no metadata, got %d files", len(files))
	}
}

func TestAllowedTypes(t *testing.T) {
	allowed := ParseAllowedTypes(" .CSV, txt ,,")
	if len(allowed) != 2 || allowed[0] != ".csv" || allowed[1] != ".txt" {
		t.Fatalf("Unexpected allow list: %v", allowed)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"data.csv", true},
		{"DATA.CSV", true},
		{"notes.txt", true},
		{"image.png", false},
		{"csv", false},
	}
	for _, tt := range tests {
		if got := HasAllowedExtension(tt.name, allowed); got != tt.want {
			t.Errorf("HasAllowedExtension(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if !HasAllowedExtension("anything.bin", nil) {
		t.Error("Expected empty allow list to accept everything")
	}
}
