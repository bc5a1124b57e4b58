package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulpham157/ii-agent/internal/config"
)

func TestStores(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	stores := map[string]FileStore{
		"local":  local,
		"memory": NewMemory(),
	}

	for name, fs := range stores {
		t.Run(name, func(t *testing.T) {
			key := HistoryKey("abc-123")

			if _, err := fs.Read(key); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("read missing key: err = %v, want not-exist", err)
			}

			if err := fs.Write(key, []byte(`[{"kind":"text_prompt"}]`)); err != nil {
				t.Fatalf("write: %v", err)
			}
			data, err := fs.Read(key)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(data) != `[{"kind":"text_prompt"}]` {
				t.Errorf("read = %q", data)
			}

			if err := fs.Delete(key); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := fs.Read(key); err == nil {
				t.Error("read after delete should fail")
			}
			// Deleting twice is fine.
			if err := fs.Delete(key); err != nil {
				t.Errorf("second delete: %v", err)
			}
		})
	}
}

func TestLocalKeyTraversalFlattened(t *testing.T) {
	root := t.TempDir()
	local, err := NewLocal(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := local.Write("../../escape.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); err != nil {
		t.Error("traversal key should be flattened inside the root")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); err == nil {
		t.Error("blob escaped the store root")
	}
}

func TestNewFromConfig(t *testing.T) {
	if _, err := New(config.FileStoreConfig{Type: "memory"}); err != nil {
		t.Errorf("memory: %v", err)
	}
	if _, err := New(config.FileStoreConfig{Type: "local", Root: t.TempDir()}); err != nil {
		t.Errorf("local: %v", err)
	}
	if _, err := New(config.FileStoreConfig{Type: "s3"}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("unknown type should fail, got %v", err)
	}
}
