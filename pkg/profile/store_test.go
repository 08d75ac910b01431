package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

func TestStoreSaveLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles"))

	p := New()
	p.Name = "desk"
	p.Set(state.FaderField("a"), "mic")
	p.Set(state.VolumeField("mic"), 200)

	if err := store.Save("MD-0001", p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("MD-0001")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil for existing profile")
	}
	if loaded.Name != "desk" {
		t.Errorf("Name = %q, want %q", loaded.Name, "desk")
	}
	if v, _ := loaded.Get(state.VolumeField("mic")); v != int64(200) {
		t.Errorf("mic volume = %v, want 200", v)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	p, err := store.Load("MD-9999")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p != nil {
		t.Errorf("Load = %+v, want nil for missing profile", p)
	}
}

func TestStoreSaveLeavesNoTempFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	store := NewStore(dir)

	if err := store.Save("MD-0001", New()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStoreClear(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Save("MD-0001", New()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear("MD-0001"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	p, err := store.Load("MD-0001")
	if err != nil || p != nil {
		t.Errorf("Load after Clear = %v, %v; want nil, nil", p, err)
	}

	// Clearing again is a no-op
	if err := store.Clear("MD-0001"); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestStoreList(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles"))

	// Empty directory that doesn't exist yet
	serials, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(serials) != 0 {
		t.Errorf("List = %v, want empty", serials)
	}

	store.Save("MD-0001", New())
	store.Save("MD-0002", New())

	serials, err = store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(serials) != 2 {
		t.Fatalf("List returned %d serials, want 2", len(serials))
	}
}

func TestStoreSanitizesSerial(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	store := NewStore(dir)

	if err := store.Save("weird/serial:0 1", New()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	path := store.Path("weird/serial:0 1")
	if strings.ContainsAny(filepath.Base(path), "/: ") {
		t.Errorf("path %q contains unsafe characters", path)
	}
	if !strings.HasPrefix(path, dir) {
		t.Errorf("path %q escapes the store directory", path)
	}

	p, err := store.Load("weird/serial:0 1")
	if err != nil || p == nil {
		t.Errorf("Load after Save = %v, %v", p, err)
	}
}
