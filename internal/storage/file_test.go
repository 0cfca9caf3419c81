package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "best.json")
	input := testSnapshot(21, -0.875)

	if err := SaveSnapshotFile(path, input); err != nil {
		t.Fatalf("save: %v", err)
	}
	output, ok, err := LoadSnapshotFile(path)
	if err != nil || !ok {
		t.Fatalf("load: ok=%t err=%v", ok, err)
	}
	if output.NetworkID != 21 || output.Layers[0].Weights[0] != -0.875 || !output.Unchanging {
		t.Fatalf("unexpected snapshot: %+v", output)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files should be gone, found %d entries", len(entries))
	}
}

func TestLoadSnapshotFileMissing(t *testing.T) {
	_, ok, err := LoadSnapshotFile(filepath.Join(t.TempDir(), "absent.json"))
	if ok || err != nil {
		t.Fatalf("missing file: ok=%t err=%v", ok, err)
	}
}

func TestLoadSnapshotFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, ok, err := LoadSnapshotFile(path)
	if ok || err == nil {
		t.Fatalf("corrupt file: ok=%t err=%v", ok, err)
	}
}

func TestSaveSnapshotFileRequiresPath(t *testing.T) {
	if err := SaveSnapshotFile("", testSnapshot(1, 0)); err == nil {
		t.Fatal("expected error for empty path")
	}
}
