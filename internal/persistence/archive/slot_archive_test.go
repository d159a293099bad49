package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"isocraft.ai/internal/persistence/snapshot"
	"isocraft.ai/internal/sim/world/logic/isomath"
)

func savedSlot(t *testing.T, dir *snapshot.Dir, slot int) snapshot.Slot {
	t.Helper()
	layers := make([][]byte, isomath.Height)
	for y := range layers {
		layers[y] = make([]byte, snapshot.LayerSize)
	}
	layers[0][7] = 3
	s := snapshot.Slot{
		Header: snapshot.Header{X: 1, Y: 2, Z: 3, Block: 4, ScrollX: -8, ScrollY: 16},
		Layers: layers,
		Meta:   snapshot.Meta{Seed: 42, Generator: "flat", Seq: 9, Digest: 0xabc},
	}
	if err := dir.Save(slot, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	return s
}

func TestArchiveSlot_CopiesAndRestores(t *testing.T) {
	data := t.TempDir()
	dir := snapshot.NewDir(data)
	want := savedSlot(t, dir, 4)

	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	path, ok, err := ArchiveSlot(dir, Root(data), 4, now)
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	if filepath.Base(path) != "slot_4_20260301-123000.000" {
		t.Fatalf("path=%s", path)
	}

	m, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	// Header, meta and 16 layers.
	if m.Slot != 4 || m.Seq != 9 || m.Seed != 42 || m.Digest != "0000000000000abc" || len(m.Files) != isomath.Height+2 {
		t.Fatalf("meta=%+v", m)
	}

	// The archive survives an erase and restores into another slot.
	if err := dir.Erase(4); err != nil {
		t.Fatal(err)
	}
	if _, err := Restore(path, dir, 6); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, ok, err := dir.Load(6)
	if err != nil || !ok {
		t.Fatalf("load restored: ok=%v err=%v", ok, err)
	}
	if got.Header != want.Header || got.Layers[0][7] != 3 || got.Meta.Seq != 9 || got.Meta.Slot != 6 {
		t.Fatalf("restored=%+v meta=%+v", got.Header, got.Meta)
	}
	if _, err := os.Stat(filepath.Join(dir.Path(6), "WORLDG.zst")); err != nil {
		t.Fatalf("restored header name: %v", err)
	}
}

func TestArchiveSlot_EmptySlot(t *testing.T) {
	data := t.TempDir()
	path, ok, err := ArchiveSlot(snapshot.NewDir(data), Root(data), 2, time.Now())
	if err != nil || ok || path != "" {
		t.Fatalf("path=%q ok=%v err=%v", path, ok, err)
	}
	if _, err := os.Stat(Root(data)); !os.IsNotExist(err) {
		t.Fatalf("archive root created for an empty slot: %v", err)
	}
}

func TestRestore_MissingArchive(t *testing.T) {
	if _, err := Restore(filepath.Join(t.TempDir(), "nope"), snapshot.NewDir(t.TempDir()), 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestArchiveSlot_MetaWriteFailsCleansUp(t *testing.T) {
	data := t.TempDir()
	dir := snapshot.NewDir(data)
	savedSlot(t, dir, 1)

	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	path := filepath.Join(Root(data), "slot_1_20260301-123000.000")
	// A directory in the way of meta.json makes the final write fail.
	if err := os.MkdirAll(filepath.Join(path, "meta.json"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ArchiveSlot(dir, Root(data), 1, now)
	if err == nil || ok || got != "" {
		t.Fatalf("path=%q ok=%v err=%v", got, ok, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("partial archive left behind: %v", err)
	}
	if !dir.Exists(1) {
		t.Fatalf("source slot touched")
	}
}
