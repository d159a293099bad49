package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBlockClasses(t *testing.T) {
	if !Air.IsAir() || Air.IsSolid() || Air.IsWater() {
		t.Fatalf("AIR classes wrong")
	}
	if !Water.IsWater() || Water.IsSolid() {
		t.Fatalf("WATER classes wrong")
	}
	for b := Stone; b < blockCount; b++ {
		if !b.IsSolid() {
			t.Fatalf("%v should be solid", b)
		}
	}
	if got := BlockID(200).String(); got != "BLOCK_200" {
		t.Fatalf("got %q", got)
	}
}

func TestDefault_PaletteMatchesIDs(t *testing.T) {
	c := Default()
	if len(c.Palette) != int(blockCount) {
		t.Fatalf("palette len=%d want %d", len(c.Palette), blockCount)
	}
	if c.Index["BEDROCK"] != Bedrock || c.Name(Sand) != "SAND" {
		t.Fatalf("index mismatch")
	}
	if c.PaletteDigest == "" {
		t.Fatalf("missing digest")
	}
	if sel := c.Selectable(); sel[0] != Water {
		t.Fatalf("first selectable=%v want WATER", sel[0])
	}
	if got := c.Next(Gold); got != Water {
		t.Fatalf("next after last=%v want WATER", got)
	}
	if got := c.Next(Stone); got != Grass {
		t.Fatalf("next after STONE=%v want GRASS", got)
	}
}

func TestLoad_FileAndFallback(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if c.PaletteDigest != Default().PaletteDigest {
		t.Fatalf("missing file should fall back to default")
	}

	raw := `[{"id":"AIR"},{"id":"WATER","selectable":true},{"id":"STONE","selectable":true},{"id":"MARBLE"}]`
	if err := os.WriteFile(filepath.Join(dir, "blocks.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Palette) != 4 || c.Index["MARBLE"] != 3 {
		t.Fatalf("unexpected palette %v", c.Palette)
	}
	if sel := c.Selectable(); len(sel) != 2 {
		t.Fatalf("selectable=%v", sel)
	}

	for _, bad := range []string{
		`[{"id":"STONE"},{"id":"WATER"}]`,
		`[{"id":"AIR"},{"id":"WATER"},{"id":"WATER"}]`,
		`not json`,
	} {
		if err := os.WriteFile(filepath.Join(dir, "blocks.json"), []byte(bad), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(dir); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}
