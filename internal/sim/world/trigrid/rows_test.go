package trigrid

import (
	"testing"

	"isocraft.ai/internal/sim/world/logic/isomath"
)

func TestRowTable_CoversEveryCellOnce(t *testing.T) {
	rt := NewRowTable()
	next := 0
	for row := 0; row < RowCount; row++ {
		r := rt.Row(row)
		if r.Start != next {
			t.Fatalf("row %d start=%d want %d", row, r.Start, next)
		}
		if r.Width <= 0 || r.Width%2 != 0 {
			t.Fatalf("row %d width=%d", row, r.Width)
		}
		if r.PxOffset != r.Width*8-16 {
			t.Fatalf("row %d px offset=%d", row, r.PxOffset)
		}
		next += r.Width
	}
	if next != TriCount {
		t.Fatalf("total cells=%d want %d", next, TriCount)
	}
	if w := rt.Row(isomath.Size).Width; w != 2*isomath.Size {
		t.Fatalf("middle width=%d want %d", w, 2*isomath.Size)
	}
	if w := rt.Row(RowCount - 1).Width; w != 2 {
		t.Fatalf("last row width=%d want 2", w)
	}
}

func TestRowTable_InitIsIdempotent(t *testing.T) {
	rt := NewRowTable()
	first := rt.Rows()
	rt.Init()
	second := rt.Rows()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("row %d changed: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestProjectUnproject_Bijection(t *testing.T) {
	rt := NewRowTable()
	for y := 0; y < isomath.Height; y++ {
		for x := 0; x < isomath.Size; x++ {
			for z := 0; z < isomath.Size; z++ {
				depth := isomath.ViewDepth(x, y, z)
				for _, s := range Slabs {
					row, idx := rt.RowIdx(x, y, z, s)
					for side := 0; side < 2; side++ {
						cell := rt.Cell(row, idx+side)
						if cell < 0 || cell >= TriCount {
							t.Fatalf("(%d,%d,%d) s=%d cell %d out of range", x, y, z, s, cell)
						}
						if idx+side >= rt.Row(row).Width {
							t.Fatalf("(%d,%d,%d) s=%d idx %d past row width %d", x, y, z, s, idx+side, rt.Row(row).Width)
						}
						ux, uy, uz := rt.Unproject(row, idx+side, depth)
						if ux != x || uy != y || uz != z {
							t.Fatalf("unproject(%d,%d,%d) = (%d,%d,%d) want (%d,%d,%d) s=%d side=%d",
								row, idx+side, depth, ux, uy, uz, x, y, z, s, side)
						}
					}
				}
			}
		}
	}
}

func TestProject_IncrementRules(t *testing.T) {
	rt := NewRowTable()
	row, idx := rt.RowIdx(10, 4, 7, SlabBottom)
	check := func(name string, x, y, z, dRow, dIdx int) {
		t.Helper()
		r, i := rt.RowIdx(x, y, z, SlabBottom)
		if r != row+dRow {
			t.Fatalf("%s: row=%d want %d", name, r, row+dRow)
		}
		if got, want := i-rt.Row(r).Offset, idx-rt.Row(row).Offset+dIdx; got != want {
			t.Fatalf("%s: idx=%d want %d", name, got, want)
		}
	}
	check("x+1", 11, 4, 7, 1, 1)
	check("y+1", 10, 5, 7, 2, 1)
	check("z+1", 10, 4, 8, 1, 0)
}

func TestProject_LightSpaceMatchesLightDepth(t *testing.T) {
	for _, p := range [][3]int{{0, 0, 0}, {47, 15, 47}, {10, 3, 30}, {5, 9, 0}} {
		sx, sy, sz := isomath.ToLightSpace(p[0], p[1], p[2])
		if got, want := isomath.ViewDepth(sx, sy, sz), isomath.LightDepth(p[0], p[1], p[2]); got != want {
			t.Fatalf("%v: view depth in light space=%d want %d", p, got, want)
		}
		x, y, z := isomath.FromLightSpace(sx, sy, sz)
		if x != p[0] || y != p[1] || z != p[2] {
			t.Fatalf("%v: light space round trip gave (%d,%d,%d)", p, x, y, z)
		}
	}
}

func TestBuffers_ResetToSentinel(t *testing.T) {
	var v ViewBuffer
	var l LightBuffer
	for round := 0; round < 2; round++ {
		v.Reset()
		l.Reset()
		for i := 0; i < TriCount; i++ {
			if c := v.At(i); !c.Empty() || c.Texture != 0 || c.Flags != 0 {
				t.Fatalf("round %d: view cell %d = %+v", round, i, c)
			}
			if d := l.Depth(i); d != DepthEmpty {
				t.Fatalf("round %d: light cell %d = %d", round, i, d)
			}
		}
		v.Set(5, ViewCell{Texture: 3, Flags: FaceTop, Depth: 7})
		l.Lower(5, 9)
		l.Lower(5, 12)
		if l.Depth(5) != 9 {
			t.Fatalf("light min=%d want 9", l.Depth(5))
		}
	}
}

func TestFlags_Bits(t *testing.T) {
	f := FaceTop | ShadowBottom | WaterHalf
	if f.Face() != FaceTop || f.Shadow() != ShadowBottom || f.Water() != WaterHalf {
		t.Fatalf("unexpected split: %s", f)
	}
	f = f.WithShadow(ShadowFull).WithWater(WaterNone)
	if f.Shadow() != ShadowFull || f.HasWater() || f.Face() != FaceTop {
		t.Fatalf("unexpected rewrite: %s", f)
	}
	if f.String() != "Tf-" {
		t.Fatalf("string=%q", f.String())
	}
}
