package trigrid

import "isocraft.ai/internal/sim/world/logic/isomath"

// Graphical information about the world lives on a 2D hexagonal grid of
// triangles. Each voxel face projects onto exactly one triangle cell, so a
// cell can answer which face is nearest the camera (or the light) there.
const (
	RowCount = isomath.Size + isomath.Size + isomath.Height + isomath.Height - 1
	TriCount = ((isomath.Size * isomath.Size) + (2 * isomath.Size * isomath.Height)) * 2
)

// Slab selects one horizontal third of a cube's silhouette. Each slab holds a
// left/right pair of triangles.
type Slab int

const (
	SlabBottom Slab = iota
	SlabMid
	SlabTop
)

var Slabs = [3]Slab{SlabBottom, SlabMid, SlabTop}

type Row struct {
	// Index into the cell array of the row's first triangle.
	Start int
	// Width in triangles.
	Width int
	// Correction for how far this row's width deviates from an infinite grid.
	Offset int
	// Pixel offset of the leftmost triangle from center. Only the rasterizer uses it.
	PxOffset int
}

type RowTable struct {
	rows [RowCount]Row
}

func NewRowTable() *RowTable {
	t := &RowTable{}
	t.Init()
	return t
}

// Init fills the table. The grid widens by two triangles per row over the
// bottom diamond, stays flat through the middle band, and narrows over the top.
func (t *RowTable) Init() {
	start := 0
	width := 0
	fill := func(row int) {
		t.rows[row] = Row{
			Start:    start,
			Width:    width,
			Offset:   (width - (2*row + 2)) / 2,
			PxOffset: (width * 8) - 16,
		}
		start += width
	}

	for row := 0; row < isomath.Size; row++ {
		width += 2
		fill(row)
	}
	for row := isomath.Size; row < isomath.Size+isomath.Height+isomath.Height-1; row++ {
		fill(row)
	}
	for row := isomath.Size + isomath.Height + isomath.Height - 1; row < RowCount; row++ {
		fill(row)
		width -= 2
	}
}

func (t *RowTable) Row(row int) Row { return t.rows[row] }

func (t *RowTable) Rows() []Row {
	out := make([]Row, RowCount)
	copy(out, t.rows[:])
	return out
}

// RowIdx maps a voxel and slab to its left triangle's (row, idx). On an
// infinite grid, incrementing x moves (row+1, idx+1), y moves (row+2, idx+1)
// and z moves (row+1, idx).
func (t *RowTable) RowIdx(x, y, z int, s Slab) (row, idx int) {
	row = x + y + y + z + int(s)
	idx = x + x + y + y + t.rows[row].Offset + int(s)
	return row, idx
}

func (t *RowTable) Cell(row, idx int) int {
	return t.rows[row].Start + idx
}

// Project returns the cell of the left triangle of slab s; the right one is
// the next cell.
func (t *RowTable) Project(x, y, z int, s Slab) int {
	row, idx := t.RowIdx(x, y, z, s)
	return t.Cell(row, idx)
}

// Unproject inverts RowIdx for a known depth. The z term needs a parity
// correction because both triangles of a pair share the same real-valued
// inverse before truncation. Results may fall outside the world; callers
// check isomath.InBounds.
func (t *RowTable) Unproject(row, idx, depth int) (x, y, z int) {
	a := row
	b := idx - t.rows[row].Offset
	c := depth - (isomath.Height - 1)
	zOffset := 4
	if b%2 == 0 {
		zOffset = 2
	}
	x = (-2*a + 3*b + 2*c) / 6
	y = (2*a - 2*c) / 6
	z = (4*a - 3*b + 2*c + zOffset) / 6
	return x, y, z
}
