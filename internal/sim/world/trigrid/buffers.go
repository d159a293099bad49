package trigrid

import (
	"math"

	"isocraft.ai/internal/sim/catalogs"
)

// DepthEmpty marks a cell with nothing recorded.
const DepthEmpty = math.MaxUint8

type ViewCell struct {
	Texture catalogs.BlockID
	Flags   Flags
	Depth   uint8
}

func (c ViewCell) Empty() bool { return c.Depth == DepthEmpty }

var emptyView = ViewCell{Texture: catalogs.Air, Depth: DepthEmpty}

// ViewBuffer is the camera-side depth buffer: for each triangle cell, the face
// currently visible there.
type ViewBuffer struct {
	cells [TriCount]ViewCell
}

func (b *ViewBuffer) Reset() {
	for i := range b.cells {
		b.cells[i] = emptyView
	}
}

func (b *ViewBuffer) At(i int) ViewCell { return b.cells[i] }

func (b *ViewBuffer) Depth(i int) int   { return int(b.cells[i].Depth) }
func (b *ViewBuffer) Flags(i int) Flags { return b.cells[i].Flags }

func (b *ViewBuffer) Set(i int, c ViewCell) { b.cells[i] = c }

func (b *ViewBuffer) Clear(i int) { b.cells[i] = emptyView }

func (b *ViewBuffer) SetFlags(i int, f Flags) { b.cells[i].Flags = f }

// Snapshot copies every cell, in cell order.
func (b *ViewBuffer) Snapshot() []ViewCell {
	out := make([]ViewCell, TriCount)
	copy(out, b.cells[:])
	return out
}

// LightBuffer records, per triangle cell in light space, the depth of the
// solid voxel nearest the light.
type LightBuffer struct {
	depth [TriCount]uint8
}

func (b *LightBuffer) Reset() {
	for i := range b.depth {
		b.depth[i] = DepthEmpty
	}
}

func (b *LightBuffer) Depth(i int) int { return int(b.depth[i]) }

// Lower keeps the minimum of the stored and given depth.
func (b *LightBuffer) Lower(i, depth int) {
	if int(b.depth[i]) > depth {
		b.depth[i] = uint8(depth)
	}
}

func (b *LightBuffer) Clear(i int) { b.depth[i] = DepthEmpty }

func (b *LightBuffer) Snapshot() []uint8 {
	out := make([]uint8, TriCount)
	copy(out, b.depth[:])
	return out
}
