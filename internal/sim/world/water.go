package world

import (
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/trigrid"
)

func (w *World) isWater(x, y, z int) bool {
	return isomath.InBounds(x, y, z) && w.blocks.Get(x, y, z).IsWater()
}

// WaterLevels picks the water mask for the left and right triangle of each
// slab. Only the exposed top surface of a body of water is drawn at half
// height; anything with water above or flush beside it is drawn full.
func (w *World) WaterLevels(x, y, z int) (left, right [3]trigrid.Flags) {
	for i := range left {
		left[i] = trigrid.WaterFull
		right[i] = trigrid.WaterFull
	}
	if w.isWater(x, y+1, z) {
		return left, right
	}

	mid, top := trigrid.SlabMid, trigrid.SlabTop
	if !w.isWater(x, y, z+1) {
		left[mid] = trigrid.WaterHalf
	}
	if !w.isWater(x+1, y, z) {
		right[mid] = trigrid.WaterHalf
	}
	if left[mid] == trigrid.WaterHalf || !w.isWater(x+1, y, z+1) {
		left[top] = trigrid.WaterHalf
	}
	if right[mid] == trigrid.WaterHalf || !w.isWater(x+1, y, z+1) {
		right[top] = trigrid.WaterHalf
	}
	return left, right
}

// SetWater writes WATER to the store and lays a water mask over the cells it
// covers. Water never displaces a nearer face; the texture underneath is kept.
func (w *World) SetWater(x, y, z int) {
	w.blocks.Set(x, y, z, catalogs.Water)

	left, right := w.WaterLevels(x, y, z)
	depth := isomath.ViewDepth(x, y, z)

	for _, s := range trigrid.Slabs {
		cell := w.rows.Project(x, y, z, s)
		w.overlayWater(cell, depth, left[s])
		w.overlayWater(cell+1, depth, right[s])
	}
}

func (w *World) overlayWater(cell, depth int, level trigrid.Flags) {
	cur := w.view.At(cell)
	if int(cur.Depth) < depth {
		return
	}
	cur.Flags = cur.Flags.WithWater(level)
	cur.Depth = uint8(depth)
	w.view.Set(cell, cur)
	w.markDirty(cell)
}
