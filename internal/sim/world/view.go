package world

import (
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/trigrid"
)

// ScanTri marches along the screen-space ray of cell (row, idx), starting at
// depth, and returns the first voxel whose block id is greater than skip.
// Use skip = WATER for strictly solid blocks and skip = AIR for any non-empty
// block. ok is false when the ray leaves the world first.
func (w *World) ScanTri(row, idx, depth int, skip catalogs.BlockID) (x, y, z int, ok bool) {
	for ; depth <= trigrid.DepthEmpty; depth++ {
		x, y, z = w.rows.Unproject(row, idx, depth)
		if !isomath.InBounds(x, y, z) {
			return x, y, z, false
		}
		if w.blocks.Get(x, y, z) > skip {
			return x, y, z, true
		}
	}
	return x, y, z, false
}

// occluderDepth resolves what a cell's stored depth really hides. When a
// nearer water surface sits in the cell, the face that decides occlusion is
// the first solid behind it, so the ray is searched. missing is returned when
// the search finds nothing.
func (w *World) occluderDepth(row, idx, stored, missing int) int {
	if x, y, z, ok := w.ScanTri(row, idx, stored, catalogs.Water); ok {
		return isomath.ViewDepth(x, y, z)
	}
	return missing
}

// SetBlock writes b to the store and inserts its six faces into the view
// buffer. A face wins a cell when the cell's occupant is not nearer; ties go
// to the new block. This relies on callers inserting back to front when they
// build from scratch.
func (w *World) SetBlock(x, y, z int, b catalogs.BlockID) {
	w.blocks.Set(x, y, z, b)

	var faceShadow [3]trigrid.Flags
	faceShadow[trigrid.FaceTop] = w.ComputeTopShadow(x, y, z)
	faceShadow[trigrid.FaceLeft] = w.ComputeLeftShadow(x, y, z)
	faceShadow[trigrid.FaceRight] = trigrid.ShadowNone

	blockDepth := isomath.ViewDepth(x, y, z)

	i := 0
	for _, s := range trigrid.Slabs {
		row, idx := w.rows.RowIdx(x, y, z, s)
		for t := 0; t < 2; t++ {
			cell := w.rows.Cell(row, idx+t)
			cur := w.view.At(cell)

			depth := blockDepth
			triDepth := int(cur.Depth)
			water := trigrid.WaterNone

			// Under a water surface the stored depth belongs to the water; find
			// the solid face it really covers and keep the water on top.
			if triDepth < depth && cur.Flags.HasWater() {
				triDepth = w.occluderDepth(row, idx+t, triDepth, triDepth)
				water = cur.Flags.Water()
				depth = int(cur.Depth)
			}

			if triDepth >= blockDepth {
				face := trigrid.FaceOrder[i]
				w.view.Set(cell, trigrid.ViewCell{
					Texture: b,
					Flags:   face | faceShadow[face] | water,
					Depth:   uint8(depth),
				})
				w.markDirty(cell)
			}
			i++
		}
	}
}

// RemoveBlock clears (x,y,z), repairs the view cells it owned by searching
// each ray for the next face behind it, then repairs the light buffer and
// refreshes the shadow flags of anything newly lit.
func (w *World) RemoveBlock(x, y, z int) {
	orig := w.blocks.Get(x, y, z)
	w.blocks.Set(x, y, z, catalogs.Air)

	depth := isomath.ViewDepth(x, y, z)
	var before [6]int

	i := 0
	for _, s := range trigrid.Slabs {
		row, idx := w.rows.RowIdx(x, y, z, s)
		for t := 0; t < 2; t++ {
			cell := w.rows.Cell(row, idx+t)
			cur := w.view.At(cell)
			triDepth := int(cur.Depth)
			before[i] = triDepth

			// A nearer water surface may still be drawing this block through it.
			// Removing water itself skips this: its own depth is what is stored.
			if triDepth < depth && cur.Flags.HasWater() && !orig.IsWater() {
				triDepth = w.occluderDepth(row, idx+t, triDepth, trigrid.DepthEmpty)
			}

			if triDepth >= depth {
				w.view.Clear(cell)
				w.markDirty(cell)
			}
			i++
		}
	}

	i = 0
	for _, s := range trigrid.Slabs {
		row, idx := w.rows.RowIdx(x, y, z, s)
		for t := 0; t < 2; t++ {
			w.resurface(row, idx+t, before[i])
			i++
		}
	}

	w.removeShadow(x, y, z)
}

// resurface re-inserts whatever is now first along the ray of (row, idx) from
// depth. Water found in front of a solid is layered over it.
func (w *World) resurface(row, idx, depth int) {
	ux, uy, uz, ok := w.ScanTri(row, idx, depth, catalogs.Air)
	if !ok {
		return
	}
	if !w.blocks.Get(ux, uy, uz).IsWater() {
		w.SetBlock(ux, uy, uz, w.blocks.Get(ux, uy, uz))
		return
	}
	if sx, sy, sz, ok := w.ScanTri(row, idx, depth, catalogs.Water); ok {
		w.SetBlock(sx, sy, sz, w.blocks.Get(sx, sy, sz))
	}
	w.SetWater(ux, uy, uz)
}
