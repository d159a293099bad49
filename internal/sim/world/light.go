package world

import (
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/trigrid"
)

// lightRowIdx is RowIdx for the light-space image of (x,y,z).
func (w *World) lightRowIdx(x, y, z int, s trigrid.Slab) (row, idx int) {
	sx, sy, sz := isomath.ToLightSpace(x, y, z)
	return w.rows.RowIdx(sx, sy, sz, s)
}

// SetBlockShadow records (x,y,z) as an occluder in the light buffer. Each
// cell keeps the minimum depth, so insertion order does not matter.
func (w *World) SetBlockShadow(x, y, z int) {
	depth := isomath.LightDepth(x, y, z)
	for _, s := range trigrid.Slabs {
		row, idx := w.lightRowIdx(x, y, z, s)
		cell := w.rows.Cell(row, idx)
		w.light.Lower(cell, depth)
		w.light.Lower(cell+1, depth)
	}
}

func (w *World) shadowedAt(row, idx, depth int) bool {
	return w.light.Depth(w.rows.Cell(row, idx)) < depth
}

// ComputeTopShadow reports how much of the top face of (x,y,z) has something
// nearer the light in front of it.
func (w *World) ComputeTopShadow(x, y, z int) trigrid.Flags {
	shadow := trigrid.ShadowNone
	depth := isomath.LightDepth(x, y, z)

	row, idx := w.lightRowIdx(x, y, z, trigrid.SlabTop)
	if w.shadowedAt(row, idx, depth) {
		shadow |= trigrid.ShadowTop
	}
	if w.shadowedAt(row, idx+1, depth) {
		shadow |= trigrid.ShadowBottom
	}
	return shadow
}

// ComputeLeftShadow is ComputeTopShadow for the left face. It reads the right
// triangles of the middle and bottom slabs in light space.
func (w *World) ComputeLeftShadow(x, y, z int) trigrid.Flags {
	shadow := trigrid.ShadowNone
	depth := isomath.LightDepth(x, y, z)

	row, idx := w.lightRowIdx(x, y, z, trigrid.SlabMid)
	if w.shadowedAt(row, idx+1, depth) {
		shadow |= trigrid.ShadowTop
	}
	row, idx = w.lightRowIdx(x, y, z, trigrid.SlabBottom)
	if w.shadowedAt(row, idx+1, depth) {
		shadow |= trigrid.ShadowBottom
	}
	return shadow
}

// ScanShadow marches along a light-space ray from depth and returns, in world
// coordinates, the first strictly solid voxel. ok is false when the ray leaves
// the world first.
func (w *World) ScanShadow(row, idx, depth int) (x, y, z int, ok bool) {
	for ; depth <= trigrid.DepthEmpty; depth++ {
		sx, sy, sz := w.rows.Unproject(row, idx, depth)
		if !isomath.InBounds(sx, sy, sz) {
			return 0, 0, 0, false
		}
		x, y, z = isomath.FromLightSpace(sx, sy, sz)
		if w.blocks.Get(x, y, z).IsSolid() {
			return x, y, z, true
		}
	}
	return 0, 0, 0, false
}

// Occluders returns the voxels currently nearest the light on each of the six
// light cells (x,y,z) would cover. Cells with nothing recorded are skipped.
func (w *World) Occluders(x, y, z int) [][3]int {
	out := make([][3]int, 0, 6)
	for t := 0; t < 2; t++ {
		for _, s := range trigrid.Slabs {
			row, idx := w.lightRowIdx(x, y, z, s)
			depth := w.light.Depth(w.rows.Cell(row, idx+t))
			if depth == trigrid.DepthEmpty {
				continue
			}
			sx, sy, sz := w.rows.Unproject(row, idx+t, depth)
			if !isomath.InBounds(sx, sy, sz) {
				continue
			}
			ox, oy, oz := isomath.FromLightSpace(sx, sy, sz)
			if !w.blocks.Get(ox, oy, oz).IsSolid() {
				continue
			}
			out = append(out, [3]int{ox, oy, oz})
		}
	}
	return out
}

// PlaceBlock inserts a solid block into the store and both buffers, then
// refreshes the shadow flags of every voxel the block now shades.
func (w *World) PlaceBlock(x, y, z int, b catalogs.BlockID) {
	shaded := w.Occluders(x, y, z)

	w.SetBlockShadow(x, y, z)
	w.SetBlock(x, y, z, b)

	for _, p := range shaded {
		w.RefreshShadows(p[0], p[1], p[2])
	}
}

// RefreshShadows recomputes the shadow bits of the faces of (x,y,z) that are
// currently visible. Geometry is left alone.
func (w *World) RefreshShadows(x, y, z int) {
	top := w.ComputeTopShadow(x, y, z)
	left := w.ComputeLeftShadow(x, y, z)
	depth := isomath.ViewDepth(x, y, z)

	for _, s := range trigrid.Slabs {
		row, idx := w.rows.RowIdx(x, y, z, s)
		for t := 0; t < 2; t++ {
			cell := w.rows.Cell(row, idx+t)
			cur := w.view.At(cell)
			triDepth := int(cur.Depth)

			if triDepth < depth && cur.Flags.HasWater() {
				triDepth = w.occluderDepth(row, idx+t, triDepth, triDepth)
			}
			if triDepth != depth {
				continue
			}

			switch cur.Flags.Face() {
			case trigrid.FaceTop:
				w.view.SetFlags(cell, cur.Flags.WithShadow(top))
				w.markDirty(cell)
			case trigrid.FaceLeft:
				w.view.SetFlags(cell, cur.Flags.WithShadow(left))
				w.markDirty(cell)
			}
		}
	}
}

// removeShadow is the light half of RemoveBlock: forget the cells (x,y,z)
// owned, then let the next occluder along each light ray take them over.
func (w *World) removeShadow(x, y, z int) {
	depth := isomath.LightDepth(x, y, z)

	for _, s := range trigrid.Slabs {
		row, idx := w.lightRowIdx(x, y, z, s)
		for t := 0; t < 2; t++ {
			cell := w.rows.Cell(row, idx+t)
			if w.light.Depth(cell) >= depth {
				w.light.Clear(cell)
			}
		}
	}

	for _, s := range trigrid.Slabs {
		row, idx := w.lightRowIdx(x, y, z, s)
		for t := 0; t < 2; t++ {
			if ux, uy, uz, ok := w.ScanShadow(row, idx+t, depth); ok {
				w.SetBlockShadow(ux, uy, uz)
				w.RefreshShadows(ux, uy, uz)
			}
		}
	}
}
