package world

import (
	"sort"

	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/terrain/store"
	"isocraft.ai/internal/sim/world/trigrid"
)

// World owns the voxel store and the two triangle-grid depth buffers derived
// from it. Every mutator runs to completion and leaves the buffers consistent
// with the store; a World has a single owner and is not safe for concurrent use.
type World struct {
	blocks *store.Store

	rows  *trigrid.RowTable
	view  trigrid.ViewBuffer
	light trigrid.LightBuffer

	dirty    [trigrid.TriCount]bool
	dirtyIdx []int
}

func New() *World {
	return NewFromStore(store.New())
}

// NewFromStore wraps an existing store. The buffers start empty; call Build
// to derive them from the store's contents.
func NewFromStore(s *store.Store) *World {
	w := &World{
		blocks: s,
		rows:   &trigrid.RowTable{},
	}
	w.InitGrids()
	return w
}

// InitGrids rebuilds the row table and clears both buffers to the empty sentinel.
func (w *World) InitGrids() {
	w.rows.Init()
	w.view.Reset()
	w.light.Reset()
	for _, i := range w.dirtyIdx {
		w.dirty[i] = false
	}
	w.dirtyIdx = w.dirtyIdx[:0]
}

func (w *World) Blocks() *store.Store        { return w.blocks }
func (w *World) Rows() *trigrid.RowTable     { return w.rows }
func (w *World) View() *trigrid.ViewBuffer   { return &w.view }
func (w *World) Light() *trigrid.LightBuffer { return &w.light }

func (w *World) Block(x, y, z int) catalogs.BlockID { return w.blocks.Get(x, y, z) }

// Cell returns the view record of the cell with flat index i.
func (w *World) Cell(i int) trigrid.ViewCell { return w.view.At(i) }

// FillRegion writes b into the inclusive box without touching the buffers.
// It is a generation primitive; follow it with Build.
func (w *World) FillRegion(bounds store.Bounds, b catalogs.BlockID) {
	w.blocks.Fill(bounds, b)
}

// Clear empties the store and the buffers.
func (w *World) Clear() {
	w.blocks.Clear()
	w.InitGrids()
}

// Build derives both buffers from the store. Shadows go first so that every
// face's shadow level is final when it is inserted; blocks are then inserted
// back to front so ties in SetBlock resolve toward nearer blocks.
func (w *World) Build() {
	w.InitGrids()
	for y := 0; y < isomath.Height; y++ {
		for z := 0; z < isomath.Size; z++ {
			for x := 0; x < isomath.Size; x++ {
				if w.blocks.Get(x, y, z).IsSolid() {
					w.SetBlockShadow(x, y, z)
				}
			}
		}
	}
	for y := 0; y < isomath.Height; y++ {
		for z := isomath.Size - 1; z >= 0; z-- {
			for x := isomath.Size - 1; x >= 0; x-- {
				switch b := w.blocks.Get(x, y, z); {
				case b.IsWater():
					w.SetWater(x, y, z)
				case b.IsSolid():
					w.SetBlock(x, y, z, b)
				}
			}
		}
	}
}

// SweepRay walks from (x,y,z) in steps of (dx,dy,dz) and reports whether a
// non-air block is hit before leaving the world.
func (w *World) SweepRay(x, y, z, dx, dy, dz int) bool {
	for isomath.InBounds(x, y, z) {
		if !w.blocks.Get(x, y, z).IsAir() {
			return true
		}
		x += dx
		y += dy
		z += dz
	}
	return false
}

func (w *World) markDirty(cell int) {
	if w.dirty[cell] {
		return
	}
	w.dirty[cell] = true
	w.dirtyIdx = append(w.dirtyIdx, cell)
}

// TakeDirty returns the view cells written since the last call, in cell order.
func (w *World) TakeDirty() []int {
	out := make([]int, len(w.dirtyIdx))
	copy(out, w.dirtyIdx)
	for _, i := range w.dirtyIdx {
		w.dirty[i] = false
	}
	w.dirtyIdx = w.dirtyIdx[:0]
	sort.Ints(out)
	return out
}
