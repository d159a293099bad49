package play

import (
	"isocraft.ai/internal/observerproto"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world"
)

// Interact applies the single-button edit at (x,y,z) with block sel and
// returns what it did:
//   - a solid block goes into air, replaces water, and clears another solid;
//   - water goes into air and clears anything else.
func Interact(w *world.World, x, y, z int, sel catalogs.BlockID) string {
	cur := w.Block(x, y, z)
	if sel.IsWater() {
		if cur.IsAir() {
			w.SetWater(x, y, z)
			return observerproto.OpWater
		}
		w.RemoveBlock(x, y, z)
		return observerproto.OpRemove
	}

	switch {
	case cur.IsAir():
		w.PlaceBlock(x, y, z, sel)
		return observerproto.OpPlace
	case cur.IsWater():
		w.RemoveBlock(x, y, z)
		w.PlaceBlock(x, y, z, sel)
		return observerproto.OpPlace
	default:
		w.RemoveBlock(x, y, z)
		return observerproto.OpRemove
	}
}
