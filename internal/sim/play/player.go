package play

import (
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world"
	"isocraft.ai/internal/sim/world/logic/isomath"
)

// Player is the edit cursor: a voxel position plus the selected block.
type Player struct {
	X, Y, Z int
	Block   catalogs.BlockID
}

func NewPlayer(x, y, z int, b catalogs.BlockID) Player {
	p := Player{Block: b}
	p.Move(x, y, z)
	return p
}

// Move offsets the cursor and clamps it to the world box.
func (p *Player) Move(dx, dy, dz int) {
	p.X = isomath.Clamp(p.X+dx, 0, isomath.Size-1)
	p.Y = isomath.Clamp(p.Y+dy, 0, isomath.Height-1)
	p.Z = isomath.Clamp(p.Z+dz, 0, isomath.Size-1)
}

func (p Player) Pos() [3]int { return [3]int{p.X, p.Y, p.Z} }

// Hidden reports whether any block lies between the cursor and the camera.
func (p Player) Hidden(w *world.World) bool {
	return w.SweepRay(p.X-1, p.Y+1, p.Z-1, -1, 1, -1)
}
