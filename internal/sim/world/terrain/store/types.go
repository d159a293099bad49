package store

import (
	"github.com/cespare/xxhash/v2"

	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
)

// LayerSize is the byte length of one height layer.
const LayerSize = isomath.Size * isomath.Size

// Store is the dense voxel array, indexed [y][x][z]. It is the ground truth
// the depth buffers are derived from.
type Store struct {
	blocks [isomath.Height][isomath.Size][isomath.Size]catalogs.BlockID

	dirty [isomath.Height]bool
	hash  [isomath.Height]uint64
}

func New() *Store {
	s := &Store{}
	for y := range s.dirty {
		s.dirty[y] = true
	}
	return s
}

// Bounds is an inclusive box of voxel coordinates.
type Bounds struct {
	Min [3]int
	Max [3]int
}

func Box(x0, y0, z0, x1, y1, z1 int) Bounds {
	return Bounds{Min: [3]int{x0, y0, z0}, Max: [3]int{x1, y1, z1}}
}

// Clip returns the part of b inside the world box; ok is false when nothing is left.
func (b Bounds) Clip() (Bounds, bool) {
	hi := [3]int{isomath.Size - 1, isomath.Height - 1, isomath.Size - 1}
	var out Bounds
	for i := 0; i < 3; i++ {
		lo, up := b.Min[i], b.Max[i]
		if lo > up {
			lo, up = up, lo
		}
		if up < 0 || lo > hi[i] {
			return Bounds{}, false
		}
		out.Min[i] = isomath.Clamp(lo, 0, hi[i])
		out.Max[i] = isomath.Clamp(up, 0, hi[i])
	}
	return out, true
}

func layerDigest(layer *[isomath.Size][isomath.Size]catalogs.BlockID) uint64 {
	d := xxhash.New()
	var row [isomath.Size]byte
	for x := range layer {
		for z, b := range layer[x] {
			row[z] = byte(b)
		}
		_, _ = d.Write(row[:])
	}
	return d.Sum64()
}
