package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
)

func (s *Store) InBounds(x, y, z int) bool {
	return isomath.InBounds(x, y, z)
}

// Get returns AIR outside the world box.
func (s *Store) Get(x, y, z int) catalogs.BlockID {
	if !isomath.InBounds(x, y, z) {
		return catalogs.Air
	}
	return s.blocks[y][x][z]
}

func (s *Store) Set(x, y, z int, b catalogs.BlockID) {
	if !isomath.InBounds(x, y, z) {
		return
	}
	if s.blocks[y][x][z] == b {
		return
	}
	s.blocks[y][x][z] = b
	s.dirty[y] = true
}

// Fill sets every voxel of the clipped, inclusive box to b.
func (s *Store) Fill(bounds Bounds, b catalogs.BlockID) {
	box, ok := bounds.Clip()
	if !ok {
		return
	}
	for y := box.Min[1]; y <= box.Max[1]; y++ {
		for x := box.Min[0]; x <= box.Max[0]; x++ {
			for z := box.Min[2]; z <= box.Max[2]; z++ {
				s.blocks[y][x][z] = b
			}
		}
		s.dirty[y] = true
	}
}

func (s *Store) Clear() {
	s.Fill(Box(0, 0, 0, isomath.Size-1, isomath.Height-1, isomath.Size-1), catalogs.Air)
}

// Count returns how many voxels hold b.
func (s *Store) Count(b catalogs.BlockID) int {
	n := 0
	for y := range s.blocks {
		for x := range s.blocks[y] {
			for _, v := range s.blocks[y][x] {
				if v == b {
					n++
				}
			}
		}
	}
	return n
}

// Layer copies height layer y in file order: x-major, z fastest.
func (s *Store) Layer(y int) []byte {
	out := make([]byte, LayerSize)
	for x := 0; x < isomath.Size; x++ {
		for z := 0; z < isomath.Size; z++ {
			out[x*isomath.Size+z] = byte(s.blocks[y][x][z])
		}
	}
	return out
}

func (s *Store) SetLayer(y int, raw []byte) error {
	if y < 0 || y >= isomath.Height {
		return fmt.Errorf("layer %d out of range", y)
	}
	if len(raw) != LayerSize {
		return fmt.Errorf("layer %d length mismatch: got %d want %d", y, len(raw), LayerSize)
	}
	for x := 0; x < isomath.Size; x++ {
		for z := 0; z < isomath.Size; z++ {
			s.blocks[y][x][z] = catalogs.BlockID(raw[x*isomath.Size+z])
		}
	}
	s.dirty[y] = true
	return nil
}

// LayerDigest hashes one layer, caching until the layer changes.
func (s *Store) LayerDigest(y int) uint64 {
	if s.dirty[y] {
		s.hash[y] = layerDigest(&s.blocks[y])
		s.dirty[y] = false
	}
	return s.hash[y]
}

// Digest combines every layer digest into one value for the whole store.
func (s *Store) Digest() uint64 {
	d := xxhash.New()
	var tmp [8]byte
	for y := 0; y < isomath.Height; y++ {
		binary.LittleEndian.PutUint64(tmp[:], s.LayerDigest(y))
		_, _ = d.Write(tmp[:])
	}
	return d.Sum64()
}
