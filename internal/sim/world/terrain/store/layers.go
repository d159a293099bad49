package store

import (
	"fmt"

	"isocraft.ai/internal/sim/world/logic/isomath"
)

// ExportLayers copies every height layer, bottom first.
func (s *Store) ExportLayers() [][]byte {
	out := make([][]byte, isomath.Height)
	for y := range out {
		out[y] = s.Layer(y)
	}
	return out
}

// ImportLayers rebuilds a store from exported layers.
func ImportLayers(layers [][]byte) (*Store, error) {
	if len(layers) != isomath.Height {
		return nil, fmt.Errorf("layer count mismatch: got %d want %d", len(layers), isomath.Height)
	}
	s := New()
	for y, raw := range layers {
		if err := s.SetLayer(y, raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Clone returns an independent copy of s.
func (s *Store) Clone() *Store {
	c := *s
	return &c
}
