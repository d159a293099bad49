package play

import (
	"encoding/json"

	"isocraft.ai/internal/observerproto"
	"isocraft.ai/internal/sim/encoding"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/trigrid"
)

func (s *Session) playerState() observerproto.PlayerState {
	return observerproto.PlayerState{
		Pos:    s.player.Pos(),
		Block:  s.catalog.Name(s.player.Block),
		Hidden: s.player.Hidden(s.world),
	}
}

func (s *Session) buildDelta(op string, dirty []int) []byte {
	msg := observerproto.DeltaMsg{
		Type:            observerproto.TypeDelta,
		ProtocolVersion: observerproto.Version,
		Seq:             s.seq,
		Op:              op,
		Cells:           make([]observerproto.CellDelta, 0, len(dirty)),
		Player:          s.playerState(),
	}
	for _, i := range dirty {
		c := s.world.Cell(i)
		msg.Cells = append(msg.Cells, observerproto.CellDelta{
			I:     i,
			Tex:   uint8(c.Texture),
			Flags: uint8(c.Flags),
			Depth: c.Depth,
		})
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("delta marshal: %v", err)
		return nil
	}
	return b
}

func (s *Session) buildCells() []byte {
	cells := s.world.View().Snapshot()
	tex := make([]byte, len(cells))
	flags := make([]byte, len(cells))
	depth := make([]byte, len(cells))
	for i, c := range cells {
		tex[i] = byte(c.Texture)
		flags[i] = byte(c.Flags)
		depth[i] = c.Depth
	}
	msg := observerproto.CellsMsg{
		Type:            observerproto.TypeCells,
		ProtocolVersion: observerproto.Version,
		Seq:             s.seq,
		Encoding:        observerproto.EncodingRLE,
		Tex:             encoding.EncodeRLE(tex),
		Flags:           encoding.EncodeRLE(flags),
		Depth:           encoding.EncodeRLE(depth),
		Player:          s.playerState(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("cells marshal: %v", err)
		return nil
	}
	return b
}

func (s *Session) buildBootstrap() observerproto.BootstrapResponse {
	layers := s.world.Blocks().ExportLayers()
	enc := make([]string, len(layers))
	for y, l := range layers {
		enc[y] = encoding.EncodeRLE(l)
	}
	table := s.world.Rows().Rows()
	rows := make([]observerproto.RowInfo, len(table))
	for i, r := range table {
		rows[i] = observerproto.RowInfo{Start: r.Start, Width: r.Width, Offset: r.Offset, PxOffset: r.PxOffset}
	}
	palette := make([]string, len(s.catalog.Palette))
	copy(palette, s.catalog.Palette)

	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		Seq:             s.seq,
		WorldParams: observerproto.WorldParams{
			Size:      isomath.Size,
			Height:    isomath.Height,
			RowCount:  trigrid.RowCount,
			TriCount:  trigrid.TriCount,
			Slot:      s.cfg.Slot,
			Seed:      s.cfg.Seed,
			Generator: s.cfg.Generator,
		},
		BlockPalette:  palette,
		PaletteDigest: s.catalog.PaletteDigest,
		Encoding:      observerproto.EncodingRLE,
		Layers:        enc,
		Rows:          rows,
		Player:        s.playerState(),
	}
}
