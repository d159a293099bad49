package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"isocraft.ai/internal/persistence/indexdb"
	"isocraft.ai/internal/persistence/snapshot"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/play"
	"isocraft.ai/internal/sim/tuning"
	"isocraft.ai/internal/sim/world"
	"isocraft.ai/internal/sim/world/terrain/gen"
	"isocraft.ai/internal/sim/world/terrain/store"
)

// bootState is what a session starts from: a resumed slot or a fresh world.
type bootState struct {
	world     *world.World
	player    play.Player
	scroll    [2]int
	seq       uint64
	seed      int64
	generator string
	resumed   bool
}

// openWorld resumes tune.Slot when it has been saved and generates a fresh
// world otherwise. The returned world is built.
func openWorld(dir *snapshot.Dir, tune tuning.Tuning, cat *catalogs.BlockCatalog, logger *log.Logger) (bootState, error) {
	slot, ok, err := dir.Load(tune.Slot)
	if err != nil {
		return bootState{}, err
	}
	if ok {
		return resumeSlot(tune, slot, cat, logger)
	}

	kind, err := gen.ParseKind(tune.Generator)
	if err != nil {
		return bootState{}, err
	}
	st := store.New()
	spawn, err := gen.Generate(kind, st, gen.Params{
		Seed:        tune.Seed,
		WaterLevel:  tune.Terrain.WaterLevel,
		TreeCount:   tune.Terrain.TreeCount,
		OrePermille: tune.Terrain.OrePermille,
	})
	if err != nil {
		return bootState{}, err
	}
	w := world.NewFromStore(st)
	w.Build()
	w.TakeDirty()
	logger.Printf("generated slot=%d gen=%s seed=%d digest=%016x", tune.Slot, kind, tune.Seed, st.Digest())
	return bootState{
		world:     w,
		player:    play.NewPlayer(spawn.X, spawn.Y, spawn.Z, firstSelectable(cat)),
		seed:      tune.Seed,
		generator: string(kind),
	}, nil
}

func resumeSlot(tune tuning.Tuning, slot snapshot.Slot, cat *catalogs.BlockCatalog, logger *log.Logger) (bootState, error) {
	st, err := store.ImportLayers(slot.Layers)
	if err != nil {
		return bootState{}, fmt.Errorf("slot %d: %w", tune.Slot, err)
	}
	m := slot.Meta
	if m.PaletteDigest != "" && m.PaletteDigest != cat.PaletteDigest {
		logger.Printf("slot %d was saved with a different block palette (%s); block ids are kept as-is", tune.Slot, shortDigest(m.PaletteDigest))
	}
	if m.Digest != 0 && m.Digest != st.Digest() {
		return bootState{}, fmt.Errorf("slot %d: digest mismatch: meta=%016x layers=%016x", tune.Slot, m.Digest, st.Digest())
	}

	h := slot.Header
	block := catalogs.BlockID(h.Block)
	if int(block) >= len(cat.Palette) || !cat.Defs[cat.Palette[block]].Selectable {
		block = firstSelectable(cat)
	}

	w := world.NewFromStore(st)
	w.Build()
	w.TakeDirty()

	b := bootState{
		world:     w,
		player:    play.NewPlayer(h.X, h.Y, h.Z, block),
		scroll:    [2]int{h.ScrollX, h.ScrollY},
		seq:       m.Seq,
		seed:      tune.Seed,
		generator: tune.Generator,
		resumed:   true,
	}
	if m.Generator != "" {
		b.seed, b.generator = m.Seed, m.Generator
	}
	logger.Printf("resumed slot=%d seq=%d digest=%016x", tune.Slot, b.seq, st.Digest())
	return b, nil
}

func firstSelectable(cat *catalogs.BlockCatalog) catalogs.BlockID {
	if id, ok := cat.Index["STONE"]; ok && cat.Defs["STONE"].Selectable {
		return id
	}
	if sel := cat.Selectable(); len(sel) > 0 {
		return sel[0]
	}
	return catalogs.Stone
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// slotSaver writes exports of the running session to one slot and records
// them in the index.
type slotSaver struct {
	mu sync.Mutex

	dir       *snapshot.Dir
	idx       *indexdb.SQLiteIndex
	cat       *catalogs.BlockCatalog
	slot      int
	seed      int64
	generator string
	log       *log.Logger
}

func (s *slotSaver) save(ctx context.Context, exp play.Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := exp.Player
	err := s.dir.Save(s.slot, snapshot.Slot{
		Header: snapshot.Header{
			X: p.X, Y: p.Y, Z: p.Z,
			Block:   uint8(p.Block),
			ScrollX: exp.Scroll[0],
			ScrollY: exp.Scroll[1],
		},
		Layers: exp.Layers,
		Meta: snapshot.Meta{
			Seed:          s.seed,
			Generator:     s.generator,
			Seq:           exp.Seq,
			Digest:        exp.Digest,
			PaletteDigest: s.cat.PaletteDigest,
			Palette:       s.cat.Palette,
		},
	})
	if err != nil {
		return err
	}
	if s.idx != nil {
		row := indexdb.SlotRow{
			Slot:      s.slot,
			Path:      s.dir.Path(s.slot),
			Seed:      s.seed,
			Generator: s.generator,
			Seq:       exp.Seq,
			Digest:    fmt.Sprintf("%016x", exp.Digest),
			PlayerX:   p.X,
			PlayerY:   p.Y,
			PlayerZ:   p.Z,
			Block:     s.cat.Name(p.Block),
		}
		if err := s.idx.RecordSave(ctx, row); err != nil {
			// The slot files are already durable; the index can be rebuilt.
			s.log.Printf("index slot %d: %v", s.slot, err)
		}
	}
	s.log.Printf("saved slot=%d seq=%d digest=%016x", s.slot, exp.Seq, exp.Digest)
	return nil
}

// handler adapts the saver to the observer's POST /v1/save.
func (s *slotSaver) handler(sess *play.Session) func(ctx context.Context) (int, uint64, error) {
	return func(ctx context.Context) (int, uint64, error) {
		exp, err := sess.RequestExport(ctx)
		if err != nil {
			return s.slot, 0, err
		}
		if err := s.save(ctx, exp); err != nil {
			return s.slot, exp.Seq, err
		}
		return s.slot, exp.Seq, nil
	}
}
