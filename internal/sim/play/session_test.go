package play

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"isocraft.ai/internal/observerproto"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/encoding"
	"isocraft.ai/internal/sim/world"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/terrain/store"
	"isocraft.ai/internal/sim/world/trigrid"
)

func TestPlayer_MoveClamps(t *testing.T) {
	p := NewPlayer(-3, 99, 60, catalogs.Stone)
	if p.Pos() != [3]int{0, isomath.Height - 1, isomath.Size - 1} {
		t.Fatalf("clamped pos=%v", p.Pos())
	}
	p.Move(1, -1, -1)
	if p.Pos() != [3]int{1, isomath.Height - 2, isomath.Size - 2} {
		t.Fatalf("moved pos=%v", p.Pos())
	}
	p.Move(-5, -50, 0)
	if p.X != 0 || p.Y != 0 {
		t.Fatalf("pos=%v", p.Pos())
	}
}

func TestPlayer_Hidden(t *testing.T) {
	w := world.New()
	p := NewPlayer(10, 2, 10, catalogs.Stone)
	if p.Hidden(w) {
		t.Fatalf("empty world should not hide the cursor")
	}
	w.PlaceBlock(8, 4, 8, catalogs.Stone)
	if !p.Hidden(w) {
		t.Fatalf("block on the camera ray should hide the cursor")
	}
}

func TestInteract_Rules(t *testing.T) {
	w := world.New()

	if op := Interact(w, 3, 1, 3, catalogs.Stone); op != observerproto.OpPlace || w.Block(3, 1, 3) != catalogs.Stone {
		t.Fatalf("solid on air: op=%s block=%v", op, w.Block(3, 1, 3))
	}
	if op := Interact(w, 3, 1, 3, catalogs.Dirt); op != observerproto.OpRemove || !w.Block(3, 1, 3).IsAir() {
		t.Fatalf("solid on solid: op=%s block=%v", op, w.Block(3, 1, 3))
	}
	if op := Interact(w, 3, 1, 3, catalogs.Water); op != observerproto.OpWater || !w.Block(3, 1, 3).IsWater() {
		t.Fatalf("water on air: op=%s block=%v", op, w.Block(3, 1, 3))
	}
	if op := Interact(w, 3, 1, 3, catalogs.Bricks); op != observerproto.OpPlace || w.Block(3, 1, 3) != catalogs.Bricks {
		t.Fatalf("solid on water: op=%s block=%v", op, w.Block(3, 1, 3))
	}
	if op := Interact(w, 3, 1, 3, catalogs.Water); op != observerproto.OpRemove || !w.Block(3, 1, 3).IsAir() {
		t.Fatalf("water on solid: op=%s block=%v", op, w.Block(3, 1, 3))
	}

	cell := w.Rows().Project(3, 1, 3, trigrid.SlabTop)
	if !w.Cell(cell).Empty() {
		t.Fatalf("buffers not cleaned up: %+v", w.Cell(cell))
	}
}

type memJournal struct {
	mu   sync.Mutex
	recs []EditRecord
}

func (j *memJournal) WriteEdit(r EditRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, r)
	return nil
}

func startSession(t *testing.T, cfg Config, j Journal) (*Session, context.CancelFunc, chan error) {
	t.Helper()
	w := world.New()
	w.FillRegion(store.Box(0, 0, 0, isomath.Size-1, 0, isomath.Size-1), catalogs.Grass)
	w.Build()
	w.TakeDirty()

	s := NewSession(cfg, w, catalogs.Default(), NewPlayer(5, 1, 5, catalogs.Stone), j, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return s, cancel, done
}

func recvType(t *testing.T, ch <-chan []byte, want string) []byte {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed waiting for %s", want)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &head); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if head.Type != want {
			t.Fatalf("type=%s want %s", head.Type, want)
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", want)
	}
	return nil
}

func TestSession_EditsStreamDeltas(t *testing.T) {
	j := &memJournal{}
	s, cancel, done := startSession(t, Config{Slot: 2, Seed: 9, Generator: "flat"}, j)
	defer cancel()

	out := make(chan []byte, 8)
	if err := s.Join(context.Background(), "O1", out); err != nil {
		t.Fatalf("join: %v", err)
	}
	var cells observerproto.CellsMsg
	if err := json.Unmarshal(recvType(t, out, observerproto.TypeCells), &cells); err != nil {
		t.Fatal(err)
	}
	tex, err := encoding.DecodeRLE(cells.Tex, trigrid.TriCount)
	if err != nil {
		t.Fatalf("decode tex: %v", err)
	}
	top := s.world.Rows().Project(0, 0, 0, trigrid.SlabTop)
	if catalogs.BlockID(tex[top]) != catalogs.Grass {
		t.Fatalf("cells tex=%d want GRASS", tex[top])
	}

	ctx := context.Background()
	res, err := s.Submit(ctx, Edit{Op: observerproto.OpPlace, Pos: [3]int{5, 1, 5}, Block: catalogs.Bricks, HasBlock: true})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.Seq != 1 || res.Cells == 0 {
		t.Fatalf("result=%+v", res)
	}

	var delta observerproto.DeltaMsg
	if err := json.Unmarshal(recvType(t, out, observerproto.TypeDelta), &delta); err != nil {
		t.Fatal(err)
	}
	if delta.Seq != 1 || delta.Op != observerproto.OpPlace || len(delta.Cells) != res.Cells {
		t.Fatalf("delta=%+v", delta)
	}
	want := s.world.Rows().Project(5, 1, 5, trigrid.SlabTop)
	found := false
	for _, c := range delta.Cells {
		if c.I == want {
			found = true
			if catalogs.BlockID(c.Tex) != catalogs.Bricks || int(c.Depth) != isomath.ViewDepth(5, 1, 5) {
				t.Fatalf("cell=%+v", c)
			}
		}
	}
	if !found {
		t.Fatalf("delta missing top cell %d", want)
	}

	if _, err := s.Submit(ctx, Edit{Op: observerproto.OpMove, Delta: [3]int{1, 0, -1}}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := json.Unmarshal(recvType(t, out, observerproto.TypeDelta), &delta); err != nil {
		t.Fatal(err)
	}
	if delta.Player.Pos != [3]int{6, 1, 4} || len(delta.Cells) != 0 {
		t.Fatalf("move delta=%+v", delta)
	}

	boot, err := s.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if boot.Seq != 2 || len(boot.Layers) != isomath.Height || len(boot.Rows) != trigrid.RowCount {
		t.Fatalf("bootstrap seq=%d layers=%d rows=%d", boot.Seq, len(boot.Layers), len(boot.Rows))
	}
	if boot.WorldParams.Slot != 2 || boot.WorldParams.Generator != "flat" {
		t.Fatalf("world params=%+v", boot.WorldParams)
	}
	layer1, err := encoding.DecodeRLE(boot.Layers[1], isomath.Size*isomath.Size)
	if err != nil {
		t.Fatal(err)
	}
	if catalogs.BlockID(layer1[5*isomath.Size+5]) != catalogs.Bricks {
		t.Fatalf("bootstrap layer missing placed block")
	}

	exp, err := s.RequestExport(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.Seq != 2 || exp.Player.Pos() != [3]int{6, 1, 4} || len(exp.Layers) != isomath.Height {
		t.Fatalf("export=%+v", exp.Player)
	}

	j.mu.Lock()
	if len(j.recs) != 2 || j.recs[0].Op != observerproto.OpPlace || j.recs[0].Block != "BRICKS" {
		t.Fatalf("journal=%+v", j.recs)
	}
	j.mu.Unlock()

	if err := s.Leave(ctx, "O1"); err != nil {
		t.Fatal(err)
	}
	for range out {
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}

func TestSession_RejectsBadEdits(t *testing.T) {
	s, cancel, _ := startSession(t, Config{}, nil)
	defer cancel()
	ctx := context.Background()

	cases := []struct {
		edit Edit
		code string
	}{
		{Edit{Op: observerproto.OpPlace, Pos: [3]int{48, 0, 0}, Block: catalogs.Stone, HasBlock: true}, observerproto.ErrOutOfBounds},
		{Edit{Op: observerproto.OpPlace, Pos: [3]int{1, 0, 1}, Block: catalogs.Stone, HasBlock: true}, observerproto.ErrConflict},
		{Edit{Op: observerproto.OpPlace, Pos: [3]int{1, 1, 1}}, observerproto.ErrBadRequest},
		{Edit{Op: observerproto.OpRemove, Pos: [3]int{1, 1, 1}}, observerproto.ErrConflict},
		{Edit{Op: observerproto.OpWater, Pos: [3]int{1, 0, 1}}, observerproto.ErrConflict},
		{Edit{Op: observerproto.OpMove, Delta: [3]int{2, 0, 0}}, observerproto.ErrBadRequest},
		{Edit{Op: observerproto.OpSelect, Block: catalogs.Air, HasBlock: true}, observerproto.ErrBadRequest},
		{Edit{Op: "DIG", Pos: [3]int{1, 1, 1}}, observerproto.ErrBadRequest},
	}
	for _, tc := range cases {
		_, err := s.Submit(ctx, tc.edit)
		var ee *EditError
		if !errors.As(err, &ee) || ee.Code != tc.code {
			t.Fatalf("edit %+v: err=%v want %s", tc.edit, err, tc.code)
		}
		if !observerproto.IsKnownCode(ee.Code) {
			t.Fatalf("unknown code %s", ee.Code)
		}
	}

	res, err := s.Submit(ctx, Edit{Op: observerproto.OpSelect})
	if err != nil || res.Player.Block != catalogs.Grass {
		t.Fatalf("select next: %+v %v", res.Player, err)
	}
	res, err = s.Submit(ctx, Edit{Op: observerproto.OpInteract, Block: catalogs.Water, HasBlock: true})
	if err != nil || res.Op != observerproto.OpWater {
		t.Fatalf("interact: %+v %v", res, err)
	}
}

func TestSession_BusyWhenQueueFull(t *testing.T) {
	w := world.New()
	s := NewSession(Config{QueueSize: 1}, w, nil, NewPlayer(0, 0, 0, catalogs.Stone), nil, nil)
	// Run is not started, so the first edit fills the queue.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go func() { _, _ = s.Submit(ctx, Edit{Op: observerproto.OpMove}) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.edits) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_, err := s.Submit(ctx, Edit{Op: observerproto.OpMove})
	var ee *EditError
	if !errors.As(err, &ee) || ee.Code != observerproto.ErrBusy {
		t.Fatalf("err=%v want E_BUSY", err)
	}
}

func TestSession_StaleSubscriberResyncs(t *testing.T) {
	s, cancel, _ := startSession(t, Config{}, nil)
	defer cancel()
	ctx := context.Background()

	out := make(chan []byte, 1)
	if err := s.Join(ctx, "slow", out); err != nil {
		t.Fatal(err)
	}
	// Buffer holds the CELLS; this delta is dropped.
	if _, err := s.Submit(ctx, Edit{Op: observerproto.OpWater, Pos: [3]int{2, 1, 2}}); err != nil {
		t.Fatal(err)
	}
	recvType(t, out, observerproto.TypeCells)

	if _, err := s.Submit(ctx, Edit{Op: observerproto.OpRemove, Pos: [3]int{2, 1, 2}}); err != nil {
		t.Fatal(err)
	}
	var cells observerproto.CellsMsg
	if err := json.Unmarshal(recvType(t, out, observerproto.TypeCells), &cells); err != nil {
		t.Fatal(err)
	}
	if cells.Seq != 2 {
		t.Fatalf("resync seq=%d want 2", cells.Seq)
	}

	if _, err := s.Submit(ctx, Edit{Op: observerproto.OpWater, Pos: [3]int{2, 1, 2}}); err != nil {
		t.Fatal(err)
	}
	recvType(t, out, observerproto.TypeDelta)
}

func TestSession_LeaveWaitsForQueueRoom(t *testing.T) {
	s := NewSession(Config{}, world.New(), nil, NewPlayer(0, 0, 0, catalogs.Stone), nil, nil)
	out := make(chan []byte, 4)
	s.handleJoin(joinReq{ctx: context.Background(), id: "a", out: out, done: make(chan struct{})})
	for i := 0; i < cap(s.leaves); i++ {
		s.leaves <- "ghost"
	}

	left := make(chan error, 1)
	go func() { left <- s.Leave(context.Background(), "a") }()
	select {
	case err := <-left:
		t.Fatalf("leave returned %v with a full queue", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-left:
		if err != nil {
			t.Fatalf("leave: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("leave never queued")
	}

	recvType(t, out, observerproto.TypeCells)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("unexpected message after leave")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber still registered")
	}

	cancel()
	<-done
	// Nothing is listening any more; Leave must not wait.
	for i := 0; i < cap(s.leaves); i++ {
		select {
		case s.leaves <- "ghost":
		default:
		}
	}
	if err := s.Leave(context.Background(), "b"); err != nil {
		t.Fatalf("leave after stop: %v", err)
	}
}

func TestSession_AbandonedJoinIsNotRegistered(t *testing.T) {
	s := NewSession(Config{}, world.New(), nil, NewPlayer(0, 0, 0, catalogs.Stone), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan []byte, 4)
	done := make(chan struct{})
	s.handleJoin(joinReq{ctx: ctx, id: "late", out: out, done: done})
	select {
	case <-done:
	default:
		t.Fatalf("join request not completed")
	}
	if len(s.subs) != 0 || len(out) != 0 {
		t.Fatalf("subs=%d queued=%d", len(s.subs), len(out))
	}
}
