package play

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"isocraft.ai/internal/observerproto"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world"
	"isocraft.ai/internal/sim/world/logic/isomath"
)

// Journal receives one record per applied edit.
type Journal interface {
	WriteEdit(EditRecord) error
}

type EditRecord struct {
	Time       time.Time `json:"time"`
	Slot       int       `json:"slot"`
	Seq        uint64    `json:"seq"`
	Op         string    `json:"op"`
	Pos        [3]int    `json:"pos"`
	Block      string    `json:"block"`
	DirtyCells int       `json:"dirty_cells"`
}

type Config struct {
	Slot      int
	Seed      int64
	Generator string
	// StartSeq continues the edit sequence of a resumed slot.
	StartSeq uint64

	// QueueSize bounds pending edits; Submit fails with E_BUSY beyond it.
	QueueSize int
	// DeltaBuffer is the channel size handed to each subscriber.
	DeltaBuffer int
}

// Edit is a request to change the world or the cursor.
type Edit struct {
	Op    string
	Pos   [3]int
	Delta [3]int
	// Block is only read when HasBlock is set.
	Block    catalogs.BlockID
	HasBlock bool
}

type EditResult struct {
	Seq    uint64
	Op     string
	Cells  int
	Player Player
}

// EditError carries an observer protocol error code.
type EditError struct {
	Code    string
	Message string
}

func (e *EditError) Error() string { return e.Code + ": " + e.Message }

func editErr(code, format string, args ...any) *EditError {
	return &EditError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Export is a consistent copy of the state a slot save needs.
type Export struct {
	Seq    uint64
	Layers [][]byte
	Digest uint64
	Player Player
	Scroll [2]int
}

type editReq struct {
	edit Edit
	resp chan editResp
}

type editResp struct {
	res EditResult
	err error
}

type joinReq struct {
	ctx  context.Context
	id   string
	out  chan []byte
	done chan struct{}
}

type bootstrapReq struct {
	resp chan observerproto.BootstrapResponse
}

type exportReq struct {
	resp chan Export
}

type subscriber struct {
	out chan []byte
	// stale is set after a dropped message; the next send is a full CELLS.
	stale bool
}

// Session owns a World and is the only goroutine that touches it once Run
// starts. Other goroutines talk to it through the request methods.
type Session struct {
	cfg     Config
	log     *log.Logger
	world   *world.World
	catalog *catalogs.BlockCatalog
	journal Journal

	player Player
	scroll [2]int
	seq    uint64

	edits     chan editReq
	joins     chan joinReq
	leaves    chan string
	bootstrap chan bootstrapReq
	export    chan exportReq
	stopped   chan struct{}

	subs map[string]*subscriber
}

// NewSession takes ownership of w, whose buffers must already be built.
// journal may be nil.
func NewSession(cfg Config, w *world.World, cat *catalogs.BlockCatalog, p Player, journal Journal, logger *log.Logger) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DeltaBuffer <= 0 {
		cfg.DeltaBuffer = 64
	}
	if cat == nil {
		cat = catalogs.Default()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[play] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Session{
		cfg:       cfg,
		log:       logger,
		world:     w,
		catalog:   cat,
		journal:   journal,
		player:    p,
		seq:       cfg.StartSeq,
		edits:     make(chan editReq, cfg.QueueSize),
		joins:     make(chan joinReq, 16),
		leaves:    make(chan string, 16),
		bootstrap: make(chan bootstrapReq, 16),
		export:    make(chan exportReq, 4),
		stopped:   make(chan struct{}),
		subs:      map[string]*subscriber{},
	}
}

func (s *Session) Catalog() *catalogs.BlockCatalog { return s.catalog }
func (s *Session) DeltaBuffer() int                { return s.cfg.DeltaBuffer }

// SetScroll records the rasterizer's scroll offsets for the next save. Only
// call before Run.
func (s *Session) SetScroll(x, y int) { s.scroll = [2]int{x, y} }

func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.closeSubscribers()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.edits:
			res, err := s.apply(req.edit)
			req.resp <- editResp{res: res, err: err}
		case req := <-s.joins:
			s.handleJoin(req)
		case id := <-s.leaves:
			s.handleLeave(id)
		case req := <-s.bootstrap:
			req.resp <- s.buildBootstrap()
		case req := <-s.export:
			req.resp <- s.buildExport()
		}
	}
}

// Submit queues an edit and waits for it to be applied.
func (s *Session) Submit(ctx context.Context, e Edit) (EditResult, error) {
	resp := make(chan editResp, 1)
	select {
	case s.edits <- editReq{edit: e, resp: resp}:
	default:
		return EditResult{}, editErr(observerproto.ErrBusy, "edit queue full")
	}
	select {
	case r := <-resp:
		return r.res, r.err
	case <-ctx.Done():
		return EditResult{}, ctx.Err()
	}
}

// Join registers out as a subscriber and returns once the loop has queued a
// CELLS message for it. DELTA messages follow; out is closed when the
// subscriber leaves or the session stops.
func (s *Session) Join(ctx context.Context, id string, out chan []byte) error {
	if id == "" || out == nil {
		return errors.New("join: missing id or channel")
	}
	done := make(chan struct{})
	select {
	case s.joins <- joinReq{ctx: ctx, id: id, out: out, done: done}:
	default:
		return editErr(observerproto.ErrBusy, "join queue full")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave unregisters id and closes its channel. It waits for room in the
// leave queue until ctx ends; once Run has returned there is nothing to do.
func (s *Session) Leave(ctx context.Context, id string) error {
	select {
	case s.leaves <- id:
		return nil
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		s.log.Printf("leave %s: %v", id, ctx.Err())
		return ctx.Err()
	}
}

func (s *Session) Bootstrap(ctx context.Context) (observerproto.BootstrapResponse, error) {
	resp := make(chan observerproto.BootstrapResponse, 1)
	select {
	case s.bootstrap <- bootstrapReq{resp: resp}:
	case <-ctx.Done():
		return observerproto.BootstrapResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return observerproto.BootstrapResponse{}, ctx.Err()
	}
}

// RequestExport asks the loop for a copy of the store and cursor.
func (s *Session) RequestExport(ctx context.Context) (Export, error) {
	resp := make(chan Export, 1)
	select {
	case s.export <- exportReq{resp: resp}:
	case <-ctx.Done():
		return Export{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return Export{}, ctx.Err()
	}
}

// ExportNow is RequestExport for callers that own the World, i.e. before Run
// starts or after it returns.
func (s *Session) ExportNow() Export { return s.buildExport() }

func (s *Session) buildExport() Export {
	return Export{
		Seq:    s.seq,
		Layers: s.world.Blocks().ExportLayers(),
		Digest: s.world.Blocks().Digest(),
		Player: s.player,
		Scroll: s.scroll,
	}
}

func (s *Session) apply(e Edit) (EditResult, error) {
	op, pos, err := s.applyEdit(e)
	if err != nil {
		return EditResult{}, err
	}
	dirty := s.world.TakeDirty()
	s.seq++

	if s.journal != nil {
		rec := EditRecord{
			Time:       time.Now().UTC(),
			Slot:       s.cfg.Slot,
			Seq:        s.seq,
			Op:         op,
			Pos:        pos,
			Block:      s.catalog.Name(s.world.Block(pos[0], pos[1], pos[2])),
			DirtyCells: len(dirty),
		}
		if err := s.journal.WriteEdit(rec); err != nil {
			s.log.Printf("journal: %v", err)
		}
	}

	s.broadcast(s.buildDelta(op, dirty))
	return EditResult{Seq: s.seq, Op: op, Cells: len(dirty), Player: s.player}, nil
}

func (s *Session) applyEdit(e Edit) (op string, pos [3]int, err error) {
	w := s.world
	switch e.Op {
	case observerproto.OpMove:
		for _, d := range e.Delta {
			if d < -1 || d > 1 {
				return "", pos, editErr(observerproto.ErrBadRequest, "move delta out of range: %v", e.Delta)
			}
		}
		s.player.Move(e.Delta[0], e.Delta[1], e.Delta[2])
		return e.Op, s.player.Pos(), nil

	case observerproto.OpSelect:
		if !e.HasBlock {
			s.player.Block = s.catalog.Next(s.player.Block)
			return e.Op, s.player.Pos(), nil
		}
		if !s.selectable(e.Block) {
			return "", pos, editErr(observerproto.ErrBadRequest, "block %s not selectable", s.catalog.Name(e.Block))
		}
		s.player.Block = e.Block
		return e.Op, s.player.Pos(), nil

	case observerproto.OpInteract:
		if e.HasBlock {
			if !s.selectable(e.Block) {
				return "", pos, editErr(observerproto.ErrBadRequest, "block %s not selectable", s.catalog.Name(e.Block))
			}
			s.player.Block = e.Block
		}
		p := s.player
		return Interact(w, p.X, p.Y, p.Z, p.Block), p.Pos(), nil
	}

	pos = e.Pos
	x, y, z := pos[0], pos[1], pos[2]
	if !isomath.InBounds(x, y, z) {
		return "", pos, editErr(observerproto.ErrOutOfBounds, "position %v outside the world", pos)
	}
	cur := w.Block(x, y, z)

	switch e.Op {
	case observerproto.OpPlace:
		if !e.HasBlock || !e.Block.IsSolid() || !s.selectable(e.Block) {
			return "", pos, editErr(observerproto.ErrBadRequest, "place needs a selectable solid block")
		}
		if cur.IsSolid() {
			return "", pos, editErr(observerproto.ErrConflict, "position %v occupied by %s", pos, s.catalog.Name(cur))
		}
		if cur.IsWater() {
			w.RemoveBlock(x, y, z)
		}
		w.PlaceBlock(x, y, z, e.Block)
	case observerproto.OpWater:
		if !cur.IsAir() {
			return "", pos, editErr(observerproto.ErrConflict, "position %v occupied by %s", pos, s.catalog.Name(cur))
		}
		w.SetWater(x, y, z)
	case observerproto.OpRemove:
		if cur.IsAir() {
			return "", pos, editErr(observerproto.ErrConflict, "nothing to remove at %v", pos)
		}
		w.RemoveBlock(x, y, z)
	default:
		return "", pos, editErr(observerproto.ErrBadRequest, "unknown op %q", e.Op)
	}
	return e.Op, pos, nil
}

func (s *Session) selectable(b catalogs.BlockID) bool {
	if int(b) >= len(s.catalog.Palette) {
		return false
	}
	return s.catalog.Defs[s.catalog.Palette[b]].Selectable
}

func (s *Session) handleJoin(req joinReq) {
	defer close(req.done)
	// Join already returned; nobody reads out.
	if req.ctx != nil && req.ctx.Err() != nil {
		return
	}
	if old := s.subs[req.id]; old != nil {
		close(old.out)
	}
	sub := &subscriber{out: req.out, stale: true}
	s.subs[req.id] = sub
	s.send(sub, nil)
}

func (s *Session) handleLeave(id string) {
	sub := s.subs[id]
	if sub == nil {
		return
	}
	delete(s.subs, id)
	close(sub.out)
}

func (s *Session) closeSubscribers() {
	for id, sub := range s.subs {
		close(sub.out)
		delete(s.subs, id)
	}
}

func (s *Session) broadcast(delta []byte) {
	for _, sub := range s.subs {
		s.send(sub, delta)
	}
}

// send never blocks the loop. A subscriber that cannot take a message is
// marked stale and gets a full CELLS message once it has room again.
func (s *Session) send(sub *subscriber, delta []byte) {
	msg := delta
	if sub.stale {
		msg = s.buildCells()
	}
	if msg == nil {
		return
	}
	select {
	case sub.out <- msg:
		sub.stale = false
	default:
		sub.stale = true
	}
}
