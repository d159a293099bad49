package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"isocraft.ai/internal/sim/play"
)

// SQLiteIndex is a queryable secondary index over the slot store and the
// edit journal. The slot files and JSONL logs stay the source of truth.
type SQLiteIndex struct {
	db  *sql.DB
	log *log.Logger

	ch   chan play.EditRecord
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

// SlotRow describes one saved slot.
type SlotRow struct {
	Slot      int
	Path      string
	Seed      int64
	Generator string
	Seq       uint64
	Digest    string
	PlayerX   int
	PlayerY   int
	PlayerZ   int
	Block     string
	SavedAt   time.Time
}

// EditStats summarizes the indexed edits of one slot.
type EditStats struct {
	Count   int
	LastSeq uint64
	ByOp    map[string]int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return start(db, log.New(os.Stdout, "[indexdb] ", log.LstdFlags|log.Lmicroseconds)), nil
}

func start(db *sql.DB, logger *log.Logger) *SQLiteIndex {
	s := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan play.EditRecord, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS slots (
			slot INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			generator TEXT NOT NULL,
			seq INTEGER NOT NULL,
			digest TEXT NOT NULL,
			player_x INTEGER NOT NULL,
			player_y INTEGER NOT NULL,
			player_z INTEGER NOT NULL,
			block TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			slot INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			op TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block TEXT NOT NULL,
			dirty_cells INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (slot, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_pos ON edits(slot, x, z, y);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEdit queues r for the writer goroutine. It never blocks; records are
// dropped when the writer falls behind.
func (s *SQLiteIndex) WriteEdit(r play.EditRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many edit records were discarded, either because the
// queue was full or because the writer could not store them.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// RecordSave upserts the row of a slot after its files were written.
func (s *SQLiteIndex) RecordSave(ctx context.Context, r SlotRow) error {
	if s == nil {
		return nil
	}
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO slots(slot,path,seed,generator,seq,digest,player_x,player_y,player_z,block,saved_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.Slot, r.Path, r.Seed, r.Generator, int64(r.Seq), r.Digest,
		r.PlayerX, r.PlayerY, r.PlayerZ, r.Block,
		r.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Slots lists the indexed slots in ascending order.
func (s *SQLiteIndex) Slots(ctx context.Context) ([]SlotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SlotRow
	for rows.Next() {
		r, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Slot(ctx context.Context, slot int) (SlotRow, bool, error) {
	r, err := scanSlot(s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE slot=?`, slot))
	if errors.Is(err, sql.ErrNoRows) {
		return SlotRow{}, false, nil
	}
	if err != nil {
		return SlotRow{}, false, err
	}
	return r, true, nil
}

// DeleteSlot forgets a slot and its edits.
func (s *SQLiteIndex) DeleteSlot(ctx context.Context, slot int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE slot=?`, slot); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edits WHERE slot=?`, slot); err != nil {
		return err
	}
	return tx.Commit()
}

// EditStats counts the committed edits of a slot. Records still queued in
// the writer are not included.
func (s *SQLiteIndex) EditStats(ctx context.Context, slot int) (EditStats, error) {
	st := EditStats{ByOp: map[string]int{}}
	rows, err := s.db.QueryContext(ctx, `SELECT op, COUNT(*), MAX(seq) FROM edits WHERE slot=? GROUP BY op`, slot)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			op     string
			n      int
			maxSeq int64
		)
		if err := rows.Scan(&op, &n, &maxSeq); err != nil {
			return st, err
		}
		st.ByOp[op] = n
		st.Count += n
		if uint64(maxSeq) > st.LastSeq {
			st.LastSeq = uint64(maxSeq)
		}
	}
	return st, rows.Err()
}

const slotColumns = `slot,path,seed,generator,seq,digest,player_x,player_y,player_z,block,saved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(sc rowScanner) (SlotRow, error) {
	var (
		r       SlotRow
		seq     int64
		savedAt string
	)
	if err := sc.Scan(&r.Slot, &r.Path, &r.Seed, &r.Generator, &seq, &r.Digest,
		&r.PlayerX, &r.PlayerY, &r.PlayerZ, &r.Block, &savedAt); err != nil {
		return SlotRow{}, err
	}
	r.Seq = uint64(seq)
	t, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return SlotRow{}, fmt.Errorf("slot %d saved_at: %w", r.Slot, err)
	}
	r.SavedAt = t
	return r, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, err := s.db.Prepare(`INSERT OR REPLACE INTO edits(slot,seq,op,x,y,z,block,dirty_cells,at) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Printf("prepare edit insert: %v; edits will not be indexed", err)
		for range s.ch {
			s.dropped.Add(1)
		}
		return
	}
	defer insertEdit.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Printf("begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	// end finishes the open tx. Records in a tx that did not commit are lost.
	end := func(commit bool) {
		if tx == nil {
			return
		}
		if commit {
			if err := tx.Commit(); err != nil {
				s.log.Printf("commit %d edits: %v", opCount, err)
				s.dropped.Add(uint64(opCount))
			}
		} else {
			_ = tx.Rollback()
			s.dropped.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.dropped.Add(1)
			continue
		}
		if _, err := tx.Stmt(insertEdit).Exec(
			r.Slot,
			int64(r.Seq),
			r.Op,
			r.Pos[0], r.Pos[1], r.Pos[2],
			r.Block,
			r.DirtyCells,
			r.Time.UTC().Format(time.RFC3339Nano),
		); err != nil {
			s.log.Printf("insert edit slot=%d seq=%d: %v", r.Slot, r.Seq, err)
			s.dropped.Add(1)
			end(false)
			continue
		}
		opCount++
		// The pool has one connection; an idle open tx would block RecordSave.
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			end(true)
		}
	}

	end(true)
}
