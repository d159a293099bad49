package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"isocraft.ai/internal/sim/world/logic/isomath"
)

// A slot is saved as one directory holding
//
//	WORLD<L>.zst      header record (HeaderSize bytes)
//	WORLD<L>NN.zst    layer y=NN, Size*Size block ids, x-major with z fastest
//	meta.snap.zst     JSON header line + gob Meta
//
// where <L> is 'A'+slot. Each .zst file is a single zstd stream whose content
// is exactly the raw record.

const (
	HeaderSize = 10
	LayerSize  = isomath.Size * isomath.Size
	MaxSlots   = 26

	metaVersion = 1
	maxScroll   = 1<<23 - 1
	minScroll   = -1 << 23
)

var ErrBadSlot = errors.New("slot out of range")

// Header is the player record of a slot.
type Header struct {
	X, Y, Z int
	Block   uint8
	ScrollX int
	ScrollY int
}

func (h Header) MarshalBinary() ([]byte, error) {
	if !isomath.InBounds(h.X, h.Y, h.Z) {
		return nil, fmt.Errorf("player %d,%d,%d outside the world", h.X, h.Y, h.Z)
	}
	for _, v := range []int{h.ScrollX, h.ScrollY} {
		if v < minScroll || v > maxScroll {
			return nil, fmt.Errorf("scroll %d does not fit 24 bits", v)
		}
	}
	b := make([]byte, HeaderSize)
	b[0], b[1], b[2], b[3] = byte(h.X), byte(h.Y), byte(h.Z), h.Block
	put24(b[4:7], h.ScrollX)
	put24(b[7:10], h.ScrollY)
	return b, nil
}

func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) != HeaderSize {
		return fmt.Errorf("header: got %d bytes want %d", len(b), HeaderSize)
	}
	*h = Header{
		X: int(b[0]), Y: int(b[1]), Z: int(b[2]),
		Block:   b[3],
		ScrollX: get24(b[4:7]),
		ScrollY: get24(b[7:10]),
	}
	if !isomath.InBounds(h.X, h.Y, h.Z) {
		return fmt.Errorf("header: player %d,%d,%d outside the world", h.X, h.Y, h.Z)
	}
	return nil
}

func put24(b []byte, v int) {
	u := uint32(v) & 0xFFFFFF
	b[0], b[1], b[2] = byte(u>>16), byte(u>>8), byte(u)
}

func get24(b []byte) int {
	u := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	// Sign-extend from 24 bits.
	return int(u<<8) >> 8
}

// Meta records how a slot came to be. It is informational; a slot without
// it still loads.
type Meta struct {
	Version       int       `json:"version"`
	Slot          int       `json:"slot"`
	Seed          int64     `json:"seed"`
	Generator     string    `json:"generator"`
	Seq           uint64    `json:"seq"`
	Digest        uint64    `json:"digest"`
	PaletteDigest string    `json:"palette_digest"`
	Palette       []string  `json:"palette,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

type metaHeader struct {
	Version int    `json:"version"`
	Slot    int    `json:"slot"`
	Seq     uint64 `json:"seq"`
}

type Slot struct {
	Header Header
	Layers [][]byte
	Meta   Meta
}

// Dir is the slot store rooted at <data>/slots.
type Dir struct {
	root string
}

func NewDir(dataDir string) *Dir {
	return &Dir{root: filepath.Join(dataDir, "slots")}
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) Path(slot int) string {
	return filepath.Join(d.root, strconv.Itoa(slot))
}

func slotLetter(slot int) string { return string(rune('A' + slot)) }

func (d *Dir) headerPath(slot int) string {
	return filepath.Join(d.Path(slot), "WORLD"+slotLetter(slot)+".zst")
}

func (d *Dir) layerPath(slot, y int) string {
	return filepath.Join(d.Path(slot), fmt.Sprintf("WORLD%s%02d.zst", slotLetter(slot), y))
}

func (d *Dir) metaPath(slot int) string {
	return filepath.Join(d.Path(slot), "meta.snap.zst")
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= MaxSlots {
		return fmt.Errorf("%w: %d", ErrBadSlot, slot)
	}
	return nil
}

// Save writes every file of the slot. Layers are written first and the
// header last, so an interrupted save never looks complete.
func (d *Dir) Save(slot int, s Slot) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	if len(s.Layers) != isomath.Height {
		return fmt.Errorf("slot %d: got %d layers want %d", slot, len(s.Layers), isomath.Height)
	}
	hdr, err := s.Header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("slot %d: %w", slot, err)
	}
	if err := os.MkdirAll(d.Path(slot), 0o755); err != nil {
		return err
	}
	_ = os.Remove(d.headerPath(slot))

	for y, l := range s.Layers {
		if len(l) != LayerSize {
			return fmt.Errorf("slot %d layer %d: got %d bytes want %d", slot, y, len(l), LayerSize)
		}
		if err := writeFrame(d.layerPath(slot, y), l); err != nil {
			return fmt.Errorf("slot %d layer %d: %w", slot, y, err)
		}
	}

	meta := s.Meta
	meta.Version = metaVersion
	meta.Slot = slot
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now().UTC()
	}
	if err := writeMeta(d.metaPath(slot), meta); err != nil {
		return fmt.Errorf("slot %d meta: %w", slot, err)
	}

	if err := writeFrame(d.headerPath(slot), hdr); err != nil {
		return fmt.Errorf("slot %d header: %w", slot, err)
	}
	return nil
}

// Load reads a slot. ok is false when the slot has never been saved (or was
// erased); any other problem is an error.
func (d *Dir) Load(slot int) (s Slot, ok bool, err error) {
	if err := checkSlot(slot); err != nil {
		return s, false, err
	}
	raw, err := readFrame(d.headerPath(slot), HeaderSize)
	if errors.Is(err, fs.ErrNotExist) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("slot %d header: %w", slot, err)
	}
	if err := s.Header.UnmarshalBinary(raw); err != nil {
		return s, false, fmt.Errorf("slot %d: %w", slot, err)
	}

	s.Layers = make([][]byte, isomath.Height)
	for y := range s.Layers {
		l, err := readFrame(d.layerPath(slot, y), LayerSize)
		if err != nil {
			return s, false, fmt.Errorf("slot %d layer %d: %w", slot, y, err)
		}
		s.Layers[y] = l
	}

	meta, err := readMeta(d.metaPath(slot))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return s, false, fmt.Errorf("slot %d meta: %w", slot, err)
	default:
		s.Meta = meta
	}
	return s, true, nil
}

func (d *Dir) Exists(slot int) bool {
	if checkSlot(slot) != nil {
		return false
	}
	_, err := os.Stat(d.headerPath(slot))
	return err == nil
}

// Erase deletes every file of the slot. Erasing an empty slot is a no-op.
func (d *Dir) Erase(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	paths := []string{d.headerPath(slot), d.metaPath(slot)}
	for y := 0; y < isomath.Height; y++ {
		paths = append(paths, d.layerPath(slot, y))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	// Fails, and is left alone, when the directory still holds foreign files.
	_ = os.Remove(d.Path(slot))
	return nil
}

// List returns the saved slots in ascending order.
func (d *Dir) List() []int {
	var out []int
	for slot := 0; slot < MaxSlots; slot++ {
		if d.Exists(slot) {
			out = append(out, slot)
		}
	}
	return out
}

func writeFrame(path string, raw []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readFrame(path string, want int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	// Read one byte past want so oversized payloads are caught.
	raw, err := io.ReadAll(io.LimitReader(dec, int64(want)+1))
	if err != nil {
		return nil, err
	}
	if len(raw) != want {
		return nil, fmt.Errorf("got %d bytes want %d", len(raw), want)
	}
	return raw, nil
}

func writeMeta(path string, meta Meta) error {
	var buf bytes.Buffer
	hb, _ := json.Marshal(metaHeader{Version: meta.Version, Slot: meta.Slot, Seq: meta.Seq})
	buf.Write(hb)
	buf.WriteByte('\n')
	if err := gob.NewEncoder(&buf).Encode(&meta); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return writeFrame(path, buf.Bytes())
}

func readMeta(path string) (Meta, error) {
	var meta Meta
	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return meta, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	// The header line duplicates fields gob carries; it is for tooling.
	if _, err := br.ReadBytes('\n'); err != nil {
		return meta, fmt.Errorf("header line: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&meta); err != nil {
		return meta, fmt.Errorf("gob decode: %w", err)
	}
	return meta, nil
}
