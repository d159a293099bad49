package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"isocraft.ai/internal/persistence/snapshot"
)

type SlotArchiveMeta struct {
	Slot       int      `json:"slot"`
	Seq        uint64   `json:"seq"`
	Seed       int64    `json:"seed"`
	Generator  string   `json:"generator"`
	Digest     string   `json:"digest"`
	ArchivedAt string   `json:"archived_at"`
	Files      []string `json:"files"`
}

// Root is where archives of a data directory live.
func Root(dataDir string) string { return filepath.Join(dataDir, "archives") }

// ArchiveSlot copies every file of a saved slot into
// `root/slot_<n>_<stamp>/slots/<n>/`, so the copy is itself a slot directory
// that snapshot.NewDir can open. ok is false when the slot was never saved.
func ArchiveSlot(dir *snapshot.Dir, root string, slot int, now time.Time) (path string, ok bool, err error) {
	s, ok, err := dir.Load(slot)
	if err != nil || !ok {
		return "", ok, err
	}

	path = filepath.Join(root, fmt.Sprintf("slot_%d_%s", slot, now.UTC().Format("20060102-150405.000")))
	if err := writeArchive(dir, path, slot, s.Meta, now); err != nil {
		// A partial archive cannot be restored; leave nothing behind.
		_ = os.RemoveAll(path)
		return "", false, err
	}
	return path, true, nil
}

func writeArchive(dir *snapshot.Dir, path string, slot int, sm snapshot.Meta, now time.Time) error {
	dst := snapshot.NewDir(path)
	if err := os.MkdirAll(dst.Path(slot), 0o755); err != nil {
		return err
	}

	ents, err := os.ReadDir(dir.Path(slot))
	if err != nil {
		return err
	}
	var files []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(dir.Path(slot), e.Name()), filepath.Join(dst.Path(slot), e.Name())); err != nil {
			return err
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	meta := SlotArchiveMeta{
		Slot:       slot,
		Seq:        sm.Seq,
		Seed:       sm.Seed,
		Generator:  sm.Generator,
		Digest:     fmt.Sprintf("%016x", sm.Digest),
		ArchivedAt: now.UTC().Format(time.RFC3339Nano),
		Files:      files,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("archive meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "meta.json"), b, 0o644); err != nil {
		return fmt.Errorf("archive meta: %w", err)
	}
	return nil
}

// ReadMeta reads the meta.json of an archive.
func ReadMeta(path string) (SlotArchiveMeta, error) {
	var m SlotArchiveMeta
	b, err := os.ReadFile(filepath.Join(path, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("archive meta: %w", err)
	}
	return m, nil
}

// Restore saves the archived slot at path into dir as slot. The target slot
// may differ from the archived one; its files are rewritten under the new
// slot's names.
func Restore(path string, dir *snapshot.Dir, slot int) (snapshot.Slot, error) {
	m, err := ReadMeta(path)
	if err != nil {
		return snapshot.Slot{}, err
	}
	s, ok, err := snapshot.NewDir(path).Load(m.Slot)
	if err != nil {
		return snapshot.Slot{}, err
	}
	if !ok {
		return snapshot.Slot{}, fmt.Errorf("archive %s holds no slot %d", filepath.Base(path), m.Slot)
	}
	s.Meta.SavedAt = time.Time{}
	if err := dir.Save(slot, s); err != nil {
		return snapshot.Slot{}, err
	}
	return s, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
