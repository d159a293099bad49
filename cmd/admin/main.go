package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"isocraft.ai/internal/persistence/archive"
	"isocraft.ai/internal/persistence/indexdb"
	"isocraft.ai/internal/persistence/snapshot"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/terrain/store"
)

// errUsage marks bad invocations; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "admin:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cmd := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "list":
		return listCmd(args, out)
	case "inspect":
		return inspectCmd(args, out)
	case "erase":
		return eraseCmd(args, out)
	case "restore":
		return restoreCmd(args, out)
	case "edits":
		return editsCmd(args, out)
	case "stats":
		return statsCmd(args, out)
	case "state":
		return stateCmd(args, out)
	case "save":
		return saveCmd(args, out)
	default:
		return fmt.Errorf("%w: unknown command %q (list|inspect|erase|restore|edits|stats|state|save)", errUsage, cmd)
	}
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "slots.sqlite")
}

// openIndexIfExists avoids creating an index database as a side effect of
// a read-only command.
func openIndexIfExists(dataDir string) (*indexdb.SQLiteIndex, error) {
	p := indexPath(dataDir)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return indexdb.OpenSQLite(p)
}

type slotListing struct {
	Slot    int    `json:"slot"`
	Path    string `json:"path"`
	Player  [3]int `json:"player"`
	Seq     uint64 `json:"seq"`
	Indexed bool   `json:"indexed"`
	SavedAt string `json:"saved_at,omitempty"`
}

func listCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	dir := snapshot.NewDir(*dataDir)
	idx, err := openIndexIfExists(*dataDir)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	rows := map[int]indexdb.SlotRow{}
	if idx != nil {
		defer idx.Close()
		list, err := idx.Slots(context.Background())
		if err != nil {
			return fmt.Errorf("index slots: %w", err)
		}
		for _, r := range list {
			rows[r.Slot] = r
		}
	}

	enc := json.NewEncoder(out)
	for _, n := range dir.List() {
		s, ok, err := dir.Load(n)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		l := slotListing{
			Slot:   n,
			Path:   dir.Path(n),
			Player: [3]int{s.Header.X, s.Header.Y, s.Header.Z},
			Seq:    s.Meta.Seq,
		}
		if r, ok := rows[n]; ok {
			l.Indexed = true
			l.SavedAt = r.SavedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		if err := enc.Encode(l); err != nil {
			return err
		}
	}
	return nil
}

type slotReport struct {
	Slot          int             `json:"slot"`
	Header        snapshot.Header `json:"header"`
	Meta          snapshot.Meta   `json:"meta"`
	Digest        string          `json:"digest"`
	DigestOK      bool            `json:"digest_ok"`
	PaletteOK     bool            `json:"palette_ok"`
	Blocks        map[string]int  `json:"blocks"`
	TopLayer      int             `json:"top_layer"`
	SelectedBlock string          `json:"selected_block"`
}

func inspectCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	configDir := fs.String("config", "./configs", "config directory (blocks.json)")
	slot := fs.Int("slot", -1, "slot to inspect")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *slot < 0 {
		return fmt.Errorf("%w: missing -slot", errUsage)
	}

	cat, err := catalogs.Load(*configDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	s, ok, err := snapshot.NewDir(*dataDir).Load(*slot)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("slot %d has not been saved", *slot)
	}
	st, err := store.ImportLayers(s.Layers)
	if err != nil {
		return err
	}

	r := slotReport{
		Slot:          *slot,
		Header:        s.Header,
		Meta:          s.Meta,
		Digest:        fmt.Sprintf("%016x", st.Digest()),
		DigestOK:      s.Meta.Digest == 0 || s.Meta.Digest == st.Digest(),
		PaletteOK:     s.Meta.PaletteDigest == "" || s.Meta.PaletteDigest == cat.PaletteDigest,
		Blocks:        map[string]int{},
		TopLayer:      -1,
		SelectedBlock: cat.Name(catalogs.BlockID(s.Header.Block)),
	}
	// Palette lists are noisy in a report; the digest identifies them.
	r.Meta.Palette = nil
	for i := range cat.Palette {
		b := catalogs.BlockID(i)
		if b.IsAir() {
			continue
		}
		if n := st.Count(b); n > 0 {
			r.Blocks[cat.Name(b)] = n
		}
	}
	for y, l := range s.Layers {
		for _, b := range l {
			if b != byte(catalogs.Air) {
				r.TopLayer = y
				break
			}
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func eraseCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("erase", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	slot := fs.Int("slot", -1, "slot to erase")
	keep := fs.Bool("archive", true, "copy the slot to <data>/archives first")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *slot < 0 {
		return fmt.Errorf("%w: missing -slot", errUsage)
	}

	dir := snapshot.NewDir(*dataDir)
	existed := dir.Exists(*slot)
	if existed && *keep {
		path, _, err := archive.ArchiveSlot(dir, archive.Root(*dataDir), *slot, time.Now())
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		fmt.Fprintf(out, "archived slot %d to %s\n", *slot, path)
	}
	if err := dir.Erase(*slot); err != nil {
		return err
	}
	idx, err := openIndexIfExists(*dataDir)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.DeleteSlot(context.Background(), *slot); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}
	if existed {
		fmt.Fprintf(out, "erased slot %d\n", *slot)
	} else {
		fmt.Fprintf(out, "slot %d was empty\n", *slot)
	}
	return nil
}

// restoreCmd saves an archived slot into a slot. The index row is left for
// the server to write on its next save.
func restoreCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	from := fs.String("from", "", "archive directory (see erase)")
	slot := fs.Int("slot", -1, "target slot")
	force := fs.Bool("force", false, "overwrite a saved target slot")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *slot < 0 || *from == "" {
		return fmt.Errorf("%w: need -from and -slot", errUsage)
	}

	dir := snapshot.NewDir(*dataDir)
	if dir.Exists(*slot) && !*force {
		return fmt.Errorf("slot %d is saved; erase it or pass -force", *slot)
	}
	s, err := archive.Restore(*from, dir, *slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "restored slot %d at seq %d from %s\n", *slot, s.Meta.Seq, filepath.Base(*from))
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
