package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"isocraft.ai/internal/persistence/indexdb"
	persistlog "isocraft.ai/internal/persistence/log"
	"isocraft.ai/internal/persistence/snapshot"
	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/play"
	"isocraft.ai/internal/sim/world/terrain/gen"
	"isocraft.ai/internal/sim/world/terrain/store"
)

func seedSlot(t *testing.T, data string, slot int) {
	t.Helper()
	st := store.New()
	if _, err := gen.Generate(gen.KindFlat, st, gen.Params{}); err != nil {
		t.Fatal(err)
	}
	st.Set(4, 1, 4, catalogs.Gold)
	err := snapshot.NewDir(data).Save(slot, snapshot.Slot{
		Header: snapshot.Header{X: 24, Y: 1, Z: 24, Block: uint8(catalogs.Stone)},
		Layers: st.ExportLayers(),
		Meta:   snapshot.Meta{Seq: 5, Digest: st.Digest(), Generator: "flat", PaletteDigest: catalogs.Default().PaletteDigest},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
}

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := run(args, &buf); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	return buf.String()
}

func TestListInspectErase(t *testing.T) {
	data := t.TempDir()
	seedSlot(t, data, 0)
	seedSlot(t, data, 3)

	idx, err := indexdb.OpenSQLite(indexPath(data))
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.RecordSave(context.Background(), indexdb.SlotRow{Slot: 3, Path: "x", Generator: "flat", Digest: "d", Block: "STONE"}); err != nil {
		t.Fatal(err)
	}
	idx.Close()

	lines := strings.Split(strings.TrimSpace(runCmd(t, "list", "-data", data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("list output: %q", lines)
	}
	var l slotListing
	if err := json.Unmarshal([]byte(lines[1]), &l); err != nil {
		t.Fatal(err)
	}
	if l.Slot != 3 || !l.Indexed || l.Seq != 5 || l.Player != [3]int{24, 1, 24} {
		t.Fatalf("listing=%+v", l)
	}

	var rep slotReport
	if err := json.Unmarshal([]byte(runCmd(t, "inspect", "-data", data, "-config", t.TempDir(), "-slot", "3")), &rep); err != nil {
		t.Fatal(err)
	}
	if !rep.DigestOK || !rep.PaletteOK || rep.Blocks["GOLD"] != 1 || rep.Blocks["GRASS"] != 48*48 || rep.TopLayer != 1 || rep.SelectedBlock != "STONE" {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Digest != strings.ToLower(rep.Digest) || len(rep.Digest) != 16 {
		t.Fatalf("digest=%s", rep.Digest)
	}

	out := runCmd(t, "erase", "-data", data, "-slot", "3")
	if !strings.Contains(out, "erased slot 3") || !strings.HasPrefix(out, "archived slot 3 to ") {
		t.Fatalf("erase: %q", out)
	}
	archived := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(out, "\n", 2)[0], "archived slot 3 to "))
	if out := runCmd(t, "erase", "-data", data, "-slot", "3"); !strings.Contains(out, "was empty") || strings.Contains(out, "archived") {
		t.Fatalf("second erase: %q", out)
	}
	lines = strings.Split(strings.TrimSpace(runCmd(t, "-data", data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("list after erase: %q", lines)
	}

	if err := run([]string{"restore", "-data", data, "-from", archived, "-slot", "0"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("restore over a saved slot should need -force")
	}
	if out := runCmd(t, "restore", "-data", data, "-from", archived, "-slot", "5"); !strings.Contains(out, "restored slot 5 at seq 5") {
		t.Fatalf("restore: %q", out)
	}
	if !snapshot.NewDir(data).Exists(5) {
		t.Fatalf("slot 5 missing after restore")
	}

	idx, err = indexdb.OpenSQLite(indexPath(data))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, ok, _ := idx.Slot(context.Background(), 3); ok {
		t.Fatalf("index row survived erase")
	}
}

func TestEditsFilters(t *testing.T) {
	data := t.TempDir()
	l := persistlog.NewEditLogger(data)
	now := time.Now().UTC()
	recs := []play.EditRecord{
		{Time: now, Slot: 1, Seq: 1, Op: "PLACE", Pos: [3]int{2, 1, 2}},
		{Time: now, Slot: 1, Seq: 2, Op: "REMOVE", Pos: [3]int{2, 1, 2}},
		{Time: now, Slot: 1, Seq: 3, Op: "PLACE", Pos: [3]int{30, 4, 30}},
		{Time: now, Slot: 2, Seq: 1, Op: "PLACE", Pos: [3]int{2, 1, 2}},
		{Time: now, Slot: 1, Seq: 4, Op: "PLACE", Pos: [3]int{3, 1, 3}},
	}
	for _, r := range recs {
		if err := l.WriteEdit(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	seqs := func(out string) []uint64 {
		var got []uint64
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if line == "" {
				continue
			}
			var r play.EditRecord
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				t.Fatal(err)
			}
			got = append(got, r.Seq)
		}
		return got
	}

	if got := seqs(runCmd(t, "edits", "-data", data, "-slot", "1", "-op", "place", "-aabb", "0,0,0:10,5,10")); len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Fatalf("filtered=%v", got)
	}
	if got := seqs(runCmd(t, "edits", "-data", data, "-slot", "1", "-limit", "1")); len(got) != 1 || got[0] != 4 {
		t.Fatalf("limited=%v", got)
	}

	out := runCmd(t, "stats", "-data", data, "-slot", "1")
	if !strings.Contains(out, "journal: 4 edits") || !strings.Contains(out, "index: none") {
		t.Fatalf("stats=%q", out)
	}
}

func TestRun_Usage(t *testing.T) {
	var buf bytes.Buffer
	for _, args := range [][]string{{"bogus"}, {"inspect"}, {"erase"}, {"restore", "-slot", "1"}, {"edits", "-aabb", "1,2:3"}} {
		if err := run(args, &buf); !errors.Is(err, errUsage) {
			t.Fatalf("%v: err=%v want usage", args, err)
		}
	}
}

func TestParseAABB_Orders(t *testing.T) {
	lo, hi, err := parseAABB("5,1,9:2,3,4")
	if err != nil {
		t.Fatal(err)
	}
	if lo != [3]int{2, 1, 4} || hi != [3]int{5, 3, 9} {
		t.Fatalf("lo=%v hi=%v", lo, hi)
	}
}
