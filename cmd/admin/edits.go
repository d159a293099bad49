package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	persistlog "isocraft.ai/internal/persistence/log"
	"isocraft.ai/internal/sim/play"
)

type editFilter struct {
	slot   int
	op     string
	box    bool
	lo, hi [3]int
}

func (f editFilter) match(r play.EditRecord) bool {
	if f.slot >= 0 && r.Slot != f.slot {
		return false
	}
	if f.op != "" && r.Op != f.op {
		return false
	}
	if f.box {
		for i := 0; i < 3; i++ {
			if r.Pos[i] < f.lo[i] || r.Pos[i] > f.hi[i] {
				return false
			}
		}
	}
	return true
}

// editsCmd prints journal records, oldest first, as JSON lines.
func editsCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("edits", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	slot := fs.Int("slot", -1, "only edits of this slot")
	op := fs.String("op", "", "only this op (PLACE|REMOVE|WATER|MOVE|SELECT)")
	aabb := fs.String("aabb", "", "only edits inside x1,y1,z1:x2,y2,z2")
	limit := fs.Int("limit", 0, "print only the last N matches (0 = all)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	f := editFilter{slot: *slot, op: strings.ToUpper(strings.TrimSpace(*op))}
	if strings.TrimSpace(*aabb) != "" {
		lo, hi, err := parseAABB(*aabb)
		if err != nil {
			return fmt.Errorf("%w: bad -aabb: %v", errUsage, err)
		}
		f.box, f.lo, f.hi = true, lo, hi
	}

	var recs []play.EditRecord
	err := persistlog.ReadEdits(persistlog.EditDir(*dataDir), func(r play.EditRecord) error {
		if !f.match(r) {
			return nil
		}
		recs = append(recs, r)
		if *limit > 0 && len(recs) > 2*(*limit) {
			recs = append(recs[:0], recs[len(recs)-*limit:]...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if *limit > 0 && len(recs) > *limit {
		recs = recs[len(recs)-*limit:]
	}

	enc := json.NewEncoder(out)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// statsCmd compares the journal with the index for one slot.
func statsCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	slot := fs.Int("slot", -1, "slot")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *slot < 0 {
		return fmt.Errorf("%w: missing -slot", errUsage)
	}

	journal := map[string]int{}
	total := 0
	err := persistlog.ReadEdits(persistlog.EditDir(*dataDir), func(r play.EditRecord) error {
		if r.Slot == *slot {
			journal[r.Op]++
			total++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	fmt.Fprintf(out, "journal: %d edits\n", total)
	for _, op := range sortedKeys(journal) {
		fmt.Fprintf(out, "  %-8s %d\n", op, journal[op])
	}

	idx, err := openIndexIfExists(*dataDir)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if idx == nil {
		fmt.Fprintln(out, "index: none")
		return nil
	}
	defer idx.Close()
	st, err := idx.EditStats(context.Background(), *slot)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	fmt.Fprintf(out, "index: %d edits, last seq %d\n", st.Count, st.LastSeq)
	for _, op := range sortedKeys(st.ByOp) {
		fmt.Fprintf(out, "  %-8s %d\n", op, st.ByOp[op])
	}
	return nil
}

func parseAABB(s string) (lo, hi [3]int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return lo, hi, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return lo, hi, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return lo, hi, err
	}
	for i := 0; i < 3; i++ {
		lo[i], hi[i] = a[i], b[i]
		if lo[i] > hi[i] {
			lo[i], hi[i] = hi[i], lo[i]
		}
	}
	return lo, hi, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
