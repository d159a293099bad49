package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"isocraft.ai/internal/persistence/indexdb"
	"isocraft.ai/internal/sim/play"
)

// openIndex opens the SQLite slot index unless it is disabled by flag or by
// ISO_INDEX_BACKEND=none.
func openIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ISO_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "slots.sqlite"))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported ISO_INDEX_BACKEND: %s", backend)
	}
}

// multiJournal fans an edit record out to every non-nil journal.
type multiJournal []play.Journal

func (m multiJournal) WriteEdit(r play.EditRecord) error {
	var first error
	for _, j := range m {
		if j == nil {
			continue
		}
		if err := j.WriteEdit(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
