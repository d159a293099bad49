package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"isocraft.ai/internal/sim/play"
)

const hourLayout = "2006-01-02-15"

// JSONLZstdWriter appends JSON lines to <dir>/<prefix>-<hour>.jsonl.zst,
// opening a new file when the UTC hour changes. Each Write flushes a zstd
// block so a crash loses at most the record being written.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format(hourLayout); hour != w.hour {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// openLocked starts a fresh zstd frame; reopening an hour's file appends a
// second frame, which readers decode as one stream.
func (w *JSONLZstdWriter) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 32*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	var errs []error
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, err)
	}
	w.f, w.enc, w.buf, w.hour = nil, nil, nil, ""
	return errors.Join(errs...)
}

func (w *JSONLZstdWriter) path(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EditLogger is the edit journal under <data>/edits.
type EditLogger struct{ w *JSONLZstdWriter }

func NewEditLogger(dataDir string) *EditLogger {
	return &EditLogger{w: NewJSONLZstdWriter(EditDir(dataDir), "edits")}
}

func EditDir(dataDir string) string { return filepath.Join(dataDir, "edits") }

func (l *EditLogger) WriteEdit(r play.EditRecord) error { return l.w.Write(r) }
func (l *EditLogger) Close() error                      { return l.w.Close() }

// ReadEdits decodes every journal file under dir in hour order and calls fn
// for each record. fn returning an error stops the walk.
func ReadEdits(dir string, fn func(play.EditRecord) error) error {
	files, err := filepath.Glob(filepath.Join(dir, "edits-*.jsonl.zst"))
	if err != nil {
		return err
	}
	// The hour layout sorts lexically.
	sort.Strings(files)

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	for _, path := range files {
		if err := readEditFile(dec, path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readEditFile(dec *zstd.Decoder, path string, fn func(play.EditRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := dec.Reset(f); err != nil {
		return err
	}

	jd := json.NewDecoder(dec)
	for {
		var r play.EditRecord
		if err := jd.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
