package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// csvTable is a whole-file CSV table: every mutation reads the full file,
// changes it in memory and writes it back through a temp file and rename.
type csvTable struct {
	mu     sync.Mutex
	path   string
	header []string
}

func newCSVTable(path string, header []string) *csvTable {
	return &csvTable{path: path, header: header}
}

// readAll returns the data rows. A missing or empty file reads as no rows.
func (t *csvTable) readAll() ([][]string, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if !slices.Equal(rows[0], t.header) {
		return nil, fmt.Errorf("read %s: unexpected header %v", t.path, rows[0])
	}
	return rows[1:], nil
}

func (t *csvTable) writeAll(rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(t.path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", t.path, err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, t.header, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("rename %s: %w", t.path, err)
	}
	return nil
}

// appendRows adds rows to the end of the file, writing the header first when
// the file is new.
func (t *csvTable) appendRows(rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(t.path), err)
	}
	info, err := os.Stat(t.path)
	fresh := errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", t.path, err)
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	header := t.header
	if !fresh {
		header = nil
	}
	if err := writeRows(f, header, rows); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", t.path, err)
	}
	return f.Close()
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if header != nil {
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
