// Package scores keeps the local high score table in a text file of
// name:score lines.
package scores

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"tetrecs/internal/protocol"
)

// Size is the number of entries kept.
const Size = 10

// Table is a high score table, best first.
type Table []protocol.NameScore

// Default is the table used before anyone has played.
func Default() Table {
	t := make(Table, Size)
	for i := range t {
		t[i] = protocol.NameScore{Name: "Bryan", Score: (Size - i) * 1000}
	}
	return t
}

// Load reads the table at path. A missing or empty file yields Default.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}
	var t Table
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		ns, err := protocol.ParseNameScore(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		t = append(t, ns)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}
	if len(t) == 0 {
		return Default(), nil
	}
	t.normalize()
	return t, nil
}

// Save writes the table to path, replacing it atomically.
func (t Table) Save(path string) error {
	var buf bytes.Buffer
	for _, ns := range t {
		buf.WriteString(ns.Name + ":" + strconv.Itoa(ns.Score) + "\n")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".scores-*")
	if err != nil {
		return fmt.Errorf("save scores: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("save scores: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}
	return nil
}

// Qualifies reports whether score would enter the table.
func (t Table) Qualifies(score int) bool {
	if len(t) < Size {
		return true
	}
	return score > t[len(t)-1].Score
}

// Insert returns a new table with the entry added, or t unchanged when the
// score does not qualify. The new entry ranks below equal scores.
func (t Table) Insert(name string, score int) (Table, bool) {
	if !t.Qualifies(score) {
		return t, false
	}
	out := append(Table(nil), t...)
	out = append(out, protocol.NameScore{Name: name, Score: score})
	out.normalize()
	return out, true
}

// Best returns the top score, or zero for an empty table.
func (t Table) Best() int {
	if len(t) == 0 {
		return 0
	}
	return t[0].Score
}

func (t *Table) normalize() {
	sort.SliceStable(*t, func(i, j int) bool { return (*t)[i].Score > (*t)[j].Score })
	if len(*t) > Size {
		*t = (*t)[:Size]
	}
}
