// Package memory is an in-process sheets exporter, used for dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"expensedash/internal/sheets"
)

type Exporter struct {
	mu      sync.Mutex
	last    sheets.Grid
	exports int
}

var _ sheets.Exporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

// Export keeps a copy of grid.
func (e *Exporter) Export(_ context.Context, grid sheets.Grid) error {
	cp := make(sheets.Grid, len(grid))
	for i, row := range grid {
		cp[i] = append([]any(nil), row...)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = cp
	e.exports++
	return nil
}

// Last returns the most recently exported grid.
func (e *Exporter) Last() sheets.Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Exporter) Exports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exports
}

// WriteTSV prints the last grid as tab separated values.
func (e *Exporter) WriteTSV(w io.Writer) error {
	for _, row := range e.Last() {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}
