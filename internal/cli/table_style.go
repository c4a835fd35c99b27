package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

// PlainTableWriter writes kubectl-style columns without box drawing, for
// piping into grep, awk or cut.
type PlainTableWriter struct {
	output      io.Writer
	headers     []string
	rows        [][]string
	widths      []int
	padding     int
	showHeaders bool
}

// NewPlainTableWriter creates a writer with the given column headers,
// which are printed upper-cased.
func NewPlainTableWriter(output io.Writer, headers ...string) *PlainTableWriter {
	w := &PlainTableWriter{
		output:      output,
		headers:     make([]string, len(headers)),
		widths:      make([]int, len(headers)),
		padding:     3,
		showHeaders: true,
	}
	for i, h := range headers {
		w.headers[i] = strings.ToUpper(h)
		w.widths[i] = text.StringWidthWithoutEscSequences(w.headers[i])
	}
	return w
}

// SetNoHeaders controls whether to suppress the header row.
func (w *PlainTableWriter) SetNoHeaders(noHeaders bool) {
	w.showHeaders = !noHeaders
}

// AppendRow adds a row. Missing cells are blank; extra cells are dropped.
func (w *PlainTableWriter) AppendRow(cells ...string) {
	row := make([]string, len(w.headers))
	copy(row, cells)
	for i, cell := range row {
		if width := text.StringWidthWithoutEscSequences(cell); width > w.widths[i] {
			w.widths[i] = width
		}
	}
	w.rows = append(w.rows, row)
}

// Render writes the table. Nothing is written without columns, or without
// rows when headers are suppressed.
func (w *PlainTableWriter) Render() error {
	if len(w.headers) == 0 || (len(w.rows) == 0 && !w.showHeaders) {
		return nil
	}
	if w.showHeaders {
		if err := w.writeRow(w.headers); err != nil {
			return err
		}
	}
	for _, row := range w.rows {
		if err := w.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *PlainTableWriter) writeRow(row []string) error {
	var sb strings.Builder
	last := len(row) - 1
	for i, cell := range row {
		sb.WriteString(cell)
		if i < last {
			gap := w.widths[i] + w.padding - text.StringWidthWithoutEscSequences(cell)
			sb.WriteString(strings.Repeat(" ", gap))
		}
	}
	_, err := fmt.Fprintln(w.output, strings.TrimRight(sb.String(), " "))
	return err
}
