package output

import (
	"io"
	"strings"
	"text/tabwriter"
)

// Table is a grid of cells with optional wide-only columns.
type Table struct {
	Headers []string

	// Wide lists header indexes shown only in wide mode.
	Wide []int

	Rows [][]string
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// MarkWide hides the named columns unless wide output is requested.
func (t *Table) MarkWide(headers ...string) *Table {
	for _, h := range headers {
		for i, have := range t.Headers {
			if have == h {
				t.Wide = append(t.Wide, i)
			}
		}
	}
	return t
}

// AddRow appends a row. Missing cells render as "-".
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table aligned on tab stops.
func (t *Table) Render(w io.Writer, wide, noHeaders bool) error {
	cols := t.columns(wide)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		writeLine(tw, pick(t.Headers, cols))
	}
	for _, row := range t.Rows {
		writeLine(tw, pick(row, cols))
	}
	return tw.Flush()
}

func (t *Table) columns(wide bool) []int {
	hidden := make(map[int]bool, len(t.Wide))
	if !wide {
		for _, i := range t.Wide {
			hidden[i] = true
		}
	}
	n := len(t.Headers)
	for _, r := range t.Rows {
		n = max(n, len(r))
	}
	cols := make([]int, 0, n)
	for i := range n {
		if !hidden[i] {
			cols = append(cols, i)
		}
	}
	return cols
}

func pick(cells []string, cols []int) []string {
	out := make([]string, len(cols))
	for j, i := range cols {
		if i < len(cells) && cells[i] != "" {
			out[j] = cells[i]
		} else {
			out[j] = "-"
		}
	}
	return out
}

func writeLine(w io.Writer, cells []string) {
	_, _ = io.WriteString(w, strings.Join(cells, "\t")+"\n")
}

// Tabular values know how to present themselves as a table.
type Tabular interface {
	Table() *Table
}

// TableFormatter renders tables. Values that are not tables fall back to
// YAML, which stays readable for nested data.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case nil:
		return nil
	case *Table:
		return v.Render(w, f.Wide, f.NoHeaders)
	case Tabular:
		return v.Table().Render(w, f.Wide, f.NoHeaders)
	default:
		return (&YAMLFormatter{}).Format(w, data)
	}
}
