package output

import (
	"bytes"
	"strings"
	"testing"
)

func sampleTable() *Table {
	t := NewTable("ID", "DATASTORES", "CHECKSUM").MarkWide("CHECKSUM")
	t.AddRow("01J1", "config,operational", "abc123")
	t.AddRow("01J2", "", "def456")
	return t
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleTable().Render(&buf, false, false); err != nil {
		t.Fatal(err)
	}
	got := lines(buf.String())
	if len(got) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(got), buf.String())
	}
	if strings.Contains(buf.String(), "CHECKSUM") || strings.Contains(buf.String(), "abc123") {
		t.Errorf("wide column shown in narrow mode:\n%s", buf.String())
	}
	if !strings.HasPrefix(got[0], "ID") || !strings.Contains(got[0], "DATASTORES") {
		t.Errorf("header = %q", got[0])
	}
	if !strings.HasSuffix(strings.TrimSpace(got[2]), "-") {
		t.Errorf("empty cell should render as -: %q", got[2])
	}
	// Columns are aligned: DATASTORES starts at the same offset on every line.
	col := strings.Index(got[0], "DATASTORES")
	if strings.Index(got[1], "config") != col {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestTable_RenderWideNoHeaders(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleTable().Render(&buf, true, true); err != nil {
		t.Fatal(err)
	}
	got := lines(buf.String())
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if !strings.Contains(got[0], "abc123") {
		t.Errorf("wide column missing: %q", got[0])
	}
}

func TestTable_ShortRowsPadded(t *testing.T) {
	tb := NewTable("A", "B", "C")
	tb.AddRow("x")
	var buf bytes.Buffer
	if err := tb.Render(&buf, false, true); err != nil {
		t.Fatal(err)
	}
	if fields := strings.Fields(buf.String()); len(fields) != 3 || fields[1] != "-" || fields[2] != "-" {
		t.Errorf("row = %q", buf.String())
	}
}

type tabularInfo struct{ name string }

func (i tabularInfo) Table() *Table {
	t := NewTable("NAME")
	t.AddRow(i.name)
	return t
}

func TestTableFormatter(t *testing.T) {
	f := &TableFormatter{}

	var buf bytes.Buffer
	if err := f.Format(&buf, tabularInfo{name: "config-one"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "config-one") {
		t.Errorf("tabular value not rendered:\n%s", buf.String())
	}

	buf.Reset()
	if err := f.Format(&buf, map[string]any{"path": "/var/lib/meshstore/restore/backup"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "path: /var/lib/meshstore/restore/backup") {
		t.Errorf("non-table value should fall back to YAML:\n%s", buf.String())
	}

	buf.Reset()
	if err := f.Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("Format(nil) wrote %q, err %v", buf.String(), err)
	}
}
