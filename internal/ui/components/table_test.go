package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func TestTable_Empty(t *testing.T) {
	tbl := NewTable("METRIC", "AVG")
	if view := tbl.View(); !strings.Contains(view, "No data to display") {
		t.Errorf("expected empty message, got: %s", view)
	}
}

func TestTable_View(t *testing.T) {
	tbl := NewTable("METRIC", "SOURCE", "AVG")
	tbl.AlignRight(2)
	tbl.AddRow("cpu.usage.average", "historical", "12.5")
	tbl.AddRow("mem.consumed.average", "realtime", "2048")

	view := ansi.Strip(tbl.View())

	for _, want := range []string{"METRIC", "SOURCE", "cpu.usage.average", "realtime", "2048"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in table:\n%s", want, view)
		}
	}
	if tbl.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", tbl.Len())
	}
}

func TestTable_TruncatesCells(t *testing.T) {
	tbl := NewTable("ENTITY")
	tbl.SetMaxCellWidth(10)
	tbl.AddRow("vm/4c4c4544-0042-3510-8052-b7c04f4e4432")

	view := ansi.Strip(tbl.View())
	if strings.Contains(view, "b7c04f4e4432") {
		t.Errorf("expected truncated cell, got:\n%s", view)
	}
	if !strings.Contains(view, "…") {
		t.Errorf("expected ellipsis, got:\n%s", view)
	}
}

func TestTruncateCell(t *testing.T) {
	if got := truncateCell("abc", 0); got != "abc" {
		t.Errorf("zero max should not truncate, got %q", got)
	}
	if got := truncateCell("abcdef", 4); ansi.StringWidth(got) != 4 {
		t.Errorf("expected width 4, got %q", got)
	}
}
