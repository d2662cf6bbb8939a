package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/willibrandon/vperf/internal/perf"
)

func TestRenderEntityTree(t *testing.T) {
	nodes := []EntityNode{
		{Entity: perf.Entity{Kind: perf.KindVM, ID: "web-02"}},
		{Entity: perf.Entity{Kind: perf.KindVM, ID: "web-01"}, Capability: perf.Capability{SupportsRealtime: true, RefreshRate: 20}, UpdatedAt: time.Now()},
		{Entity: perf.Entity{Kind: perf.KindHost, ID: "node1"}, Capability: perf.Capability{SupportsRealtime: true, RefreshRate: 20}},
	}

	view := ansi.Strip(RenderEntityTree("qemu:///system", nodes))

	for _, want := range []string{"qemu:///system", "host (1)", "vm (2)", "realtime @20s", "historical only", "seen"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in tree:\n%s", want, view)
		}
	}
	if strings.Index(view, "host (1)") > strings.Index(view, "vm (2)") {
		t.Error("hosts should be listed before VMs")
	}
	if strings.Index(view, "web-01") > strings.Index(view, "web-02") {
		t.Error("entities should be sorted by id")
	}
	if strings.Contains(view, "cluster") {
		t.Error("empty kinds should be omitted")
	}
}

func TestRenderEntityTree_Empty(t *testing.T) {
	view := ansi.Strip(RenderEntityTree("vperf", nil))
	if !strings.Contains(view, "(no entities)") {
		t.Errorf("expected empty marker, got:\n%s", view)
	}
}
