package components

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/xlab/treeprint"

	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/ui/styles"
)

// EntityNode is one entity as shown in the entity tree.
type EntityNode struct {
	Entity     perf.Entity
	Capability perf.Capability
	UpdatedAt  time.Time
}

// RenderEntityTree groups entities by kind under a root label: clusters,
// then hosts, then VMs. Real-time capable entities are green.
func RenderEntityTree(root string, nodes []EntityNode) string {
	tree := treeprint.New()
	tree.SetValue(styles.TitleStyle.Render(root))

	if len(nodes) == 0 {
		tree.AddNode(styles.MutedStyle.Render("(no entities)"))
		return tree.String()
	}

	byKind := make(map[perf.EntityKind][]EntityNode)
	for _, n := range nodes {
		byKind[n.Entity.Kind] = append(byKind[n.Entity.Kind], n)
	}

	for _, kind := range []perf.EntityKind{perf.KindCluster, perf.KindHost, perf.KindVM} {
		group := byKind[kind]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Entity.ID < group[j].Entity.ID })

		branch := tree.AddBranch(fmt.Sprintf("%s (%d)", kind, len(group)))
		for _, n := range group {
			branch.AddNode(formatEntityNode(n))
		}
	}

	return tree.String()
}

func formatEntityNode(n EntityNode) string {
	mode := "historical only"
	color := styles.ColorMuted
	if n.Capability.SupportsRealtime {
		mode = fmt.Sprintf("realtime @%ds", n.Capability.RefreshRate)
		color = styles.ColorRealtime
	}

	text := lipgloss.NewStyle().Foreground(color).Render(n.Entity.ID + "  " + mode)
	if !n.UpdatedAt.IsZero() {
		text += styles.MutedStyle.Render("  seen " + humanize.Time(n.UpdatedAt))
	}
	return text
}
