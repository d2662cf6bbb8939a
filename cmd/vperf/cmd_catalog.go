package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/report"
	"github.com/willibrandon/vperf/internal/storage/sqlite"
	"github.com/willibrandon/vperf/internal/ui/components"
)

// cycleInfo describes a named rollup cycle.
type cycleInfo struct {
	Name     string `json:"name" yaml:"name"`
	Interval int    `json:"interval_seconds" yaml:"interval_seconds"`
	Level    int    `json:"level" yaml:"level"`
}

func cycleCatalog() []cycleInfo {
	cycles := perf.AllCycles()
	out := make([]cycleInfo, len(cycles))
	for i, c := range cycles {
		interval := int(c.Interval())
		out[i] = cycleInfo{Name: string(c), Interval: interval, Level: metrics.LevelForInterval(interval)}
	}
	return out
}

// writeStructured renders v as JSON or YAML. It reports false for table
// output, which the caller renders itself.
func writeStructured(cmd *cobra.Command, output string, v any) (bool, error) {
	format, err := report.ParseFormat(output)
	if err != nil {
		return true, err
	}
	switch format {
	case report.FormatJSON:
		return true, report.WriteJSON(cmd.OutOrStdout(), v, useColor())
	case report.FormatYAML:
		return true, report.WriteYAML(cmd.OutOrStdout(), v, useColor())
	}
	return false, nil
}

// newCyclesCmd creates the cycles subcommand
func newCyclesCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List named rollup cycles",
		Long: `List the rollup cycles accepted by --cycle, with the sampling interval
each maps to and the highest counter level kept at that interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := cycleCatalog()
			if done, err := writeStructured(cmd, output, catalog); done {
				return err
			}

			t := components.NewTable("CYCLE", "INTERVAL", "SECONDS", "LEVEL")
			t.AlignRight(2, 3)
			for _, c := range catalog {
				t.AddRow(c.Name, perf.Interval(c.Interval).Duration().String(), strconv.Itoa(c.Interval), strconv.Itoa(c.Level))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.View())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

// newCountersCmd creates the counters subcommand
func newCountersCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "List the performance counter catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			counters := e.counters(ctx)
			if done, err := writeStructured(cmd, output, counters); done {
				return err
			}

			t := components.NewTable("KEY", "NAME", "UNIT", "LEVEL")
			t.AlignRight(3)
			for _, c := range counters {
				t.AddRow(c.Key, c.FullName(), c.Unit, strconv.Itoa(c.Level))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.View())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

// newEntitiesCmd creates the entities subcommand
func newEntitiesCmd() *cobra.Command {
	var (
		output string
		tree   bool
	)
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List entities reported by vperf-agent",
		Long: `List every entity vperf-agent has reported, with the capability it
last advertised. Capabilities older than the real-time window are shown
as historical only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			records, err := e.store.ListEntities(ctx)
			if err != nil {
				return err
			}
			if done, err := writeStructured(cmd, output, records); done {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				printError(cmd.ErrOrStderr(), errNoEntities)
				return nil
			}
			if tree {
				fmt.Fprintln(out, components.RenderEntityTree(e.cfg.Libvirt.URI, entityNodes(records)))
				return nil
			}

			t := components.NewTable("ENTITY", "REALTIME", "REFRESH", "UPDATED")
			t.SetWidth(termWidth())
			t.AlignRight(2)
			for _, r := range records {
				realtime, refresh := "no", "-"
				if r.Capability.SupportsRealtime {
					realtime, refresh = "yes", fmt.Sprintf("%ds", r.Capability.RefreshRate)
				}
				t.AddRow(r.Entity.String(), realtime, refresh, humanize.Time(r.UpdatedAt))
			}
			fmt.Fprintln(out, t.View())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	cmd.Flags().BoolVar(&tree, "tree", false, "group entities by kind")
	return cmd
}

func entityNodes(records []sqlite.EntityRecord) []components.EntityNode {
	nodes := make([]components.EntityNode, len(records))
	for i, r := range records {
		nodes[i] = components.EntityNode{Entity: r.Entity, Capability: r.Capability, UpdatedAt: r.UpdatedAt}
	}
	return nodes
}
