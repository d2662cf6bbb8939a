package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/report"
	"github.com/willibrandon/vperf/internal/ui/components"
)

// newTopCmd creates the top subcommand
func newTopCmd() *cobra.Command {
	var (
		entities []string
		window   windowFlags
		counter  string
		limit    int
		output   string
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank entities by a counter",
		Long: `Rank entities by the average of a counter over a window, highest first.

Per-instance values (one per disk or interface) are averaged over the
window and summed, so an entity's rank reflects its total.`,
		Example: `  vperf top
  vperf top --counter disk.write.rate --cycle day -n 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := window.spec()
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			var unit string
			known := false
			for _, c := range e.counters(ctx) {
				if c.Key == counter {
					unit, known = c.Unit, true
				}
			}
			if !known {
				return fmt.Errorf("unknown counter %q (see vperf counters)", counter)
			}

			targets, err := e.entities(ctx, entities)
			if err != nil {
				return err
			}

			qctx, cancel := e.queryContext(ctx)
			defer cancel()
			session, err := e.engine.NewSession(qctx)
			if err != nil {
				return err
			}

			var failed int
			var ok []*perf.Result
			for _, r := range retrieveAll(qctx, session, targets, spec) {
				if skippable(r.err, len(entities) > 0) {
					e.logger.Debug("entity skipped", "entity", r.entity, "error", r.err)
					continue
				}
				if r.err != nil {
					failed++
					printEntityError(cmd.ErrOrStderr(), r.entity, r.err)
					continue
				}
				ok = append(ok, r.result)
			}

			items := report.Rank(ok, counter)
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}

			out := cmd.OutOrStdout()
			switch format {
			case report.FormatJSON:
				err = report.WriteJSON(out, items, useColor())
			case report.FormatYAML:
				err = report.WriteYAML(out, items, useColor())
			default:
				chart := components.BarChart{
					Title:      fmt.Sprintf("Top %s (%s)", counter, spec),
					Width:      max(termWidth(), 80),
					MaxBars:    len(items),
					LabelWidth: 28,
					Format:     func(v float64) string { return report.FormatValue(v, unit) },
				}
				bars := make([]components.Bar, len(items))
				for i, it := range items {
					bars[i] = components.Bar{Label: it.Entity, Value: it.Value, Rank: it.Rank}
				}
				fmt.Fprintln(out, chart.Render(bars))
			}
			if err != nil {
				return err
			}

			if failed > 0 {
				return &partialError{failed: failed, total: len(targets)}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&entities, "entity", "e", nil, "entity as kind/id, repeatable (default all)")
	window.register(cmd)
	cmd.Flags().StringVarP(&counter, "counter", "c", metrics.CounterCPUUsage, "counter key to rank by")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of entities to show (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}
