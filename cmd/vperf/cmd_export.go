package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/willibrandon/vperf/internal/export"
	"github.com/willibrandon/vperf/internal/report"
	"github.com/willibrandon/vperf/internal/ui/components"
	"github.com/willibrandon/vperf/internal/ui/styles"
)

// newExportCmd creates the export subcommand
func newExportCmd() *cobra.Command {
	var (
		entities []string
		window   windowFlags
		path     string
		format   string
		compress string
	)

	cmd := &cobra.Command{
		Use:   "export -f FILE [kind/id...]",
		Short: "Write samples to a CSV or JSON Lines file",
		Long: `Retrieve a window for each entity and write every sample as one row,
tagged with the source that served it.

The format and compression follow the file name unless given explicitly:
  samples.csv, samples.jsonl.gz, samples.csv.zst, samples.jsonl.lz4`,
		Example: `  vperf export -f week.csv.zst --cycle week
  vperf export -f web.jsonl -e vm/web-01 --start "2025-01-01 00:00:00" --end "2025-01-02 00:00:00"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return fmt.Errorf("an output file is required (--file)")
			}
			spec, err := window.spec()
			if err != nil {
				return err
			}

			compression := export.CompressionFromPath(path)
			if compress != "" {
				if compression, err = export.ParseCompression(compress); err != nil {
					return err
				}
				if ext := compression.Extension(); !strings.HasSuffix(path, ext) {
					path += ext
				}
			}
			fileFormat := export.FormatFromPath(path)
			if format != "" {
				if fileFormat, err = export.ParseFormat(format); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			explicit := append(entities, args...)
			targets, err := e.entities(ctx, explicit)
			if err != nil {
				return err
			}

			qctx, cancel := e.queryContext(ctx)
			defer cancel()
			session, err := e.engine.NewSession(qctx)
			if err != nil {
				return err
			}
			results := retrieveAll(qctx, session, targets, spec)

			failed := 0
			summary, err := export.WriteFile(path, fileFormat, compression, func(w *export.Writer) error {
				for _, r := range results {
					if skippable(r.err, len(explicit) > 0) {
						e.logger.Debug("entity skipped", "entity", r.entity, "error", r.err)
						continue
					}
					if r.err != nil {
						failed++
						printEntityError(cmd.ErrOrStderr(), r.entity, r.err)
						continue
					}
					name := r.entity.String()
					if err := w.WriteSamples(name, report.SourceHistorical, r.result.Historical); err != nil {
						return err
					}
					if err := w.WriteSamples(name, report.SourceRealtime, r.result.Realtime); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			printSummary(cmd, summary, len(targets)-failed)
			if failed > 0 {
				return &partialError{failed: failed, total: len(targets)}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "output file")
	cmd.Flags().StringArrayVarP(&entities, "entity", "e", nil, "entity as kind/id, repeatable (default all)")
	window.register(cmd)
	cmd.Flags().StringVar(&format, "format", "", "csv or jsonl (default from file name)")
	cmd.Flags().StringVar(&compress, "compress", "", "none, gzip, lz4 or zstd (default from file name)")

	cmd.AddCommand(newExportInspectCmd())
	return cmd
}

func printSummary(cmd *cobra.Command, s *export.Summary, entities int) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.SuccessStyle.Render(fmt.Sprintf("Exported %s rows from %d entities", humanize.Comma(s.Rows), entities)))
	fmt.Fprintf(out, "  File:        %s\n", s.Path)
	fmt.Fprintf(out, "  Format:      %s\n", s.Format)
	fmt.Fprintf(out, "  Compression: %s\n", s.Compression)
	fmt.Fprintf(out, "  Size:        %s\n", humanize.IBytes(uint64(s.SizeBytes)))
	fmt.Fprintf(out, "  SHA-256:     %s\n", s.Checksum)
}

// seriesStats aggregates the rows of one entity, source and counter.
type seriesStats struct {
	entity, source, counter string
	rows                    int
	first, last             time.Time
}

// newExportInspectCmd creates the export inspect subcommand
func newExportInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := export.ReadFile(args[0])
			if err != nil {
				return err
			}

			stats := make(map[string]*seriesStats)
			for _, r := range rows {
				key := r.Entity + "\x00" + r.Source + "\x00" + r.Counter
				s, ok := stats[key]
				if !ok {
					s = &seriesStats{entity: r.Entity, source: r.Source, counter: r.Counter, first: r.Timestamp, last: r.Timestamp}
					stats[key] = s
				}
				s.rows++
				if r.Timestamp.Before(s.first) {
					s.first = r.Timestamp
				}
				if r.Timestamp.After(s.last) {
					s.last = r.Timestamp
				}
			}

			series := make([]*seriesStats, 0, len(stats))
			for _, s := range stats {
				series = append(series, s)
			}
			sort.Slice(series, func(i, j int) bool {
				a, b := series[i], series[j]
				if a.entity != b.entity {
					return a.entity < b.entity
				}
				if a.source != b.source {
					return a.source < b.source
				}
				return a.counter < b.counter
			})

			t := components.NewTable("ENTITY", "SOURCE", "COUNTER", "ROWS", "FIRST", "LAST")
			t.SetWidth(termWidth())
			t.AlignRight(3)
			for _, s := range series {
				t.AddRow(s.entity, s.source, s.counter, humanize.Comma(int64(s.rows)),
					s.first.Local().Format(time.DateTime), s.last.Local().Format(time.DateTime))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s rows\n\n", args[0], humanize.Comma(int64(len(rows))))
			fmt.Fprintln(out, t.View())
			return nil
		},
	}
}
