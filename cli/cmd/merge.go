package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/coalesce/cli/render"
	"github.com/pithecene-io/coalesce/cli/tui"
	"github.com/pithecene-io/coalesce/dedup"
	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/merge"
	"github.com/pithecene-io/coalesce/progress"
	"github.com/pithecene-io/coalesce/runtime"
)

// MergeCommand returns the offline merge command. It applies the same
// cleaning and deduplication as the bot to files on disk.
func MergeCommand() *cli.Command {
	flags := append(OutputFlags(),
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output file (.txt is appended if missing)",
			Value:   runtime.DefaultOutputName + runtime.ArtifactExt,
		},
		&cli.IntFlag{
			Name:  "chunk-lines",
			Usage: "Lines per cleaning chunk",
			Value: merge.DefaultChunkLines,
		},
		&cli.Int64Flag{
			Name:  "progress-interval",
			Usage: "Bytes processed between progress updates",
			Value: progress.DefaultInterval,
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress progress output",
		},
	)
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge text files into one deduplicated user:pass list",
		ArgsUsage: "FILE...",
		Flags:     flags,
		Action:    mergeAction,
	}
}

type offlineMerge struct {
	inputs     []merge.Input
	output     string
	chunkLines int
}

func mergeAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one input file is required", exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	m := offlineMerge{
		output:     outputPath(c.String("output")),
		chunkLines: c.Int("chunk-lines"),
	}
	for _, path := range c.Args().Slice() {
		in, err := merge.FileInput(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("input %s: %v", path, err), exitConfigError)
		}
		m.inputs = append(m.inputs, in)
	}
	interval := progress.WithInterval(c.Int64("progress-interval"))

	if c.Bool("tui") {
		title := fmt.Sprintf("Merging %d files into %s", len(m.inputs), m.output)
		_, err := tui.RunMerge(c.Context, title, func(ctx context.Context, send func(tui.ProgressMsg)) (tui.Summary, error) {
			reporter := progress.NewReporter(func(_ context.Context, u progress.Update) error {
				send(tui.ProgressMsg{Percent: u.Percent, Processed: u.Processed, Total: u.Total})
				return nil
			}, interval)
			return m.run(ctx, reporter)
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("merge failed: %v", err), exitRuntimeError)
		}
		return nil
	}

	var observer merge.ProgressObserver
	if !c.Bool("quiet") && isStderrTTY() {
		observer = progress.NewReporter(func(_ context.Context, u progress.Update) error {
			_, err := fmt.Fprintf(c.App.ErrWriter, "\r%s %3d%%", progress.Bar(u.Percent), u.Percent)
			return err
		}, interval)
	}

	summary, err := m.run(c.Context, observer)
	if observer != nil {
		_, _ = fmt.Fprintln(c.App.ErrWriter)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("merge failed: %v", err), exitRuntimeError)
	}
	return r.Render(summary)
}

func (m offlineMerge) run(ctx context.Context, observer merge.ProgressObserver) (tui.Summary, error) {
	start := time.Now()
	set := dedup.New()
	merger := &merge.Merger{ChunkLines: m.chunkLines, Observer: observer}

	res, err := merger.Merge(ctx, m.inputs, set)
	if err != nil {
		return tui.Summary{}, err
	}
	if err := writeSet(m.output, set); err != nil {
		return tui.Summary{}, fmt.Errorf("write %s: %w", m.output, err)
	}

	return tui.Summary{
		Output:         m.output,
		Inputs:         res.Inputs,
		LinesRead:      res.LinesRead,
		PairsExtracted: res.PairsExtracted,
		Unique:         res.Unique,
		Bytes:          res.ProcessedBytes,
		DurationMs:     time.Since(start).Milliseconds(),
	}, nil
}

func writeSet(path string, set *dedup.Set) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer iox.CloseErr(f, &err)

	_, err = set.WriteTo(f)
	return err
}

// outputPath normalizes the file name part of raw the same way the bot
// normalizes name replies, keeping any directory.
func outputPath(raw string) string {
	dir, base := filepath.Split(raw)
	return filepath.Join(dir, runtime.NormalizeName(base))
}
