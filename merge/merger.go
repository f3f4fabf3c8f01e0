// Package merge streams input artifacts through the cleaner into a
// deduplication set without holding any artifact fully in memory.
//
// Each input is read line by line; "\n", "\r\n" and a bare "\r" all end a
// line. Lines are buffered into chunks of ChunkLines; a full chunk (and the
// remainder at the end of each input) is joined, stripped of boilerplate,
// filtered down to pair lines and added to the set. A boilerplate block that straddles a chunk boundary is not
// recognized; its lines are still dropped by the pair filter.
package merge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pithecene-io/coalesce/clean"
	"github.com/pithecene-io/coalesce/dedup"
	"github.com/pithecene-io/coalesce/iox"
)

// DefaultChunkLines is the number of lines cleaned per chunk.
const DefaultChunkLines = 10_000

// maxLineBytes caps a single line; longer lines are split.
const maxLineBytes = 4 << 20

// Input is one artifact to merge.
type Input struct {
	// Name identifies the input in errors and logs.
	Name string
	// Size is the expected size in bytes, used for progress totals.
	Size int64
	// Open returns a fresh reader over the artifact content.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// ProgressObserver receives cumulative byte progress during a merge.
// Observe is called after every line; implementations decide whether to
// emit anything. A final call with processed == total is always made.
type ProgressObserver interface {
	Observe(ctx context.Context, processed, total int64)
}

// Result summarizes a completed merge.
type Result struct {
	Inputs         int   `json:"inputs"`
	LinesRead      int64 `json:"lines_read"`
	PairsExtracted int64 `json:"pairs_extracted"`
	Unique         int   `json:"unique"`
	TotalBytes     int64 `json:"total_bytes"`
	ProcessedBytes int64 `json:"processed_bytes"`
}

// Merger runs the chunked streaming merge.
// The zero value uses DefaultChunkLines and no observer.
type Merger struct {
	ChunkLines int
	Observer   ProgressObserver
}

// Merge reads every input in order and adds its cleaned pair lines to set.
// Any error opening or reading an input aborts the merge.
func (m *Merger) Merge(ctx context.Context, inputs []Input, set *dedup.Set) (Result, error) {
	chunkLines := m.ChunkLines
	if chunkLines <= 0 {
		chunkLines = DefaultChunkLines
	}

	res := Result{Inputs: len(inputs)}
	for _, in := range inputs {
		res.TotalBytes += in.Size
	}

	for _, in := range inputs {
		if err := m.mergeInput(ctx, in, chunkLines, set, &res); err != nil {
			return res, err
		}
	}

	res.Unique = set.Len()

	// Sizes are declared up front; if an input grew or shrunk the final
	// report still has to land on 100%.
	if res.ProcessedBytes > res.TotalBytes {
		res.TotalBytes = res.ProcessedBytes
	}
	m.observe(ctx, res.TotalBytes, res.TotalBytes)

	return res, nil
}

func (m *Merger) mergeInput(ctx context.Context, in Input, chunkLines int, set *dedup.Set, res *Result) error {
	rc, err := in.Open(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.Name, err)
	}
	defer iox.DiscardClose(rc)

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	scanner.Split(scanLines)
	chunk := make([]string, 0, chunkLines)

	flush := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pairs := clean.ExtractPairs(clean.StripBoilerplate(strings.Join(chunk, "")))
		set.AddAll(pairs)
		res.PairsExtracted += int64(len(pairs))
		chunk = chunk[:0]
		return nil
	}

	for scanner.Scan() {
		raw := scanner.Bytes()
		res.ProcessedBytes += int64(len(raw))
		res.LinesRead++
		chunk = append(chunk, normalizeLine(raw))

		if len(chunk) >= chunkLines {
			if err := flush(); err != nil {
				return err
			}
		}
		m.observe(ctx, res.ProcessedBytes, max(res.TotalBytes, res.ProcessedBytes))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", in.Name, err)
	}

	if len(chunk) > 0 {
		return flush()
	}
	return nil
}

// scanLines is a bufio.SplitFunc that ends a line at "\n", "\r\n" or a
// bare "\r", keeping the terminator. A final unterminated line is returned
// as is; lines reaching maxLineBytes are cut.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		switch {
		case data[i] == '\n':
			return i + 1, data[:i+1], nil
		case i+1 < len(data) && data[i+1] == '\n':
			return i + 2, data[:i+2], nil
		case i+1 < len(data) || atEOF || len(data) >= maxLineBytes:
			return i + 1, data[:i+1], nil
		}
		// A trailing "\r" may be the first half of "\r\n".
		return 0, nil, nil
	}
	if atEOF || len(data) >= maxLineBytes {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// normalizeLine drops invalid UTF-8 and rewrites the terminator as "\n".
func normalizeLine(raw []byte) string {
	line := strings.ToValidUTF8(string(raw), "")
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2] + "\n"
	case strings.HasSuffix(line, "\r"):
		return line[:len(line)-1] + "\n"
	}
	return line
}

func (m *Merger) observe(ctx context.Context, processed, total int64) {
	if m.Observer != nil {
		m.Observer.Observe(ctx, processed, total)
	}
}

// FileInput builds an Input over a local file.
func FileInput(path string) (Input, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Input{}, err
	}
	if info.IsDir() {
		return Input{}, fmt.Errorf("%s is a directory", path)
	}
	return Input{
		Name: path,
		Size: info.Size(),
		Open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
