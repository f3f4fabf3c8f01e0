package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/pithecene-io/coalesce/dedup"
)

const header = `🔑 PREMIUM ACCOUNTS FOR 2025
Generated: 2025-01-15 10:30:00
Total: 3
Format: User:Pass Format
━━━━━━━━━━━━━━━━━━━━
`

type recordingObserver struct {
	calls [][2]int64
}

func (r *recordingObserver) Observe(_ context.Context, processed, total int64) {
	r.calls = append(r.calls, [2]int64{processed, total})
}

// stringInput builds an in-memory Input.
func stringInput(name, content string) Input {
	return Input{
		Name: name,
		Size: int64(len(content)),
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func sortedLines(s *dedup.Set) []string {
	lines := s.Lines()
	sort.Strings(lines)
	return lines
}

func TestMerge_DedupAcrossInputs(t *testing.T) {
	a := stringInput("fileA.txt", header+"user1:pass1\nuser1:pass1\nuser2:pass2\n")
	b := stringInput("fileB.txt", header+"user2:pass2\nuser3:pass3")

	set := dedup.New()
	m := &Merger{}
	res, err := m.Merge(t.Context(), []Input{a, b}, set)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got := sortedLines(set)
	want := []string{"user1:pass1", "user2:pass2", "user3:pass3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	if res.Unique != 3 {
		t.Errorf("Unique = %d, want 3", res.Unique)
	}
	if res.PairsExtracted != 5 {
		t.Errorf("PairsExtracted = %d, want 5", res.PairsExtracted)
	}
	if res.Inputs != 2 {
		t.Errorf("Inputs = %d, want 2", res.Inputs)
	}
	if res.ProcessedBytes != a.Size+b.Size {
		t.Errorf("ProcessedBytes = %d, want %d", res.ProcessedBytes, a.Size+b.Size)
	}
	if res.TotalBytes != res.ProcessedBytes {
		t.Errorf("TotalBytes = %d, ProcessedBytes = %d", res.TotalBytes, res.ProcessedBytes)
	}
}

func TestMerge_ChunkBoundaryFlushesEveryLine(t *testing.T) {
	var sb strings.Builder
	for i := range 25 {
		fmt.Fprintf(&sb, "u%d:p%d\n", i, i)
	}

	set := dedup.New()
	m := &Merger{ChunkLines: 10}
	res, err := m.Merge(t.Context(), []Input{stringInput("in.txt", sb.String())}, set)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if set.Len() != 25 {
		t.Errorf("Len = %d, want 25", set.Len())
	}
	if res.LinesRead != 25 {
		t.Errorf("LinesRead = %d, want 25", res.LinesRead)
	}
}

func TestMerge_HeaderSplitAcrossChunksStillFiltered(t *testing.T) {
	// Title and Generated land in one chunk, the rest in the next. The block
	// is not recognized, but none of its lines are pair-shaped.
	content := "a:1\n" + header + "b:2\n"

	set := dedup.New()
	m := &Merger{ChunkLines: 2}
	if _, err := m.Merge(t.Context(), []Input{stringInput("in.txt", content)}, set); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got := sortedLines(set)
	if strings.Join(got, ",") != "a:1,b:2" {
		t.Errorf("lines = %v", got)
	}
}

func TestMerge_InvalidUTF8IsDropped(t *testing.T) {
	content := "us\xffer:pa\xfess\nok:line\n"

	set := dedup.New()
	m := &Merger{}
	res, err := m.Merge(t.Context(), []Input{stringInput("in.txt", content)}, set)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !set.Contains("user:pass") || !set.Contains("ok:line") {
		t.Errorf("lines = %v", set.Lines())
	}
	if res.ProcessedBytes != int64(len(content)) {
		t.Errorf("ProcessedBytes = %d, want %d", res.ProcessedBytes, len(content))
	}
}

func TestMerge_LineEndings(t *testing.T) {
	tests := map[string]string{
		"lf":      header + "a:1\nb:2\nc:3",
		"crlf":    strings.ReplaceAll(header, "\n", "\r\n") + "a:1\r\nb:2\r\nc:3\r\n",
		"bare cr": strings.ReplaceAll(header, "\n", "\r") + "a:1\rb:2\rc:3\r",
		"mixed":   "a:1\rb:2\r\nc:3\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			in := Input{
				Name: "in.txt",
				Size: int64(len(content)),
				Open: func(context.Context) (io.ReadCloser, error) {
					// One byte per read puts "\r" and "\n" in separate reads.
					return io.NopCloser(iotest.OneByteReader(strings.NewReader(content))), nil
				},
			}

			set := dedup.New()
			res, err := (&Merger{ChunkLines: 2}).Merge(t.Context(), []Input{in}, set)
			if err != nil {
				t.Fatalf("Merge: %v", err)
			}
			if got := sortedLines(set); strings.Join(got, ",") != "a:1,b:2,c:3" {
				t.Errorf("lines = %q", got)
			}
			if res.ProcessedBytes != int64(len(content)) {
				t.Errorf("ProcessedBytes = %d, want %d", res.ProcessedBytes, len(content))
			}
		})
	}
}

func TestScanLines(t *testing.T) {
	tests := []struct {
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{"a:b\nc", false, 4, "a:b\n"},
		{"a:b\r\nc", false, 5, "a:b\r\n"},
		{"a:b\rc", false, 4, "a:b\r"},
		{"a:b\r", false, 0, ""},
		{"a:b\r", true, 4, "a:b\r"},
		{"a:b", false, 0, ""},
		{"a:b", true, 3, "a:b"},
		{"", true, 0, ""},
	}
	for _, tt := range tests {
		advance, token, err := scanLines([]byte(tt.data), tt.atEOF)
		if err != nil || advance != tt.advance || string(token) != tt.token {
			t.Errorf("scanLines(%q, %v) = %d, %q, %v; want %d, %q", tt.data, tt.atEOF, advance, token, err, tt.advance, tt.token)
		}
	}

	long := strings.Repeat("x", maxLineBytes)
	if advance, _, _ := scanLines([]byte(long), false); advance != maxLineBytes {
		t.Errorf("overlong line not cut: advance = %d", advance)
	}
}

func TestMerge_ProgressIsMonotonicAndEndsAtTotal(t *testing.T) {
	var sb strings.Builder
	for i := range 1000 {
		fmt.Fprintf(&sb, "user%d:pass%d\n", i, i)
	}
	obs := &recordingObserver{}

	m := &Merger{ChunkLines: 100, Observer: obs}
	res, err := m.Merge(t.Context(), []Input{
		stringInput("a.txt", sb.String()),
		stringInput("b.txt", sb.String()),
	}, dedup.New())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if len(obs.calls) == 0 {
		t.Fatal("observer never called")
	}
	var prev int64
	for i, c := range obs.calls {
		if c[0] < prev {
			t.Fatalf("call %d: processed went backwards (%d < %d)", i, c[0], prev)
		}
		prev = c[0]
	}
	last := obs.calls[len(obs.calls)-1]
	if last[0] != last[1] || last[1] != res.TotalBytes {
		t.Errorf("last call = %v, total = %d", last, res.TotalBytes)
	}
}

func TestMerge_EmptyInputs(t *testing.T) {
	obs := &recordingObserver{}
	m := &Merger{Observer: obs}
	res, err := m.Merge(t.Context(), nil, dedup.New())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Unique != 0 || res.TotalBytes != 0 {
		t.Errorf("res = %+v", res)
	}
	if len(obs.calls) != 1 || obs.calls[0] != [2]int64{0, 0} {
		t.Errorf("calls = %v", obs.calls)
	}
}

func TestMerge_OpenErrorAborts(t *testing.T) {
	boom := errors.New("gone")
	bad := Input{
		Name: "missing.txt",
		Open: func(context.Context) (io.ReadCloser, error) { return nil, boom },
	}

	_, err := (&Merger{}).Merge(t.Context(), []Input{stringInput("ok.txt", "a:b\n"), bad}, dedup.New())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "missing.txt") {
		t.Errorf("error should name the input: %v", err)
	}
}

type brokenReader struct{ err error }

func (b brokenReader) Read([]byte) (int, error) { return 0, b.err }

func TestMerge_ReadErrorAborts(t *testing.T) {
	boom := errors.New("bad sector")
	in := Input{
		Name: "broken.txt",
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(io.MultiReader(strings.NewReader("a:b\n"), brokenReader{boom})), nil
		},
	}

	_, err := (&Merger{}).Merge(t.Context(), []Input{in}, dedup.New())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestMerge_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := (&Merger{ChunkLines: 1}).Merge(ctx, []Input{stringInput("in.txt", "a:b\nc:d\n")}, dedup.New())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFileInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(path, []byte("x:y\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	in, err := FileInput(path)
	if err != nil {
		t.Fatalf("FileInput: %v", err)
	}
	if in.Size != 4 {
		t.Errorf("Size = %d, want 4", in.Size)
	}

	set := dedup.New()
	if _, err := (&Merger{}).Merge(t.Context(), []Input{in}, set); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !set.Contains("x:y") {
		t.Errorf("lines = %v", set.Lines())
	}

	if _, err := FileInput(dir); err == nil {
		t.Error("expected error for directory")
	}
}
