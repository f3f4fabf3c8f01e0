package runtime

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pithecene-io/coalesce/progress"
)

// User-facing messages.
const (
	UnsupportedText = "⚠️ Send .txt files only."
	PromptText      = "📝 What should be the **name of the merged file**?\nExample: `combo.txt`"
	TriggeredText   = "⚡ Manual merge triggered…"
	NothingQueued   = "📭 No files queued."
	MergeNowLabel   = "⚡ Merge Now"
)

// ArtifactExt is the only accepted upload extension.
const ArtifactExt = ".txt"

// DefaultOutputName is used when the user replies with an empty name.
const DefaultOutputName = "merged"

func startText(window time.Duration) string {
	return fmt.Sprintf("👋 Send .txt files.\nThey will auto-merge after %s.", seconds(window))
}

func statusText(count int, window time.Duration) string {
	return fmt.Sprintf("📥 Files received: **%d**\n⏳ Waiting %s to Merge.", count, seconds(window))
}

func nameSetText(name string) string {
	return fmt.Sprintf("📦 Filename set to **%s**", name)
}

func mergingText(inputs int) string {
	return fmt.Sprintf("🔄 Merging **%d files**…\n%s 0%%", inputs, progress.Bar(0))
}

func uploadFailedText(err error) string {
	return "❌ Upload failed: " + err.Error()
}

func mergeFailedText(err error) string {
	return "❌ Merge failed: " + err.Error()
}

func seconds(d time.Duration) string {
	n := int(d.Round(time.Second) / time.Second)
	if n == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", n)
}

// IsSupported reports whether name has the accepted extension, ignoring
// case.
func IsSupported(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ArtifactExt)
}

// NormalizeName turns a user reply into an output file name: surrounding
// whitespace and directory components are dropped, an empty result becomes
// DefaultOutputName, and ArtifactExt is appended unless already present in
// any case.
func NormalizeName(reply string) string {
	name := strings.ReplaceAll(strings.TrimSpace(reply), "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	switch name {
	case "", ".", "..", "/":
		name = DefaultOutputName
	}
	if strings.EqualFold(name, ArtifactExt) {
		name = DefaultOutputName + name
	}
	if !IsSupported(name) {
		name += ArtifactExt
	}
	return name
}
