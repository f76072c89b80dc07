package ingest

import (
	"fmt"

	"github.com/agent-racer/chrome-logs/internal/cdp"
)

// FormatStack renders the non-noise frames of st, in order, as
// "  at fn (url:line:col)". topURL is the URL of the first surviving frame,
// empty when none survive.
func (f FrameFilter) FormatStack(st *cdp.StackTrace) (lines []string, topURL string) {
	lines = []string{}
	if st == nil {
		return lines, ""
	}
	found := false
	for _, fr := range st.CallFrames {
		if f.IsNoise(fr.URL) {
			continue
		}
		if !found {
			topURL, found = fr.URL, true
		}
		lines = append(lines, formatFrame(fr))
	}
	return lines, topURL
}

func formatFrame(fr cdp.CallFrame) string {
	name := fr.FunctionName
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("  at %s (%s:%d:%d)", name, fr.URL, fr.LineNumber, fr.ColumnNumber)
}
