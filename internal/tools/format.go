package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/agent-racer/chrome-logs/internal/ingest"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders unix milliseconds as an RFC 3339 UTC instant with
// millisecond precision.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timestampLayout)
}

func FormatTabs(tabs []TabInfo) string {
	if len(tabs) == 0 {
		return "🔍 No open tabs found."
	}
	blocks := make([]string, len(tabs))
	for i, t := range tabs {
		blocks[i] = fmt.Sprintf("🆔 %s\n📄 Title: %s\n🔗 URL: %s", t.ID, t.Title, t.URL)
	}
	return fmt.Sprintf("📑 Found %d tab(s):\n\n%s", len(tabs), strings.Join(blocks, "\n\n"))
}

func FormatCurrentTab(title string, ok bool) string {
	if !ok {
		return "🔴 No tab is currently connected."
	}
	return fmt.Sprintf("🟢 Currently connected to tab: %q", title)
}

// FormatLogs expects logs oldest first.
func FormatLogs(logs []ingest.LogEntry, requested int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🪵 part of the requested logs (%d of %d):\n\n", len(logs), requested)
	for i, l := range logs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", FormatTimestamp(l.Timestamp), l.Message)
	}
	return b.String()
}

// FormatErrors expects errors oldest first.
func FormatErrors(errs []ingest.ErrorEntry, requested int) string {
	blocks := make([]string, len(errs))
	for i, e := range errs {
		blocks[i] = strings.Join([]string{
			"🕒 " + FormatTimestamp(e.Timestamp),
			"🆔 errorId: " + e.ErrorID,
			"🔗 sourceFile: " + e.SourceFile,
			"🔹 frameHash: " + e.FrameHash,
			"💬 message: " + e.Message,
			"📄 stack:\n" + strings.Join(e.Stack, "\n"),
			"---",
		}, "\n")
	}
	return fmt.Sprintf("❌ Here is another part of the requested errors %d of %d:\n\n%s",
		len(errs), requested, strings.Join(blocks, "\n\n"))
}
