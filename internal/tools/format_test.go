package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agent-racer/chrome-logs/internal/ingest"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "2025-03-01T12:00:00.250Z", FormatTimestamp(1740830400250))
	assert.Equal(t, "1970-01-01T00:00:00.000Z", FormatTimestamp(0))
}

func TestFormatTabs(t *testing.T) {
	assert.Equal(t, "🔍 No open tabs found.", FormatTabs(nil))

	got := FormatTabs([]TabInfo{
		{ID: "1", Title: "One", URL: "http://one"},
		{ID: "2", Title: "Two", URL: "http://two"},
	})
	want := "📑 Found 2 tab(s):\n\n" +
		"🆔 1\n📄 Title: One\n🔗 URL: http://one\n\n" +
		"🆔 2\n📄 Title: Two\n🔗 URL: http://two"
	assert.Equal(t, want, got)
}

func TestFormatCurrentTab(t *testing.T) {
	assert.Equal(t, "🔴 No tab is currently connected.", FormatCurrentTab("", false))
	assert.Equal(t, `🟢 Currently connected to tab: "My App"`, FormatCurrentTab("My App", true))
}

func TestFormatLogs(t *testing.T) {
	got := FormatLogs([]ingest.LogEntry{
		{Message: "old", Timestamp: 0},
		{Message: "new", Timestamp: 1000},
	}, 10)
	want := "🪵 part of the requested logs (2 of 10):\n\n" +
		"[1970-01-01T00:00:00.000Z] old\n" +
		"[1970-01-01T00:00:01.000Z] new"
	assert.Equal(t, want, got)
}

func TestFormatErrors(t *testing.T) {
	got := FormatErrors([]ingest.ErrorEntry{{
		Message:    "boom",
		Timestamp:  0,
		Stack:      []string{"  at f (app.js:1:1)"},
		ErrorID:    "06d96abe17",
		FrameHash:  "3deea27b21",
		SourceFile: "app.js",
	}}, 10)
	want := "❌ Here is another part of the requested errors 1 of 10:\n\n" +
		"🕒 1970-01-01T00:00:00.000Z\n" +
		"🆔 errorId: 06d96abe17\n" +
		"🔗 sourceFile: app.js\n" +
		"🔹 frameHash: 3deea27b21\n" +
		"💬 message: boom\n" +
		"📄 stack:\n  at f (app.js:1:1)\n" +
		"---"
	assert.Equal(t, want, got)
}
