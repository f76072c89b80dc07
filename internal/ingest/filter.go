package ingest

import "strings"

// DefaultIgnoredPatterns mark dev-server and dependency frames.
var DefaultIgnoredPatterns = []string{"@vite/", "node_modules"}

// FrameFilter drops stack frames whose URL contains any ignored substring.
type FrameFilter struct {
	patterns []string
}

func NewFrameFilter(patterns []string) FrameFilter {
	p := make([]string, 0, len(patterns))
	for _, s := range patterns {
		if s != "" {
			p = append(p, s)
		}
	}
	return FrameFilter{patterns: p}
}

// IsNoise reports whether url belongs to an ignored frame.
func (f FrameFilter) IsNoise(url string) bool {
	for _, p := range f.patterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}
