package ingest

// LogEntry is one plain console line.
type LogEntry struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix millis at ingestion
}

// ErrorEntry is an error or warning with its filtered stack and
// fingerprints. ErrorID identifies the message at its top frame; FrameHash
// identifies the top frame alone.
type ErrorEntry struct {
	Message    string   `json:"message"`
	Timestamp  int64    `json:"timestamp"`
	Stack      []string `json:"stack"`
	ErrorID    string   `json:"errorId"`
	FrameHash  string   `json:"frameHash"`
	SourceFile string   `json:"sourceFile"`
}

// UnknownSource is the SourceFile of errors without a surviving frame.
const UnknownSource = "<unknown>"
