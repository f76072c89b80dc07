package cdp

import (
	"encoding/json"
	"strings"

	"github.com/chromedp/cdproto"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// Event names consumed by the collector.
const (
	EventConsoleAPICalled = string(cdproto.EventRuntimeConsoleAPICalled)
	EventExceptionThrown  = string(cdproto.EventRuntimeExceptionThrown)
	EventLogEntryAdded    = string(cdproto.EventLogEntryAdded)
)

// EnableCommands are the domains a session must enable before events flow.
var EnableCommands = []string{
	string(runtime.CommandEnable),
	string(cdplog.CommandEnable),
	string(page.CommandEnable),
	string(network.CommandEnable),
}

// Console API types and log levels that are recorded as errors.
const (
	ConsoleError   = string(runtime.APITypeError)
	ConsoleWarning = string(runtime.APITypeWarning)
	LevelError     = string(cdplog.LevelError)
	LevelWarning   = string(cdplog.LevelWarning)
)

type CallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId,omitempty"`
	URL          string `json:"url"`
	LineNumber   int64  `json:"lineNumber"`
	ColumnNumber int64  `json:"columnNumber"`
}

type StackTrace struct {
	Description string      `json:"description,omitempty"`
	CallFrames  []CallFrame `json:"callFrames"`
	Parent      *StackTrace `json:"parent,omitempty"`
}

// RemoteObject is the subset of Runtime.RemoteObject needed to render
// console arguments.
type RemoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ClassName           string          `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
}

// String renders the object the way a console line shows it: primitive
// values by value, everything else by description.
func (o RemoteObject) String() string {
	if o.Subtype == "null" || string(o.Value) == "null" {
		return "null"
	}
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal(o.Value, &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	if o.UnserializableValue != "" {
		return o.UnserializableValue
	}
	if o.Description != "" {
		return o.Description
	}
	return "undefined"
}

// ConsoleAPICalled is the payload of Runtime.consoleAPICalled.
type ConsoleAPICalled struct {
	Type               string         `json:"type"`
	Args               []RemoteObject `json:"args"`
	ExecutionContextID int64          `json:"executionContextId"`
	Timestamp          float64        `json:"timestamp"`
	StackTrace         *StackTrace    `json:"stackTrace,omitempty"`
}

// Message joins the rendered arguments with single spaces.
func (e ConsoleAPICalled) Message() string {
	parts := make([]string, len(e.Args))
	for i, arg := range e.Args {
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}

type ExceptionDetails struct {
	ExceptionID  int64         `json:"exceptionId"`
	Text         string        `json:"text"`
	LineNumber   int64         `json:"lineNumber"`
	ColumnNumber int64         `json:"columnNumber"`
	URL          string        `json:"url,omitempty"`
	StackTrace   *StackTrace   `json:"stackTrace,omitempty"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

// Message is the exception text, extended with the first line of the thrown
// value's description ("Uncaught" alone says little).
func (d ExceptionDetails) Message() string {
	if d.Exception == nil || d.Exception.Description == "" {
		return d.Text
	}
	first, _, _ := strings.Cut(d.Exception.Description, "\n")
	if first == "" || strings.Contains(d.Text, first) {
		return d.Text
	}
	if d.Text == "" {
		return first
	}
	return d.Text + ": " + first
}

// ExceptionThrown is the payload of Runtime.exceptionThrown.
type ExceptionThrown struct {
	Timestamp        float64          `json:"timestamp"`
	ExceptionDetails ExceptionDetails `json:"exceptionDetails"`
}

type LogEntry struct {
	Source     string      `json:"source"`
	Level      string      `json:"level"`
	Text       string      `json:"text"`
	URL        string      `json:"url,omitempty"`
	Timestamp  float64     `json:"timestamp"`
	StackTrace *StackTrace `json:"stackTrace,omitempty"`
}

// LogEntryAdded is the payload of Log.entryAdded.
type LogEntryAdded struct {
	Entry LogEntry `json:"entry"`
}
