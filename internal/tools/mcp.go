package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agent-racer/chrome-logs/internal/ingest"
)

const ServerName = "chrome-logs"

type ListTabsInput struct{}

type ListTabsOutput struct {
	Tabs []TabInfo `json:"tabs"`
}

type ConnectInput struct {
	Title string `json:"title" jsonschema:"Tab title or substring to match"`
}

type ConnectOutput struct {
	Connected bool   `json:"connected"`
	Title     string `json:"title,omitempty"`
}

type CurrentTabInput struct{}

type CurrentTabOutput struct {
	Connected bool   `json:"connected"`
	Title     string `json:"title,omitempty"`
}

type LogsInput struct {
	Count *int `json:"count,omitempty" jsonschema:"Number of console logs to return (default 10). Logs are returned in chronological order: older logs first, newer logs last"`
	From  *int `json:"from,omitempty" jsonschema:"Starting index (offset) for retrieving log entries (default 0). Logs are returned in chronological order: older logs first, newer logs last"`
}

type LogsOutput struct {
	Logs []ingest.LogEntry `json:"logs"`
}

type ErrorsInput struct {
	Count *int `json:"count,omitempty" jsonschema:"Number of errors to return (default 10). Errors are returned in chronological order: older errors first, newer errors last"`
	From  *int `json:"from,omitempty" jsonschema:"Starting index (offset) for retrieving error entries (default 0). Errors are returned in chronological order: older errors first, newer errors last"`
}

type ErrorsOutput struct {
	Errors []ingest.ErrorEntry `json:"errors"`
}

// NewMCPServer returns an MCP server with every collector tool registered.
func NewMCPServer(svc *Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	Register(server, svc)
	return server
}

func Register(server *mcp.Server, svc *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list-tabs",
		Description: "List all available Chrome tabs",
	}, svc.handleListTabs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "connect-to-tab",
		Description: "Connect to a Chrome tab by title. Any previous session is stopped first.",
	}, svc.handleConnect)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get-current-tab",
		Description: "Get the currently connected Chrome tab",
	}, svc.handleCurrentTab)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get-chrome-logs",
		Description: "Get Chrome console logs",
	}, svc.handleLogs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get-chrome-errors",
		Description: "Get recent Chrome errors",
	}, svc.handleErrors)
}

func (s *Service) handleListTabs(ctx context.Context, req *mcp.CallToolRequest, _ ListTabsInput) (*mcp.CallToolResult, ListTabsOutput, error) {
	tabs, err := s.ListTabs(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to list tabs: %v", err)), ListTabsOutput{Tabs: []TabInfo{}}, nil
	}
	return textResult(FormatTabs(tabs)), ListTabsOutput{Tabs: tabs}, nil
}

func (s *Service) handleConnect(ctx context.Context, req *mcp.CallToolRequest, input ConnectInput) (*mcp.CallToolResult, ConnectOutput, error) {
	if err := s.Connect(ctx, input.Title); err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to connect to tab: %v", err)), ConnectOutput{}, nil
	}
	title, _ := s.CurrentTab()
	text := fmt.Sprintf("✅ Connected to tab with title containing %q", input.Title)
	return textResult(text), ConnectOutput{Connected: true, Title: title}, nil
}

func (s *Service) handleCurrentTab(ctx context.Context, req *mcp.CallToolRequest, _ CurrentTabInput) (*mcp.CallToolResult, CurrentTabOutput, error) {
	title, ok := s.CurrentTab()
	return textResult(FormatCurrentTab(title, ok)), CurrentTabOutput{Connected: ok, Title: title}, nil
}

func (s *Service) handleLogs(ctx context.Context, req *mcp.CallToolRequest, input LogsInput) (*mcp.CallToolResult, LogsOutput, error) {
	count, from := pageArgs(input.Count, input.From)
	logs := s.GetLogs(count, from)
	return textResult(FormatLogs(logs, count)), LogsOutput{Logs: logs}, nil
}

func (s *Service) handleErrors(ctx context.Context, req *mcp.CallToolRequest, input ErrorsInput) (*mcp.CallToolResult, ErrorsOutput, error) {
	count, from := pageArgs(input.Count, input.From)
	errs := s.GetErrors(count, from)
	return textResult(FormatErrors(errs, count)), ErrorsOutput{Errors: errs}, nil
}

func pageArgs(count, from *int) (int, int) {
	c, f := DefaultCount, DefaultFrom
	if count != nil {
		c = *count
	}
	if from != nil {
		f = *from
	}
	return c, f
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}
