// Package browser finds local browser processes that expose a remote
// debugging port.
package browser

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Process struct {
	PID         int32
	Executable  string
	Port        int
	UserDataDir string
	StartTime   time.Time
	CmdLine     string
}

var browserExecutables = map[string]bool{
	"chrome":               true,
	"chrome.exe":           true,
	"google-chrome":        true,
	"google-chrome-stable": true,
	"google-chrome-beta":   true,
	"google chrome":        true,
	"chromium":             true,
	"chromium-browser":     true,
	"msedge":               true,
	"msedge.exe":           true,
	"microsoft-edge":       true,
	"brave":                true,
	"brave-browser":        true,
}

// Discover lists browser processes started with --remote-debugging-port,
// ordered by PID. Processes that vanish or deny access mid-scan are skipped.
func Discover(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var results []Process
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		info, ok := inspect(args)
		if !ok {
			continue
		}
		info.PID = p.Pid
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			info.StartTime = time.UnixMilli(ms)
		}
		results = append(results, info)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PID < results[j].PID })
	return results, nil
}

// inspect reports whether args belong to a top-level browser process with a
// debugging port, and extracts what it can.
func inspect(args []string) (Process, bool) {
	if len(args) == 0 || !isBrowser(args[0]) {
		return Process{}, false
	}

	var info Process
	info.Executable = args[0]
	portSet := false
	for _, arg := range args[1:] {
		// Renderer, GPU and utility helpers inherit the port flag.
		if strings.HasPrefix(arg, "--type=") {
			return Process{}, false
		}
		if v, ok := flagValue(arg, "--remote-debugging-port"); ok {
			port, err := strconv.Atoi(v)
			if err != nil || port < 0 || port > 65535 {
				return Process{}, false
			}
			info.Port, portSet = port, true
		}
		if v, ok := flagValue(arg, "--user-data-dir"); ok {
			info.UserDataDir = v
		}
	}
	if !portSet {
		return Process{}, false
	}
	info.CmdLine = strings.Join(args, " ")
	return info, true
}

func isBrowser(exe string) bool {
	// Split on both separators so Windows paths work everywhere.
	base := exe[strings.LastIndexAny(exe, `/\`)+1:]
	return browserExecutables[strings.ToLower(base)]
}

func flagValue(arg, name string) (string, bool) {
	if !strings.HasPrefix(arg, name+"=") {
		return "", false
	}
	return strings.TrimPrefix(arg, name+"="), true
}
