// Command mcpconn connects to the MCP servers described in a config file or
// directory, prints their status and tools, and optionally calls one tool.
//
// Usage:
//
//	# Source your .env file first if servers read tokens from the environment
//	source .env
//
//	# List every server and its tools
//	go run ./cmd/mcpconn/ -config servers.yaml
//
//	# Call a tool
//	go run ./cmd/mcpconn/ -config servers.yaml -call github/list_issues -args '{"repo":"jg-phare/mcpconn"}'
//
//	# Keep running and follow config changes
//	go run ./cmd/mcpconn/ -config ./mcp.d -watch -log-format json
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jg-phare/mcpconn/pkg/config"
	"github.com/jg-phare/mcpconn/pkg/mcp"
	"github.com/jg-phare/mcpconn/pkg/types"
)

func main() {
	// Flags
	configPath := flag.String("config", "mcp.yaml", "Config file or directory of config files")
	watch := flag.Bool("watch", false, "Keep running and reconcile servers when the config changes")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	call := flag.String("call", "", "Tool to call, as server/tool")
	args := flag.String("args", "{}", "Tool arguments as a JSON object")
	timeout := flag.Duration("timeout", 30*time.Second, "Connect and call timeout")
	envFile := flag.String("env", ".env", "Path to .env file (empty to skip)")
	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	servers, err := loadServers(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/mcpconn/ -config servers.yaml")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := mcp.NewRegistry(mcp.WithLogger(logger))
	reg.OnAny(printEvent)

	connectCtx, cancel := context.WithTimeout(ctx, *timeout)
	result := reg.SetServers(connectCtx, servers)
	cancel()
	for id, msg := range result.Errors {
		fmt.Printf("[%s] %s\n", id, msg)
	}

	fmt.Println(strings.Repeat("-", 60))
	printStatuses(ctx, reg, *timeout)

	exit := 0
	if *call != "" {
		if err := callTool(ctx, reg, *call, *args, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exit = 1
		}
	}

	if *watch {
		fmt.Printf("Watching %s (Ctrl+C to stop)\n", *configPath)
		err := config.Watch(ctx, *configPath, func(servers map[string]types.ServerConfig, err error) {
			if err != nil {
				logger.Error("config reload failed", "err", err)
				return
			}
			res := reg.SetServers(ctx, servers)
			logger.Info("config reloaded", "added", res.Added, "removed", res.Removed, "updated", res.Updated, "errors", len(res.Errors))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exit = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}

	g := reg.GlobalStats()
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Servers: %d | Messages: %d | Errors: %d\n", g.TotalConnections, g.TotalMessages, g.TotalErrors)
	os.Exit(exit)
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid -log-format %q (want text or json)", format)
	}
}

func loadServers(path string) (map[string]types.ServerConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return config.LoadDir(path, "")
	}
	return config.Load(path)
}

func printEvent(ev mcp.Event) {
	switch ev.Type {
	case mcp.EventConnected:
		fmt.Printf("[%s] connected\n", ev.ServerID)
	case mcp.EventDisconnected:
		fmt.Printf("[%s] disconnected: %s\n", ev.ServerID, ev.Reason)
	case mcp.EventError:
		fmt.Printf("[%s] error: %v\n", ev.ServerID, ev.Err)
	case mcp.EventReconnecting:
		fmt.Printf("[%s] reconnecting (attempt %d)\n", ev.ServerID, ev.Attempt)
	case mcp.EventToolsChanged:
		fmt.Printf("[%s] tool list changed\n", ev.ServerID)
	case mcp.EventProgress:
		fmt.Printf("[%s] progress %.0f/%.0f %s\n", ev.ServerID, ev.Progress.Progress, ev.Progress.Total, ev.Progress.Message)
	}
}

func printStatuses(ctx context.Context, reg *mcp.Registry, timeout time.Duration) {
	for _, s := range reg.Statuses() {
		line := fmt.Sprintf("%-20s %-12s %s", s.ID, s.Status, s.Type)
		if s.ServerInfo != nil {
			line += fmt.Sprintf("  %s %s (protocol %s)", s.ServerInfo.Name, s.ServerInfo.Version, s.ProtocolVersion)
		}
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)

		if s.Status != mcp.StatusConnected || s.Capabilities == nil || s.Capabilities.Tools == nil {
			continue
		}
		listCtx, cancel := context.WithTimeout(ctx, timeout)
		tools, err := reg.ListTools(listCtx, s.ID)
		cancel()
		if err != nil {
			fmt.Printf("    tools: %v\n", err)
			continue
		}
		for _, t := range tools {
			fmt.Printf("    %-30s %s\n", t.Name, truncate(t.Description, 60))
		}
	}
}

func callTool(ctx context.Context, reg *mcp.Registry, target, rawArgs string, timeout time.Duration) error {
	server, tool, ok := strings.Cut(target, "/")
	if !ok {
		return fmt.Errorf("-call must be server/tool, got %q", target)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Errorf("-args: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := reg.CallTool(ctx, server, tool, args)
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("-", 60))
	if res.IsError {
		fmt.Println("[tool error]")
	}
	fmt.Println(res.Text())
	if len(res.StructuredContent) > 0 {
		fmt.Println(string(res.StructuredContent))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// loadEnvFile reads a .env file and sets environment variables (won't overwrite existing).
// Spawned servers inherit them.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // silently skip if no .env
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}
