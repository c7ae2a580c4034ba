// cmd/cardmaskd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/colebrumley/cardmask/internal/daemon"
	"github.com/colebrumley/cardmask/internal/mcp"
)

func main() {
	configPath := config.ConfigPath()
	if loaded, err := config.LoadDotEnv(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	} else if loaded {
		fmt.Fprintf(os.Stderr, "loaded environment from .env\n")
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "mcp-server":
			runMCPServer(configPath)
			return
		case "mcp-http-server":
			runMCPHTTPServer(configPath)
			return
		}
	}

	runDaemon(configPath)
}

// loadGlobal reads the config file, or the defaults when there is none.
func loadGlobal(configPath string) *config.Global {
	cfg, err := config.LoadGlobal(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMCPServer(configPath string) {
	cfg := loadGlobal(configPath)

	server, err := mcp.NewServer(config.ExpandHome(cfg.State.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating MCP server: %v\n", err)
		os.Exit(1)
	}
	defer server.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func runMCPHTTPServer(configPath string) {
	cfg := loadGlobal(configPath)
	addr := cfg.Daemon.ListenAddress + ":" + strconv.Itoa(cfg.MCP.ListenPort)

	server, err := mcp.NewServer(config.ExpandHome(cfg.State.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating MCP server: %v\n", err)
		os.Exit(1)
	}
	defer server.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stderr, "MCP HTTP server listening on %s\n", addr)
	if err := server.RunHTTP(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "MCP HTTP server error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string) {
	d := daemon.New(configPath, config.JobsDir())

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon error: %v\n", err)
		os.Exit(1)
	}
}
