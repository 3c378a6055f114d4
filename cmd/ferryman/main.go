package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marrowlabs/ferryman/internal/acp"
	"github.com/marrowlabs/ferryman/internal/config"
	"github.com/marrowlabs/ferryman/internal/inspect"
	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/maint"
	"github.com/marrowlabs/ferryman/internal/session"
	"github.com/marrowlabs/ferryman/internal/spawn"
	"github.com/marrowlabs/ferryman/internal/usage"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit()
			return
		case "--version", "-v":
			fmt.Printf("ferryman %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	runAdapter()
}

func printUsage() {
	fmt.Printf(`Ferryman %s - agent subprocess adapter

Usage: ferryman [command] [options]

Commands:
  (default)    Run the adapter on stdin/stdout
  init         Write a default ferryman.jsonc

Options:
  --config <path>    Config file (default: ./ferryman.jsonc, then ~/.ferryman/ferryman.jsonc)

The adapter speaks line-delimited JSON-RPC on stdout, so all
diagnostics go to stderr and the log file.
`, Version)
}

func configPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("FERRYMAN_CONFIG"); env != "" {
		return env, nil
	}
	if _, err := os.Stat("ferryman.jsonc"); err == nil {
		return "ferryman.jsonc", nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ferryman", "ferryman.jsonc"), nil
}

func runAdapter() {
	configFlag := flag.String("config", "", "Config file path")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ferryman %s\n", Version)
		os.Exit(0)
	}

	path, err := configPath(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\nRun 'ferryman init' to create a config.\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config %s: %v\n", path, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()

	for _, dir := range []string{cfg.DataDir, cfg.Agent.SessionDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	logger.Info("ferryman %s starting (config %s)", Version, path)

	var launcher spawn.Launcher
	switch cfg.Agent.Backend {
	case "docker":
		dl, err := spawn.NewDockerLauncher(cfg.Agent.ContainerID)
		if err != nil {
			logger.Fatalf("Failed to initialize docker launcher: %v", err)
		}
		defer func() { _ = dl.Close() }()
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := dl.Ping(pingCtx); err != nil {
			cancel()
			logger.Fatalf("Docker daemon not reachable: %v", err)
		}
		cancel()
		launcher = dl
	default:
		launcher = spawn.NewLocalLauncher()
	}
	logger.Info("agent backend: %s (%s)", launcher.Name(), cfg.Agent.Command)

	store, err := usage.NewStore(cfg.UsageDBPath())
	if err != nil {
		logger.Fatalf("Failed to open usage store: %v", err)
	}
	defer func() { _ = store.Close() }()

	srv := acp.NewServer(os.Stdin, os.Stdout, cfg.Capabilities.StatusUpdates)
	manager := session.NewManager(cfg, launcher, srv, store)
	srv.Bind(manager)

	if cfg.Inspect.Enabled {
		ins := inspect.NewServer(manager, store, Version)
		go func() {
			if err := ins.Serve(cfg.Inspect.Address); err != nil {
				logger.Error("inspect server: %v", err)
			}
		}()
	}

	runner := maint.NewRunner()
	if err := runner.Add("index-reconcile", cfg.Maintenance.IndexReconcile, func(ctx context.Context) error {
		return manager.ReconcileIndex()
	}); err != nil {
		logger.Fatalf("Invalid index_reconcile schedule: %v", err)
	}
	if err := runner.Add("usage-prune", cfg.Maintenance.UsageFlush, func(ctx context.Context) error {
		n, err := store.Prune(90 * 24 * time.Hour)
		if n > 0 {
			logger.Info("usage: pruned %d turns", n)
		}
		return err
	}); err != nil {
		logger.Fatalf("Invalid usage_flush schedule: %v", err)
	}
	runner.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run(ctx)
	}()

	select {
	case err := <-runErr:
		// Client closed stdin.
		cancel()
		manager.Shutdown()
		runner.Stop()
		if err != nil {
			logger.Error("server: %v", err)
			_ = store.Close()
			_ = logger.Close()
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("received signal %v, shutting down", sig)
		cancel()
		manager.Shutdown()
		runner.Stop()
	}
	logger.Info("ferryman stopped")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory to initialize (default: ~/.ferryman)")
	_ = fs.Parse(os.Args[2:])

	var baseDir string
	if *dirFlag != "" {
		abs, err := filepath.Abs(*dirFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid directory: %v\n", err)
			os.Exit(1)
		}
		baseDir = abs
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not determine home directory: %v\n", err)
			os.Exit(1)
		}
		baseDir = filepath.Join(home, ".ferryman")
	}

	configFile := filepath.Join(baseDir, "ferryman.jsonc")
	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("%s already exists.\n", configFile)
		fmt.Print("Overwrite? [y/N]: ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	for _, dir := range []string{baseDir, filepath.Join(baseDir, "data"), filepath.Join(baseDir, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	defaultConfig := `{
  // Ferryman configuration

  "agent": {
    // The agent binary to spawn per session. Required.
    "command": "",
    "args": [],

    // Extra environment entries, KEY=VALUE.
    "env": [],

    // "local" runs the agent directly; "docker" execs it inside
    // container_id.
    "backend": "local",
    "container_id": "",

    // Where the agent writes its JSONL transcripts.
    "session_dir": ""
  },

  "timeouts": {
    // Default per-request timeout against the agent.
    "request_ms": 5000,
    // History replay can be slow for long sessions.
    "replay_ms": 60000
  },

  // Pending-prompt heartbeat interval.
  "heartbeat_sec": 30,

  "capabilities": {
    // Synthetic status tool-call updates. Some clients reject
    // tool-call ids they never saw the agent create.
    "status_updates": false
  },

  "inspect": {
    // Read-only MCP listener with /health and /metrics.
    "enabled": false,
    "address": "127.0.0.1:9190"
  },

  "maintenance": {
    // Cron schedules for background jobs.
    "index_reconcile": "*/10 * * * *",
    "usage_flush": "0 * * * *"
  }
}
`
	if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", configFile, err)
		os.Exit(1)
	}

	fmt.Printf("Initialized %s\n", baseDir)
	fmt.Printf("Edit %s and set agent.command before running ferryman.\n", configFile)
}
