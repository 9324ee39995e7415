// hearthd is the dashboard host daemon. It discovers widgets, runs the
// update scheduler and worker supervisor, and serves the ops API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hearthboard/hearth/internal/api"
	"github.com/hearthboard/hearth/internal/config"
	"github.com/hearthboard/hearth/internal/events"
	"github.com/hearthboard/hearth/internal/lock"
	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/manifest"
	"github.com/hearthboard/hearth/internal/runtime"
	"github.com/hearthboard/hearth/internal/supervisor"
	"github.com/hearthboard/hearth/internal/tui"
	"github.com/hearthboard/hearth/internal/updates"
	"github.com/hearthboard/hearth/internal/widget"
	"github.com/hearthboard/hearth/internal/widget/builtin"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

const healthCheckInterval = 2 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "widgets":
		return runWidgets(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to hearth.yaml")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("hearthd starting", "version", version, "service", cfg.Service.Name)

	// One host per base port, or worker endpoint allocation collides.
	lockPath := filepath.Join(os.TempDir(), fmt.Sprintf("hearthd-%d.lock", cfg.Supervisor.BasePort))
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	hub := events.NewHub(256)

	factories := widget.NewRegistry()
	if err := builtin.Register(factories); err != nil {
		logger.Error("failed to register built-in widgets", "error", err)
		return 1
	}

	widgets, err := manifest.DiscoverMany(cfg.Widgets.Roots)
	if err != nil {
		logger.Warn("widget discovery skipped", "roots", cfg.Widgets.Roots, "error", err)
		widgets = manifest.NewRegistry()
	}
	logger.Info("widget discovery complete", "count", len(widgets.All()))

	sup := supervisor.New(cfg.Supervisor.BasePort, hub)
	sched := updates.New(hub)
	sched.SetTickInterval(cfg.Service.TickInterval())
	manager := runtime.New(runtime.Options{
		Factories:         factories,
		Widgets:           widgets,
		Runner:            sup,
		Scheduler:         sched,
		WorkerBin:         cfg.Supervisor.WorkerBin,
		ThrottleOverrides: cfg.Throttle,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go sched.Start(ctx)

	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sup.CheckHealth()
			}
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{Listen: cfg.API.Listen}, manager, widgets, sup, hub)
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("api server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("hearthd running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	cancel()
	manager.Shutdown()
	sup.ShutdownAll()
	logger.Info("hearthd stopped")
	return exitCode
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8090", "Host API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := tui.NewMonitor(*apiURL)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runWidgets(args []string) int {
	fs := flag.NewFlagSet("widgets", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to hearth.yaml")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	log.Setup("error", "text")
	widgets, err := manifest.DiscoverMany(cfg.Widgets.Roots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Widget discovery failed: %v\n", err)
		return 1
	}

	factories := widget.NewRegistry()
	_ = builtin.Register(factories)

	if *jsonOut {
		out := struct {
			Builtin    []string           `json:"builtin"`
			Discovered []*manifest.Widget `json:"discovered"`
		}{factories.IDs(), widgets.All()}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Println("Built-in widgets:")
	for _, id := range factories.IDs() {
		fmt.Printf("  %s\n", id)
	}
	fmt.Println("Discovered widgets:")
	if len(widgets.All()) == 0 {
		fmt.Println("  (none)")
	}
	for _, w := range widgets.All() {
		fmt.Printf("  %-16s %-8s v%-10s %s\n", w.ID, w.Execution, w.Version, w.Description)
	}
	return 0
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		commit = "unknown"
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]string{
			"version": version,
			"commit":  commit,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hearthd %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	return 0
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hearthd - dashboard widget host

Usage:
  hearthd <command> [flags]

Commands:
  start      Start the host daemon in foreground
  watch      Real-time monitoring TUI (requires api.enabled)
  widgets    List built-in and discovered widgets
  version    Show version information
  help       Show this help message

Flags for start/widgets:
  --config PATH   Path to hearth.yaml (defaults apply when omitted)

Flags for watch:
  --api-url URL   Host API URL (default: http://127.0.0.1:8090)
`)
}
