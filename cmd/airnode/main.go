// Airnode is a single-sensor environment node.
//
// It samples a temperature/humidity sensor on a fixed cadence,
// publishes readings to an MQTT bus, and serves a small HTTP status
// page through which the bus endpoint can be changed at runtime.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	airnode serve            Start the node
//	airnode read             Take a single sensor reading and print it
//	airnode version          Print version and build information
//	airnode -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fernhollow/airnode/internal/buildinfo"
	"github.com/fernhollow/airnode/internal/config"
	"github.com/fernhollow/airnode/internal/endpoint"
	"github.com/fernhollow/airnode/internal/history"
	"github.com/fernhollow/airnode/internal/messaging"
	"github.com/fernhollow/airnode/internal/node"
	"github.com/fernhollow/airnode/internal/sensor"
	"github.com/fernhollow/airnode/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the airnode command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any
// failure. The caller (main) is responsible for printing the error and
// exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "read":
		return runRead(ctx, stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// airnode is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Airnode - single-sensor environment node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: airnode [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the node")
	fmt.Fprintln(w, "  read         Take a single sensor reading and print it")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./airnode.yaml, ~/.config/airnode/airnode.yaml, /etc/airnode/airnode.yaml")
	return nil
}

// runRead handles the "airnode read" subcommand. It takes a single
// sensor reading and prints it, without touching the bus or any
// persistent state. Useful for hardware bring-up and debugging.
func runRead(ctx context.Context, stdout io.Writer, configPath string, outputFmt string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	bus := &sensor.IIOBus{
		TempPath:     cfg.Sensor.TempPath,
		HumidityPath: cfg.Sensor.HumidityPath,
	}
	sampler := sensor.NewSampler(bus, logger)

	sampleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reading, err := sampler.Sample(sampleCtx)
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
			"captured_at": reading.CapturedAt.Format(time.RFC3339),
		})
	}
	fmt.Fprintf(stdout, "temperature: %.1f °C\n", reading.Temperature)
	fmt.Fprintf(stdout, "humidity:    %.1f %%\n", reading.Humidity)
	return nil
}

// runServe handles the "airnode serve" subcommand. It is the primary
// operating mode: loads config, opens the endpoint and history stores,
// starts the bus supervisor and the sampler, serves the HTTP status
// page, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The bus connection and history database are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting airnode", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured level and
	// format.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// ParseLogLevel is already validated by config.Validate(),
			// so this error path should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"sample_interval_sec", cfg.Sensor.SampleIntervalSec,
	)

	// --- Signal handling ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components,
	// including the network wait below.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Data directory ---
	// All persistent state (bus endpoint, node id, reading history)
	// lives under this directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Identity ---
	// The node identifies itself by its primary MAC address, falling
	// back to a generated id persisted in the data directory.
	ident, err := node.DeriveIdentity(cfg.DataDir, cfg.NodeName)
	if err != nil {
		return fmt.Errorf("derive node identity: %w", err)
	}
	logger.Info("node identity", "id", ident.ID, "name", ident.Name)

	// --- Bus endpoint store ---
	// One-line file holding the configured bus address. A missing or
	// unreadable file yields the factory default.
	endpointStore := endpoint.NewStore(cfg.DataDir)
	busAddr := endpointStore.Read()
	logger.Info("bus endpoint loaded", "endpoint", busAddr, "path", endpointStore.Path())

	// --- Reading history ---
	// Bounded SQLite archive of recent readings, shown on the status
	// page.
	histPath := cfg.DataDir + "/history.db"
	hist, err := history.NewStore(histPath, cfg.History.Keep)
	if err != nil {
		return fmt.Errorf("open history database %s: %w", histPath, err)
	}
	defer hist.Close()
	logger.Info("history database opened", "path", histPath, "keep", cfg.History.Keep)

	// --- Sensor ---
	iioBus := &sensor.IIOBus{
		TempPath:     cfg.Sensor.TempPath,
		HumidityPath: cfg.Sensor.HumidityPath,
	}
	sampler := sensor.NewSampler(iioBus, logger)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	busMetrics := messaging.NewMetrics(reg)
	nodeMetrics := node.NewMetrics(reg)

	// --- Bus client ---
	// Forward-declare nd and client so the Describe closure can
	// reference both. The closure captures by pointer; nothing
	// connects to the bus before the node is constructed below.
	var nd *node.Node
	var client *messaging.Client

	client = messaging.New(messaging.Config{
		Endpoint: busAddr,
		ClientID: ident.ID,
		Username: cfg.Bus.Username,
		Password: cfg.Bus.Password,
		Describe: func() any {
			return nd.SelfDescription(client.Endpoint(), buildinfo.Version)
		},
		Backoff: messaging.DefaultBackoff(),
		Logger:  logger,
		Metrics: busMetrics,
	})

	// --- Node ---
	interval := time.Duration(cfg.Sensor.SampleIntervalSec) * time.Second
	nd = node.New(ident, sampler, client, hist, interval, logger, nodeMetrics)

	// --- Network provisioning ---
	// Block until the host has a usable address. On first boot the
	// node may come up before the network does.
	if err := node.WaitForNetwork(ctx, node.LinkJoiner{}, logger); err != nil {
		return fmt.Errorf("wait for network: %w", err)
	}

	// --- Background tasks ---
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bus supervisor stopped", "error", err)
		}
	}()
	go func() {
		if err := nd.RunSampler(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sampler stopped", "error", err)
		}
	}()
	go node.RunUpdater(ctx, node.LogUpdater{Logger: logger},
		time.Duration(cfg.Updater.PollIntervalSec)*time.Second, logger)

	// --- HTTP server ---
	server := web.NewServer(cfg.Listen.Address, cfg.Listen.Port, nd, client, endpointStore, hist, reg, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
	}()

	// Start the HTTP server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("airnode stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in airnode goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
