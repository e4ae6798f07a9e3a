// Command earshot is the wearable transcription daemon: it captures audio,
// suppresses noise, transcribes speech, raises keyword alerts, and keeps the
// transcript archived and synced.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/earshotlabs/earshot/internal/app"
	"github.com/earshotlabs/earshot/internal/config"
	"github.com/earshotlabs/earshot/internal/observe"
	"github.com/earshotlabs/earshot/pkg/device"
)

const version = "0.4.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "earshot.yaml", "path to the YAML configuration file")
	demo := flag.Bool("demo", false, "run without hardware: synthetic audio, console display, temp database")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var cfg *config.Config
	if *demo {
		cfg = demoConfig()
	} else {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started, or try -demo\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// swapping the handler.
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"demo", *demo,
		"device", cfg.Audio.Device,
		"engine", cfg.Engine.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	var opts []app.Option
	if *demo {
		opts = append(opts,
			app.WithDisplay(&consoleDisplay{out: os.Stdout}),
			app.WithHaptic(device.NopHaptic{}),
		)
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise pipeline", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if !*demo {
		watcher, werr := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if old.LogLevel != new.LogLevel {
				level.Set(new.LogLevel.Level())
				slog.Info("log level changed", "level", new.LogLevel)
			}
			application.ApplyConfig(old, new)
		})
		if werr != nil {
			slog.Warn("config watcher disabled", "err", werr)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)
	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Demo mode ─────────────────────────────────────────────────────────────────

// demoConfig returns a configuration for running on a development machine:
// synthetic audio instead of a microphone, no panel or motor hardware, and a
// database in the temp directory.
func demoConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.Device = config.DeviceSynth
	disabled := false
	cfg.Display.Enabled = &disabled
	cfg.Haptic.Enabled = &disabled
	cfg.Storage.Path = filepath.Join(os.TempDir(), "earshot-demo.db")
	cfg.ListenAddr = "localhost:8080"
	return cfg
}

// consoleDisplay satisfies [device.Display] by printing the transcript to
// stdout. It prints only when the text changed, so the fixed refresh interval
// does not flood the terminal.
type consoleDisplay struct {
	out  io.Writer
	buf  string
	last string
}

func (c *consoleDisplay) Clear() { c.buf = "" }

func (c *consoleDisplay) ShowText(text string) { c.buf = text }

func (c *consoleDisplay) Update() error {
	if c.buf == "" || c.buf == c.last {
		return nil
	}
	c.last = c.buf
	_, err := fmt.Fprintf(c.out, "» %s\n", c.buf)
	return err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Earshot — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", fmt.Sprintf("%s @ %d Hz", cfg.Audio.Device, cfg.Audio.SampleRate))
	printRow("Engine", fmt.Sprintf("%s / %s", cfg.Engine.Name, cfg.Engine.Language))
	printRow("Suppressor", onOff(cfg.Suppressor.IsEnabled()))
	printRow("Keywords", vocabSummary(cfg.Keywords.Words))
	printRow("Display", onOff(cfg.Display.IsEnabled()))
	printRow("Haptic", onOff(cfg.Haptic.IsEnabled()))
	printRow("Companion", configuredOrNot(cfg.Sync.CompanionURL))
	printRow("Uplink", onOff(cfg.Sync.UplinkEnabled))
	printRow("Storage", cfg.Storage.Path)
	if cfg.ListenAddr != "" {
		printRow("Listen addr", cfg.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func configuredOrNot(v string) string {
	if v == "" {
		return "(not configured)"
	}
	return "configured"
}

func vocabSummary(words []string) string {
	if len(words) == 0 {
		return "default vocabulary"
	}
	return fmt.Sprintf("%d words", len(words))
}
