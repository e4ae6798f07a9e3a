// Package app wires the earshot subsystems into a running wearable pipeline.
//
// The App struct owns the full lifecycle: New creates and connects every
// stage, Run executes the five pipeline loops (capture, display, persistence,
// connectivity, power), and Shutdown tears everything down in order.
//
// For testing, inject fake implementations via functional options
// (WithSource, WithTranscriber, etc.). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/earshotlabs/earshot/internal/config"
	"github.com/earshotlabs/earshot/internal/health"
	"github.com/earshotlabs/earshot/internal/observe"
	"github.com/earshotlabs/earshot/internal/resilience"
	"github.com/earshotlabs/earshot/internal/store"
	"github.com/earshotlabs/earshot/pkg/capture"
	capmalgo "github.com/earshotlabs/earshot/pkg/capture/malgo"
	"github.com/earshotlabs/earshot/pkg/capture/synth"
	"github.com/earshotlabs/earshot/pkg/device"
	"github.com/earshotlabs/earshot/pkg/device/battery"
	"github.com/earshotlabs/earshot/pkg/device/gpio"
	"github.com/earshotlabs/earshot/pkg/device/link"
	"github.com/earshotlabs/earshot/pkg/device/oled"
	"github.com/earshotlabs/earshot/pkg/keyword"
	"github.com/earshotlabs/earshot/pkg/stt"
	"github.com/earshotlabs/earshot/pkg/suppress"
	"github.com/earshotlabs/earshot/pkg/suppress/spectral"
	"github.com/earshotlabs/earshot/pkg/transcript"
	"github.com/earshotlabs/earshot/pkg/types"
)

// Transcriber is the slice of [stt.Engine] the pipeline calls. It exists so
// tests can substitute a scripted transcriber.
type Transcriber interface {
	Init(ctx context.Context) error
	Initialized() bool
	Variant() stt.Variant
	Transcribe(ctx context.Context, frame types.AudioFrame) (string, error)
	SetLanguage(code string)
	Close() error
}

var _ Transcriber = (*stt.Engine)(nil)

// configUpdate pairs a reloaded config with its diff. The capture loop
// consumes at most one per iteration; a reload arriving before the previous
// one was applied simply replaces it.
type configUpdate struct {
	cfg  *config.Config
	diff config.ConfigDiff
}

// App owns all subsystem lifetimes and coordinates the audio pipeline.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Collaborators — created in New from config unless injected.
	source     capture.Source
	suppressor suppress.Suppressor
	engine     Transcriber
	matcher    *keyword.Matcher
	phonetic   *keyword.Phonetic
	history    *transcript.Log
	display    device.Display
	haptic     device.Haptic
	storage    device.Storage
	companion  device.Companion
	uplink     device.Uplink
	power      device.Power

	// store is the concrete database handle when New opened it itself; used
	// for health pings and retention pruning. Nil when storage was injected.
	store *store.Store

	state      *State
	hysteresis battery.Hysteresis
	engineName string

	engineBreaker  *resilience.CircuitBreaker
	backlogBreaker *resilience.CircuitBreaker
	syncGroup      *resilience.FallbackGroup[pusher]
	reopenRetry    resilience.RetryConfig

	// pending holds the latest staged configuration change.
	pending atomic.Pointer[configUpdate]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of opening an audio device.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSuppressor injects a noise suppressor instead of building the spectral
// one from config.
func WithSuppressor(s suppress.Suppressor) Option {
	return func(a *App) { a.suppressor = s }
}

// WithTranscriber injects a transcription engine instead of creating one from
// config.
func WithTranscriber(t Transcriber) Option {
	return func(a *App) { a.engine = t }
}

// WithHistory injects the transcript log, letting tests control its clock.
func WithHistory(l *transcript.Log) Option {
	return func(a *App) { a.history = l }
}

// WithDisplay injects a display instead of opening the OLED panel.
func WithDisplay(d device.Display) Option {
	return func(a *App) { a.display = d }
}

// WithHaptic injects a haptic driver instead of claiming the motor pin.
func WithHaptic(h device.Haptic) Option {
	return func(a *App) { a.haptic = h }
}

// WithStorage injects transcript storage instead of opening the database.
func WithStorage(s device.Storage) Option {
	return func(a *App) { a.storage = s }
}

// WithCompanion injects the companion link instead of creating one from
// config.
func WithCompanion(c device.Companion) Option {
	return func(a *App) { a.companion = c }
}

// WithUplink injects the backup uplink instead of creating one from config.
func WithUplink(u device.Uplink) Option {
	return func(a *App) { a.uplink = u }
}

// WithPower injects a battery reader instead of opening the sysfs supply.
func WithPower(p device.Power) Option {
	return func(a *App) { a.power = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all pipeline stages together. Use Option
// functions to inject test doubles for any stage.
//
// Hardware that is present but broken degrades instead of failing New: a
// missing display or motor pin downgrades to a no-op, a missing battery
// supply disables power management, and a transcription model that fails to
// load is retried from the capture loop. Only the capture device and the
// transcript database are load-bearing enough to make construction fail.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		state:   NewState(),
	}
	for _, o := range opts {
		o(a)
	}

	a.hysteresis = battery.Hysteresis{Enter: cfg.Power.LowEnter, Exit: cfg.Power.LowExit}
	if a.hysteresis.Enter == 0 && a.hysteresis.Exit == 0 {
		a.hysteresis = battery.DefaultHysteresis
	}

	// ── 1. Capture source ────────────────────────────────────────────────
	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init capture source: %w", err)
	}

	// ── 2. Noise suppressor ──────────────────────────────────────────────
	if err := a.initSuppressor(); err != nil {
		return nil, fmt.Errorf("app: init suppressor: %w", err)
	}

	// ── 3. Transcription engine ──────────────────────────────────────────
	a.initEngine(ctx)

	// ── 4. Keyword matchers ──────────────────────────────────────────────
	a.initKeywords()

	// ── 5. Transcript history ────────────────────────────────────────────
	if a.history == nil {
		a.history = transcript.NewLog(transcript.DefaultCapacity)
	}

	// ── 6. Display + haptic ──────────────────────────────────────────────
	a.initDisplay()
	a.initHaptic()

	// ── 7. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 8. Off-device links + battery ────────────────────────────────────
	a.initLinks()
	a.initPower()

	// ── 9. Resilience ────────────────────────────────────────────────────
	a.engineBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "engine-init"})
	a.backlogBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "uplink-backlog"})
	a.initSyncGroup()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSource opens the configured capture device. No microphone means no
// pipeline, so failure here is fatal.
func (a *App) initSource() error {
	if a.source == nil {
		cc := capture.Config{
			SampleRate: a.cfg.Audio.SampleRate,
			Channels:   a.cfg.Audio.Channels,
			Gain:       a.cfg.Audio.Gain,
		}
		var (
			src capture.Source
			err error
		)
		switch a.cfg.Audio.Device {
		case config.DeviceSynth:
			src, err = synth.Open(cc)
		default:
			src, err = capmalgo.Open(cc)
		}
		if err != nil {
			return err
		}
		a.source = src
		a.closers = append(a.closers, src.Close)
	}

	slog.Info("capture source ready",
		"device", a.cfg.Audio.Device,
		"sample_rate", a.source.SampleRate(),
		"channels", a.source.Channels())
	return nil
}

// initSuppressor builds the spectral subtraction stage. The suppressor is
// constructed even when suppression starts disabled, so a later config reload
// can switch it on without rebuilding the pipeline.
func (a *App) initSuppressor() error {
	if a.suppressor != nil {
		return nil
	}
	sup, err := spectral.New(spectral.Config{
		WindowSize:     a.cfg.Suppressor.WindowSize,
		ReductionLevel: a.cfg.Suppressor.ReductionLevel,
		Adaptive:       a.cfg.Suppressor.IsAdaptive(),
		SilenceRMS:     a.cfg.Suppressor.SilenceRMS,
	})
	if err != nil {
		return err
	}
	a.suppressor = sup
	return nil
}

// initEngine constructs the transcription engine and makes a first
// initialization attempt. A failure (typically a missing model file) is not
// fatal — the capture loop retries through its circuit breaker.
func (a *App) initEngine(ctx context.Context) {
	if a.engine == nil {
		eng := stt.New(stt.Config{
			Engine:     a.cfg.Engine.Name,
			Language:   a.cfg.Engine.Language,
			ModelPath:  a.cfg.Engine.ModelPath,
			Command:    a.cfg.Engine.Command,
			SampleRate: a.cfg.Engine.SampleRate,
		})
		a.engine = eng
		a.closers = append(a.closers, eng.Close)
	}
	a.engineName = string(a.engine.Variant())
	a.state.SetLanguage(a.cfg.Engine.Language)

	if err := a.engine.Init(ctx); err != nil {
		slog.Warn("transcription engine not ready, the capture loop will retry",
			"engine", a.engineName, "error", err)
		return
	}
	a.state.SetEngineReady(true)
	slog.Info("transcription engine ready", "engine", a.engineName)
}

// initKeywords builds the alert matchers from the configured vocabulary.
func (a *App) initKeywords() {
	a.matcher = keyword.New(a.cfg.Keywords.Words)
	if a.cfg.Keywords.Phonetic {
		a.phonetic = keyword.NewPhonetic(a.cfg.Keywords.Words,
			keyword.WithThreshold(a.cfg.Keywords.PhoneticThreshold))
	}
	slog.Info("alert vocabulary loaded",
		"words", len(a.matcher.Vocabulary()),
		"phonetic", a.cfg.Keywords.Phonetic)
}

// initDisplay brings up the OLED panel. A panel that is disabled or fails to
// open downgrades to a no-op display; the pipeline keeps transcribing.
func (a *App) initDisplay() {
	if a.display != nil {
		return
	}
	if !a.cfg.Display.IsEnabled() {
		a.display = device.NopDisplay{}
		return
	}
	d, err := oled.Open(oled.Config{
		Bus:     a.cfg.Display.Bus,
		Width:   a.cfg.Display.Width,
		Height:  a.cfg.Display.Height,
		Rotated: a.cfg.Display.Rotated,
	})
	if err != nil {
		slog.Warn("display unavailable, continuing without panel", "error", err)
		a.display = device.NopDisplay{}
		return
	}
	a.display = d
	a.closers = append(a.closers, d.Close)
}

// initHaptic claims the vibration motor pin with the same degrade policy as
// the display.
func (a *App) initHaptic() {
	if a.haptic != nil {
		return
	}
	if !a.cfg.Haptic.IsEnabled() {
		a.haptic = device.NopHaptic{}
		return
	}
	h, err := gpio.Open(a.cfg.Haptic.Pin)
	if err != nil {
		slog.Warn("haptic motor unavailable, continuing without alerts", "error", err)
		a.haptic = device.NopHaptic{}
		return
	}
	a.haptic = h
	a.closers = append(a.closers, h.Close)
}

// initStorage opens the transcript database. The archive is the device's
// reason to exist, so failure is fatal.
func (a *App) initStorage(ctx context.Context) error {
	if a.storage != nil {
		return nil
	}
	st, err := store.Open(ctx, store.Config{
		Path:          a.cfg.Storage.Path,
		RetentionDays: a.cfg.Storage.RetentionDays,
	}, slog.Default())
	if err != nil {
		return err
	}
	a.storage = st
	a.store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

// initLinks creates the companion link (when a URL is configured) and the
// backup uplink. Both dial lazily, so construction never blocks.
func (a *App) initLinks() {
	if a.companion == nil && a.cfg.Sync.CompanionURL != "" {
		c := link.NewCompanion(link.CompanionConfig{
			URL:   a.cfg.Sync.CompanionURL,
			Token: a.cfg.Sync.Token,
		})
		a.companion = c
		a.closers = append(a.closers, c.Close)
	}
	if a.uplink == nil {
		u := link.NewUplink(link.UplinkConfig{
			Enabled: a.cfg.Sync.UplinkEnabled,
			URL:     a.cfg.Sync.NATSURL,
			Subject: a.cfg.Sync.BackupSubject,
		})
		a.uplink = u
		a.closers = append(a.closers, u.Close)
	}
}

// initPower opens the sysfs battery supply. Without one (bench setups, the
// demo) the power loop stays idle and the device never enters low-power mode.
func (a *App) initPower() {
	if a.power != nil {
		return
	}
	p, err := battery.OpenSysfs(a.cfg.Power.Supply)
	if err != nil {
		slog.Warn("battery monitor unavailable, power management disabled", "error", err)
		return
	}
	a.power = p
}

// initSyncGroup builds the failover chain for live transcript pushes:
// companion first, uplink as fallback. With neither configured the group is
// nil and the connectivity loop only drains the backlog (or stays idle).
func (a *App) initSyncGroup() {
	uplinkActive := a.uplink != nil && a.uplink.IsEnabled()
	switch {
	case a.companion != nil:
		a.syncGroup = resilience.NewFallbackGroup[pusher](a.pushToCompanion, "companion", resilience.FallbackConfig{})
		if uplinkActive {
			a.syncGroup.AddFallback("uplink", a.pushToUplink)
		}
	case uplinkActive:
		a.syncGroup = resilience.NewFallbackGroup[pusher](a.pushToUplink, "uplink", resilience.FallbackConfig{})
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the five pipeline loops and, when a listen address is
// configured, the HTTP ops endpoints. It blocks until ctx is cancelled or a
// loop fails hard, and returns the context error on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.opsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("ops endpoints listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("ops server shutdown", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return a.runCaptureLoop(ctx) })
	g.Go(func() error { return a.runDisplayLoop(ctx) })
	g.Go(func() error { return a.runPersistenceLoop(ctx) })
	g.Go(func() error { return a.runConnectivityLoop(ctx) })
	g.Go(func() error { return a.runPowerLoop(ctx) })

	slog.Info("pipeline running",
		"engine", a.engineName,
		"sample_rate", a.source.SampleRate(),
		"channels", a.source.Channels(),
		"frame", a.cfg.Audio.FrameDuration())

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// opsHandler assembles the HTTP handler for /metrics, /healthz, /readyz and
// /statusz, wrapped in the tracing middleware.
func (a *App) opsHandler() http.Handler {
	mux := http.NewServeMux()
	h := health.New(a.Status, a.healthCheckers()...)
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// healthCheckers returns the readiness checks: database reachability, engine
// readiness, and a live capture loop.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "store", Check: a.store.Ping})
	}
	checkers = append(checkers,
		health.Checker{Name: "engine", Check: func(context.Context) error {
			if !a.state.EngineReady() {
				return errors.New("transcription engine not initialized")
			}
			return nil
		}},
		health.Checker{Name: "capture", Check: func(context.Context) error {
			if p := a.state.capture.Phase(); p != PhaseRunning {
				return fmt.Errorf("capture loop is %s", p)
			}
			return nil
		}},
	)
	return checkers
}

// Status returns the point-in-time snapshot served by /statusz.
func (a *App) Status() health.Status {
	return health.Status{
		Engine:      a.engineName,
		Language:    a.state.Language(),
		LowPower:    a.state.LowPower(),
		Battery:     a.state.Battery(),
		Loops:       a.state.LoopPhases(),
		Transcripts: a.history.Len(),
		LastSeq:     a.history.LastSeq(),
		Uptime:      a.state.Uptime().Round(time.Second).String(),
	}
}

// ApplyConfig stages a reloaded configuration for the pipeline. The
// hot-applicable changes (gain, suppressor settings, vocabulary, language)
// are picked up by the capture loop at the top of its next iteration;
// everything else requires a restart. The log level is handled by the caller,
// which owns the level var.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	diff := config.Diff(oldCfg, newCfg)
	if !diff.Any() {
		slog.Debug("configuration reloaded with no pipeline changes")
		return
	}
	a.pending.Store(&configUpdate{cfg: newCfg, diff: diff})
	slog.Info("configuration changes staged",
		"gain", diff.GainChanged,
		"suppressor", diff.SuppressorChanged,
		"keywords", diff.KeywordsChanged,
		"language", diff.LanguageChanged)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. Closers run in registration order —
// the audio source first so no new frames arrive, the database last so every
// stage ahead of it can still flush. Shutdown respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
