package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/earshotlabs/earshot/internal/config"
	"github.com/earshotlabs/earshot/internal/health"
	"github.com/earshotlabs/earshot/internal/resilience"
	"github.com/earshotlabs/earshot/pkg/capture"
	"github.com/earshotlabs/earshot/pkg/stt"
	"github.com/earshotlabs/earshot/pkg/transcript"
	"github.com/earshotlabs/earshot/pkg/types"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeSource struct {
	mu        sync.Mutex
	captures  int
	gain      float64
	failNext  bool
	failAll   bool
	reopens   int
	reopenErr error
	closed    bool
}

func (f *fakeSource) CaptureFrame(d time.Duration) (types.AudioFrame, error) {
	time.Sleep(d)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.failAll || f.failNext {
		f.failNext = false
		return types.AudioFrame{}, capture.ErrDeviceFailure
	}
	return types.AudioFrame{
		Samples:    make([]int16, 16),
		SampleRate: 16000,
		Channels:   1,
	}, nil
}

func (f *fakeSource) SetGain(gain float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = gain
}

func (f *fakeSource) SetSampleRate(int) error { return nil }

func (f *fakeSource) Reopen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopens++
	if f.reopenErr != nil {
		return f.reopenErr
	}
	f.failAll = false
	return nil
}

func (f *fakeSource) SampleRate() int { return 16000 }
func (f *fakeSource) Channels() int   { return 1 }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) reopenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reopens
}

func (f *fakeSource) gainValue() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

type fakeTranscriber struct {
	mu          sync.Mutex
	script      []string
	idx         int
	initErr     error
	initialized bool
	language    string
	closed      bool
}

func (f *fakeTranscriber) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakeTranscriber) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *fakeTranscriber) Variant() stt.Variant { return stt.Whisper }

func (f *fakeTranscriber) Transcribe(context.Context, types.AudioFrame) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < len(f.script) {
		text := f.script[f.idx]
		f.idx++
		return text, nil
	}
	return "", nil
}

func (f *fakeTranscriber) SetLanguage(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.language = code
}

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTranscriber) setScript(texts []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = texts
	f.idx = 0
}

func (f *fakeTranscriber) currentLanguage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.language
}

func (f *fakeTranscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDisplay struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeDisplay) Clear() {}

func (f *fakeDisplay) ShowText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
}

func (f *fakeDisplay) Update() error { return nil }

func (f *fakeDisplay) shown(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.texts, text)
}

type fakeHaptic struct {
	mu     sync.Mutex
	pulses []time.Duration
}

func (f *fakeHaptic) TriggerVibration(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulses = append(f.pulses, d)
	return nil
}

func (f *fakeHaptic) pulseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulses)
}

type savedRow struct {
	at   time.Time
	text string
}

type fakeStorage struct {
	mu        sync.Mutex
	rows      []savedRow
	saveErrs  []error
	unsynced  []string
	markCalls int
}

func (f *fakeStorage) SaveTranscription(_ context.Context, at time.Time, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	f.rows = append(f.rows, savedRow{at: at, text: text})
	return nil
}

func (f *fakeStorage) UnsyncedTranscriptions(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.unsynced), nil
}

func (f *fakeStorage) MarkTranscriptionsSynced(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	f.unsynced = nil
	return nil
}

func (f *fakeStorage) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeStorage) rowTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.rows))
	for i, r := range f.rows {
		texts[i] = r.text
	}
	return texts
}

func (f *fakeStorage) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markCalls
}

type fakeCompanion struct {
	mu      sync.Mutex
	batches [][]string
	syncErr error
}

func (f *fakeCompanion) IsConnected() bool { return true }

func (f *fakeCompanion) SyncTranscriptions(texts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.batches = append(f.batches, slices.Clone(texts))
	return nil
}

func (f *fakeCompanion) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeCompanion) batch(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.batches) {
		return nil
	}
	return slices.Clone(f.batches[i])
}

type fakeUplink struct {
	mu        sync.Mutex
	enabled   bool
	batches   [][]string
	backupErr error
}

func (f *fakeUplink) IsEnabled() bool   { return f.enabled }
func (f *fakeUplink) IsConnected() bool { return true }

func (f *fakeUplink) BackupTranscriptions(texts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backupErr != nil {
		return f.backupErr
	}
	f.batches = append(f.batches, slices.Clone(texts))
	return nil
}

func (f *fakeUplink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeUplink) batch(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.batches) {
		return nil
	}
	return slices.Clone(f.batches[i])
}

type fakePower struct {
	mu     sync.Mutex
	levels []float64
	idx    int
	modes  []bool
}

func (f *fakePower) BatteryLevel() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.levels) == 0 {
		return 1.0, nil
	}
	i := min(f.idx, len(f.levels)-1)
	f.idx++
	return f.levels[i], nil
}

func (f *fakePower) UpdatePowerMode(lowPower bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, lowPower)
}

func (f *fakePower) modeChanges() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.modes)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// fakes bundles one of every test double. Tests tweak fields before New.
type fakes struct {
	source      *fakeSource
	transcriber *fakeTranscriber
	display     *fakeDisplay
	haptic      *fakeHaptic
	storage     *fakeStorage
	companion   *fakeCompanion
	uplink      *fakeUplink
	power       *fakePower
}

func newFakes() *fakes {
	return &fakes{
		source:      &fakeSource{},
		transcriber: &fakeTranscriber{},
		display:     &fakeDisplay{},
		haptic:      &fakeHaptic{},
		storage:     &fakeStorage{},
		companion:   &fakeCompanion{},
		uplink:      &fakeUplink{},
		power:       &fakePower{},
	}
}

func (f *fakes) options() []Option {
	return []Option{
		WithSource(f.source),
		WithTranscriber(f.transcriber),
		WithDisplay(f.display),
		WithHaptic(f.haptic),
		WithStorage(f.storage),
		WithCompanion(f.companion),
		WithUplink(f.uplink),
		WithPower(f.power),
	}
}

// testConfig returns defaults shrunk to test-speed intervals.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ListenAddr = ""
	cfg.Audio.FrameMs = 1
	enabled := false
	cfg.Suppressor.Enabled = &enabled
	cfg.Loops = config.LoopsConfig{
		CapturePauseMs:    1,
		DisplayMs:         5,
		PersistMs:         10,
		PowerMs:           10,
		ConnectMs:         10,
		ConnectLowPowerMs: 20,
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, f *fakes, extra ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, append(f.options(), extra...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// startPipeline runs the app in the background and registers cleanup that
// cancels it and waits for Run to return.
func startPipeline(t *testing.T, a *App) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v, want context.Canceled or nil", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return cancel
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ─── Construction ────────────────────────────────────────────────────────────

func TestNew_WiresInjectedCollaborators(t *testing.T) {
	f := newFakes()
	a := newTestApp(t, testConfig(), f)

	if a.engineName != "whisper" {
		t.Errorf("engineName = %q, want whisper", a.engineName)
	}
	if !f.transcriber.Initialized() {
		t.Error("engine not initialized during construction")
	}
	if len(a.closers) != 0 {
		t.Errorf("closers = %d for fully injected app, want 0", len(a.closers))
	}

	st := a.Status()
	if st.Engine != "whisper" {
		t.Errorf("Status.Engine = %q, want whisper", st.Engine)
	}
	if st.Language != "en" {
		t.Errorf("Status.Language = %q, want en", st.Language)
	}
	if st.Battery != -1 {
		t.Errorf("Status.Battery = %v before first read, want -1", st.Battery)
	}
	if st.LowPower {
		t.Error("Status.LowPower = true at start")
	}
	if len(st.Loops) != 5 {
		t.Errorf("Status.Loops has %d entries, want 5", len(st.Loops))
	}
	for name, phase := range st.Loops {
		if phase != "starting" {
			t.Errorf("loop %s = %q before Run, want starting", name, phase)
		}
	}
}

func TestNew_EngineInitFailureIsNotFatal(t *testing.T) {
	f := newFakes()
	f.transcriber.initErr = errors.New("model file missing")

	a := newTestApp(t, testConfig(), f)

	if a.state.EngineReady() {
		t.Error("engine reported ready after failed init")
	}
}

// ─── Capture loop ────────────────────────────────────────────────────────────

func TestCaptureLoop_TranscribesAndAppends(t *testing.T) {
	f := newFakes()
	f.transcriber.setScript([]string{"hello out there"})
	a := newTestApp(t, testConfig(), f)
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "transcript to appear", func() bool {
		return a.history.Len() >= 1
	})
	if got := a.history.CurrentText(); got != "hello out there" {
		t.Errorf("CurrentText = %q, want %q", got, "hello out there")
	}
	if a.history.LastSeq() != 1 {
		t.Errorf("LastSeq = %d, want 1", a.history.LastSeq())
	}
}

func TestCaptureLoop_KeywordTriggersHaptic(t *testing.T) {
	f := newFakes()
	f.transcriber.setScript([]string{"nothing of note", "please help me now"})
	a := newTestApp(t, testConfig(), f)
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "haptic pulse", func() bool {
		return f.haptic.pulseCount() >= 1
	})
	if a.history.Len() < 2 {
		t.Errorf("history has %d entries, want 2", a.history.Len())
	}
}

func TestCaptureLoop_PhoneticMatchesMisheardKeyword(t *testing.T) {
	cfg := testConfig()
	cfg.Keywords.Phonetic = true
	f := newFakes()
	f.transcriber.setScript([]string{"somebody yelled halp"})
	a := newTestApp(t, cfg, f)
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "phonetic haptic pulse", func() bool {
		return f.haptic.pulseCount() >= 1
	})
}

func TestCaptureLoop_RecoversFromDeviceFailure(t *testing.T) {
	f := newFakes()
	f.source.failNext = true
	f.transcriber.setScript([]string{"back on air"})
	a := newTestApp(t, testConfig(), f)
	a.reopenRetry = resilience.RetryConfig{Attempts: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "device reopen and resumed capture", func() bool {
		return f.source.reopenCount() >= 1 && a.history.Len() >= 1
	})
}

func TestCaptureLoop_UnrecoverableDeviceStopsOnlyCapture(t *testing.T) {
	f := newFakes()
	f.source.failAll = true
	f.source.reopenErr = errors.New("device gone")
	a := newTestApp(t, testConfig(), f)
	a.reopenRetry = resilience.RetryConfig{Attempts: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "capture loop to stop", func() bool {
		return a.state.capture.Phase() == PhaseStopped
	})
	if !f.transcriber.isClosed() {
		t.Error("engine not closed after unrecoverable device failure")
	}
	if a.state.EngineReady() {
		t.Error("engine still reported ready")
	}
	waitFor(t, 3*time.Second, "display loop still running", func() bool {
		return a.state.display.Phase() == PhaseRunning
	})
}

func TestCaptureLoop_RetriesEngineInit(t *testing.T) {
	f := newFakes()
	f.transcriber.initErr = errors.New("model file missing")
	f.transcriber.setScript([]string{"finally transcribing"})
	a := newTestApp(t, testConfig(), f)
	a.engineBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "engine-init", ResetTimeout: time.Millisecond,
	})
	startPipeline(t, a)

	// Clear the failure; the loop's breaker should re-init and transcribe.
	f.transcriber.mu.Lock()
	f.transcriber.initErr = nil
	f.transcriber.mu.Unlock()

	waitFor(t, 3*time.Second, "engine recovery and transcript", func() bool {
		return a.state.EngineReady() && a.history.Len() >= 1
	})
}

// ─── Display loop ────────────────────────────────────────────────────────────

func TestDisplayLoop_ShowsCurrentText(t *testing.T) {
	f := newFakes()
	hist := transcript.NewLog(16)
	hist.Append("words on the screen")
	a := newTestApp(t, testConfig(), f, WithHistory(hist))
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "text on display", func() bool {
		return f.display.shown("words on the screen")
	})
}

// ─── Persistence loop ────────────────────────────────────────────────────────

func TestPersistenceLoop_SavesNewEntriesOnce(t *testing.T) {
	f := newFakes()
	hist := transcript.NewLog(16)
	hist.Append("first")
	hist.Append("second")
	a := newTestApp(t, testConfig(), f, WithHistory(hist))
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "both entries saved", func() bool {
		return f.storage.rowCount() == 2
	})

	// A few more ticks must not duplicate rows.
	time.Sleep(50 * time.Millisecond)
	if n := f.storage.rowCount(); n != 2 {
		t.Fatalf("rowCount = %d after extra ticks, want 2", n)
	}

	hist.Append("third")
	waitFor(t, 3*time.Second, "third entry saved", func() bool {
		return f.storage.rowCount() == 3
	})
	want := []string{"first", "second", "third"}
	if got := f.storage.rowTexts(); !slices.Equal(got, want) {
		t.Errorf("saved rows = %v, want %v", got, want)
	}
}

func TestPersistenceLoop_RetriesAfterSaveFailure(t *testing.T) {
	f := newFakes()
	f.storage.saveErrs = []error{errors.New("database is locked")}
	hist := transcript.NewLog(16)
	hist.Append("survives the retry")
	a := newTestApp(t, testConfig(), f, WithHistory(hist))
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "entry saved on retry", func() bool {
		return f.storage.rowCount() == 1
	})
}

// ─── Connectivity loop ───────────────────────────────────────────────────────

func TestConnectivityLoop_PushesNewEntriesToCompanion(t *testing.T) {
	f := newFakes()
	hist := transcript.NewLog(16)
	hist.Append("alpha")
	hist.Append("bravo")
	a := newTestApp(t, testConfig(), f, WithHistory(hist))
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "first companion batch", func() bool {
		return f.companion.batchCount() >= 1
	})
	if got := f.companion.batch(0); !slices.Equal(got, []string{"alpha", "bravo"}) {
		t.Errorf("batch 0 = %v, want [alpha bravo]", got)
	}

	hist.Append("charlie")
	waitFor(t, 3*time.Second, "incremental companion batch", func() bool {
		return f.companion.batchCount() >= 2
	})
	if got := f.companion.batch(1); !slices.Equal(got, []string{"charlie"}) {
		t.Errorf("batch 1 = %v, want [charlie]", got)
	}
}

func TestConnectivityLoop_FallsBackToUplink(t *testing.T) {
	f := newFakes()
	f.companion.syncErr = errors.New("phone out of range")
	f.uplink.enabled = true
	hist := transcript.NewLog(16)
	hist.Append("routed around")
	a := newTestApp(t, testConfig(), f, WithHistory(hist))
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "uplink batch", func() bool {
		return f.uplink.batchCount() >= 1
	})
	if got := f.uplink.batch(0); !slices.Equal(got, []string{"routed around"}) {
		t.Errorf("uplink batch = %v, want [routed around]", got)
	}
}

func TestConnectivityLoop_DrainsUnsyncedBacklog(t *testing.T) {
	cfg := testConfig()
	f := newFakes()
	f.uplink.enabled = true
	f.storage.unsynced = []string{"stored offline", "still waiting"}
	a := newTestApp(t, cfg, f)
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "backlog drained", func() bool {
		return f.storage.markCount() >= 1
	})
	found := false
	for i := 0; i < f.uplink.batchCount(); i++ {
		if slices.Equal(f.uplink.batch(i), []string{"stored offline", "still waiting"}) {
			found = true
		}
	}
	if !found {
		t.Errorf("backlog batch never reached the uplink, got %d batches", f.uplink.batchCount())
	}
}

func TestConnectivityLoop_IdleWithoutTargets(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.CompanionURL = ""
	f := newFakes()
	a, err := New(context.Background(), cfg,
		WithSource(f.source),
		WithTranscriber(f.transcriber),
		WithDisplay(f.display),
		WithHaptic(f.haptic),
		WithStorage(f.storage),
		WithUplink(f.uplink), // disabled
		WithPower(f.power),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No companion injected and no URL configured, so none was created.
	if a.companion != nil {
		t.Fatal("companion created without a URL")
	}
	if a.syncGroup != nil {
		t.Fatal("sync group created without any targets")
	}
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "connectivity loop to go idle", func() bool {
		return a.state.connect.Phase() == PhaseStopped
	})
}

// ─── Power loop ──────────────────────────────────────────────────────────────

func TestPowerLoop_HysteresisDrivesModeChanges(t *testing.T) {
	f := newFakes()
	f.power.levels = []float64{0.50, 0.15, 0.25, 0.35}
	a := newTestApp(t, testConfig(), f)
	startPipeline(t, a)

	waitFor(t, 3*time.Second, "enter and exit low power", func() bool {
		return len(f.power.modeChanges()) >= 2
	})
	changes := f.power.modeChanges()
	if !changes[0] || changes[1] {
		t.Errorf("mode changes = %v, want [true false]", changes[:2])
	}
	if a.state.LowPower() {
		t.Error("still in low power after recovery above exit threshold")
	}
	if got := a.state.Battery(); got != 0.35 {
		t.Errorf("Battery = %v, want 0.35", got)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

func TestApplyConfig_CaptureLoopPicksUpStagedChanges(t *testing.T) {
	cfg := testConfig()
	f := newFakes()
	a := newTestApp(t, cfg, f)
	startPipeline(t, a)

	next := *cfg
	next.Audio.Gain = 2.5
	next.Keywords.Words = []string{"banana"}
	next.Engine.Language = "de"
	a.ApplyConfig(cfg, &next)

	waitFor(t, 3*time.Second, "gain and language applied", func() bool {
		return f.source.gainValue() == 2.5 && f.transcriber.currentLanguage() == "de"
	})
	if got := a.state.Language(); got != "de" {
		t.Errorf("state language = %q, want de", got)
	}

	// The new vocabulary replaces the default one entirely.
	f.transcriber.setScript([]string{"ripe banana here"})
	waitFor(t, 3*time.Second, "new keyword to fire haptic", func() bool {
		return f.haptic.pulseCount() >= 1
	})
}

func TestApplyConfig_NoChangesStagesNothing(t *testing.T) {
	cfg := testConfig()
	f := newFakes()
	a := newTestApp(t, cfg, f)

	same := *cfg
	a.ApplyConfig(cfg, &same)
	if a.pending.Load() != nil {
		t.Error("identical config staged an update")
	}
}

// ─── Ops endpoints ───────────────────────────────────────────────────────────

func TestOpsHandler_ServesHealthAndStatus(t *testing.T) {
	f := newFakes()
	a := newTestApp(t, testConfig(), f)
	srv := httptest.NewServer(a.opsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	// Capture loop has not started, so readiness must fail.
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d before capture runs, want 503", resp.StatusCode)
	}

	a.state.capture.Set(PhaseRunning)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d with capture running, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/statusz")
	if err != nil {
		t.Fatalf("GET /statusz: %v", err)
	}
	defer resp.Body.Close()
	var snap health.Status
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode /statusz: %v", err)
	}
	if snap.Engine != "whisper" {
		t.Errorf("statusz engine = %q, want whisper", snap.Engine)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

func TestShutdown_RunsClosersOnceInOrder(t *testing.T) {
	f := newFakes()
	a := newTestApp(t, testConfig(), f)

	var order []string
	a.closers = append(a.closers,
		func() error { order = append(order, "first"); return nil },
		func() error { order = append(order, "second"); return nil },
	)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if !slices.Equal(order, []string{"first", "second"}) {
		t.Errorf("closer order = %v, want [first second]", order)
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	f := newFakes()
	a := newTestApp(t, testConfig(), f)

	ran := 0
	a.closers = append(a.closers, func() error { ran++; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Shutdown = %v, want context.Canceled", err)
	}
	if ran != 0 {
		t.Errorf("%d closers ran under an expired context, want 0", ran)
	}
}
