package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/earshotlabs/earshot/internal/resilience"
	"github.com/earshotlabs/earshot/pkg/keyword"
)

// pusher delivers a batch of transcript texts to one sync target.
type pusher func(ctx context.Context, texts []string) error

// pause sleeps for d or until ctx is cancelled. It returns false when the
// context ended, which every loop treats as its exit signal.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ─── Capture loop ────────────────────────────────────────────────────────────

// runCaptureLoop is the core of the pipeline: read a frame, suppress noise,
// transcribe, append to history, and match alert keywords. The blocking
// capture call paces the loop in real time; the configured capture pause is
// applied only after device errors so a dead microphone cannot spin the loop.
func (a *App) runCaptureLoop(ctx context.Context) error {
	a.state.capture.Set(PhaseRunning)
	defer a.state.capture.Set(PhaseStopped)

	frameDur := a.cfg.Audio.FrameDuration()
	suppressOn := a.cfg.Suppressor.IsEnabled()

	for ctx.Err() == nil {
		if upd := a.pending.Swap(nil); upd != nil {
			suppressOn = a.applyUpdate(upd, suppressOn)
		}

		start := time.Now()
		frame, err := a.source.CaptureFrame(frameDur)
		a.metrics.CaptureDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			a.metrics.RecordLoopError(ctx, "capture")
			slog.Error("audio capture failed", "error", err)
			if !a.recoverSource(ctx) {
				return nil
			}
			pause(ctx, a.cfg.Loops.CapturePause())
			continue
		}
		a.metrics.FramesCaptured.Add(ctx, 1)

		if suppressOn {
			start = time.Now()
			cleaned, serr := a.suppressor.Process(frame)
			a.metrics.SuppressDuration.Record(ctx, time.Since(start).Seconds())
			if serr != nil {
				slog.Warn("noise suppression failed, using raw frame", "error", serr)
				a.metrics.SuppressionFallbacks.Add(ctx, 1)
			}
			frame = cleaned
		}

		if !a.ensureEngine(ctx) {
			continue
		}

		start = time.Now()
		text, terr := a.engine.Transcribe(ctx, frame)
		a.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
		if terr != nil {
			a.metrics.RecordLoopError(ctx, "capture")
			slog.Error("transcription failed", "error", terr)
			continue
		}
		if text == "" {
			a.metrics.EmptyTranscriptions.Add(ctx, 1)
			continue
		}

		entry := a.history.Append(text)
		a.metrics.TranscriptAppends.Add(ctx, 1)
		slog.Debug("transcribed", "seq", entry.Seq, "text", text)

		a.checkKeywords(ctx, text)
	}
	return nil
}

// applyUpdate applies the hot-swappable parts of a staged config change from
// inside the capture loop, which owns the matcher and suppressor settings.
// It returns the new suppression on/off state.
func (a *App) applyUpdate(upd *configUpdate, suppressOn bool) bool {
	if upd.diff.GainChanged {
		a.source.SetGain(upd.diff.NewGain)
		slog.Info("capture gain updated", "gain", upd.diff.NewGain)
	}
	if upd.diff.SuppressorChanged {
		suppressOn = upd.cfg.Suppressor.IsEnabled()
		if err := a.suppressor.SetReductionLevel(upd.cfg.Suppressor.ReductionLevel); err != nil {
			slog.Warn("invalid reduction level in reloaded config", "error", err)
		}
		a.suppressor.SetAdaptive(upd.cfg.Suppressor.IsAdaptive())
		slog.Info("suppressor settings updated",
			"enabled", suppressOn,
			"level", upd.cfg.Suppressor.ReductionLevel)
	}
	if upd.diff.KeywordsChanged {
		a.matcher = keyword.New(upd.diff.NewKeywords)
		if upd.cfg.Keywords.Phonetic {
			a.phonetic = keyword.NewPhonetic(upd.diff.NewKeywords,
				keyword.WithThreshold(upd.cfg.Keywords.PhoneticThreshold))
		} else {
			a.phonetic = nil
		}
		slog.Info("alert vocabulary updated", "words", len(a.matcher.Vocabulary()))
	}
	if upd.diff.LanguageChanged {
		a.engine.SetLanguage(upd.diff.NewLanguage)
		a.state.SetLanguage(upd.diff.NewLanguage)
		slog.Info("transcription language updated", "language", upd.diff.NewLanguage)
	}
	return suppressOn
}

// recoverSource tries to reopen the audio device with backoff. On permanent
// failure it shuts the capture stage down — engine included, since there is
// nothing left to feed it — while the other loops keep serving whatever
// history exists. Returns true when capture can continue.
func (a *App) recoverSource(ctx context.Context) bool {
	err := resilience.Retry(ctx, a.reopenRetry, "reopen audio device", func(context.Context) error {
		return a.source.Reopen()
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Error("audio device unrecoverable, stopping capture", "error", err)
		a.state.capture.Set(PhaseStopping)
		if cerr := a.engine.Close(); cerr != nil {
			slog.Warn("engine close", "error", cerr)
		}
		a.state.SetEngineReady(false)
		if cerr := a.source.Close(); cerr != nil {
			slog.Warn("source close", "error", cerr)
		}
		return false
	}
	a.metrics.DeviceRecoveries.Add(ctx, 1)
	slog.Info("audio device recovered")
	return true
}

// ensureEngine makes sure the transcription engine is initialized, retrying
// through a circuit breaker so a missing model does not get hammered on every
// frame. Returns true when the engine is usable.
func (a *App) ensureEngine(ctx context.Context) bool {
	if a.engine.Initialized() {
		return true
	}
	err := a.engineBreaker.Execute(func() error {
		return a.engine.Init(ctx)
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Warn("transcription engine init failed", "error", err)
		}
		return false
	}
	a.state.SetEngineReady(true)
	slog.Info("transcription engine ready", "engine", a.engineName)
	return true
}

// checkKeywords runs the transcribed text through the exact matcher and, on a
// miss, the phonetic one. A hit fires the vibration motor.
func (a *App) checkKeywords(ctx context.Context, text string) {
	word, ok := a.matcher.MatchWord(text)
	if !ok && a.phonetic != nil {
		word, ok = a.phonetic.Match(text)
	}
	if !ok {
		return
	}
	slog.Info("alert keyword detected", "keyword", word)
	a.metrics.RecordKeywordHit(ctx, word)
	if err := a.haptic.TriggerVibration(a.cfg.Haptic.Pulse()); err != nil {
		slog.Warn("vibration failed", "error", err)
	}
}

// ─── Display loop ────────────────────────────────────────────────────────────

// runDisplayLoop redraws the panel with the latest transcription on a fixed
// interval. The redraw is unconditional — the panel driver is cheap and an
// always-fresh screen beats change tracking for a text this small.
func (a *App) runDisplayLoop(ctx context.Context) error {
	a.state.display.Set(PhaseRunning)
	defer a.state.display.Set(PhaseStopped)

	for pause(ctx, a.cfg.Loops.DisplayInterval()) {
		a.display.Clear()
		a.display.ShowText(a.history.CurrentText())
		if err := a.display.Update(); err != nil {
			slog.Warn("display update failed", "error", err)
			a.metrics.RecordLoopError(ctx, "display")
		}
	}
	return nil
}

// ─── Persistence loop ────────────────────────────────────────────────────────

// runPersistenceLoop flushes new history entries to storage on a fixed
// interval and prunes expired rows once a day. Entries that fail to save stay
// unflushed and are retried on the next tick; the sequence counter only
// advances past entries that were written.
func (a *App) runPersistenceLoop(ctx context.Context) error {
	a.state.persist.Set(PhaseRunning)
	defer a.state.persist.Set(PhaseStopped)

	var lastSaved uint64
	var lastPrune time.Time

	for pause(ctx, a.cfg.Loops.PersistInterval()) {
		lastSaved = a.persistNewEntries(ctx, lastSaved)

		if a.store != nil && time.Since(lastPrune) >= 24*time.Hour {
			if err := a.store.Prune(ctx); err != nil {
				slog.Warn("retention prune failed", "error", err)
			}
			lastPrune = time.Now()
		}
	}
	return nil
}

// persistNewEntries writes every history entry newer than lastSaved and
// returns the highest sequence that made it to storage.
func (a *App) persistNewEntries(ctx context.Context, lastSaved uint64) uint64 {
	for _, e := range a.history.Snapshot() {
		if e.Seq <= lastSaved {
			continue
		}
		if err := a.storage.SaveTranscription(ctx, e.Timestamp, e.Text); err != nil {
			slog.Warn("transcript save failed", "seq", e.Seq, "error", err)
			a.metrics.RecordLoopError(ctx, "persist")
			return lastSaved
		}
		lastSaved = e.Seq
	}
	return lastSaved
}

// ─── Connectivity loop ───────────────────────────────────────────────────────

// runConnectivityLoop pushes new transcripts to the companion app with the
// uplink as fallback, then drains any backlog of unsynced rows to the uplink.
// In low-power mode the loop stretches its interval, so the radio wakes less
// often.
func (a *App) runConnectivityLoop(ctx context.Context) error {
	a.state.connect.Set(PhaseRunning)
	defer a.state.connect.Set(PhaseStopped)

	uplinkActive := a.uplink != nil && a.uplink.IsEnabled()
	if a.syncGroup == nil && !uplinkActive {
		slog.Info("no sync targets configured, connectivity loop idle")
		return nil
	}

	var lastPushed uint64
	for {
		if !pause(ctx, a.cfg.Loops.ConnectInterval(a.state.LowPower())) {
			return nil
		}

		if a.syncGroup != nil {
			lastPushed = a.pushNewEntries(ctx, lastPushed)
		}

		if uplinkActive {
			err := a.backlogBreaker.Execute(func() error { return a.drainBacklog(ctx) })
			if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
				slog.Warn("backlog drain failed", "error", err)
				a.metrics.RecordLoopError(ctx, "connect")
			}
		}
	}
}

// pushNewEntries sends history entries newer than lastPushed through the
// failover group and returns the new high-water mark. A failed push leaves
// the mark unchanged so the batch is retried next interval.
func (a *App) pushNewEntries(ctx context.Context, lastPushed uint64) uint64 {
	var (
		texts   []string
		highSeq uint64
	)
	for _, e := range a.history.Snapshot() {
		if e.Seq <= lastPushed {
			continue
		}
		texts = append(texts, e.Text)
		highSeq = e.Seq
	}
	if len(texts) == 0 {
		return lastPushed
	}

	err := a.syncGroup.Execute(func(p pusher) error {
		return p(ctx, texts)
	})
	if err != nil {
		slog.Warn("transcript sync failed", "count", len(texts), "error", err)
		a.metrics.RecordLoopError(ctx, "connect")
		return lastPushed
	}
	return highSeq
}

// pushToCompanion is the primary sync target.
func (a *App) pushToCompanion(ctx context.Context, texts []string) error {
	err := a.companion.SyncTranscriptions(texts)
	a.metrics.RecordSyncBatch(ctx, "companion", syncStatus(err))
	return err
}

// pushToUplink is the fallback sync target.
func (a *App) pushToUplink(ctx context.Context, texts []string) error {
	err := a.uplink.BackupTranscriptions(texts)
	a.metrics.RecordSyncBatch(ctx, "uplink", syncStatus(err))
	return err
}

func syncStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// drainBacklog backs up rows that never reached a sync target and marks them
// synced. Rows are marked only after the uplink accepted them, so a publish
// failure leaves the backlog intact.
func (a *App) drainBacklog(ctx context.Context) error {
	texts, err := a.storage.UnsyncedTranscriptions(ctx)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return nil
	}
	berr := a.uplink.BackupTranscriptions(texts)
	a.metrics.RecordSyncBatch(ctx, "uplink", syncStatus(berr))
	if berr != nil {
		return berr
	}
	if err := a.storage.MarkTranscriptionsSynced(ctx); err != nil {
		return err
	}
	slog.Info("backlog drained to uplink", "count", len(texts))
	return nil
}

// ─── Power loop ──────────────────────────────────────────────────────────────

// runPowerLoop samples the battery on a fixed interval and drives the
// low-power transition through hysteresis, so a level hovering at the
// threshold cannot flap the mode. The first read happens immediately.
func (a *App) runPowerLoop(ctx context.Context) error {
	a.state.power.Set(PhaseRunning)
	defer a.state.power.Set(PhaseStopped)

	if a.power == nil {
		return nil
	}

	for {
		a.checkBattery(ctx)
		if !pause(ctx, a.cfg.Loops.PowerInterval()) {
			return nil
		}
	}
}

// checkBattery reads the level, records it, and applies the hysteresis
// decision to the shared state and the power manager.
func (a *App) checkBattery(ctx context.Context) {
	level, err := a.power.BatteryLevel()
	if err != nil {
		slog.Warn("battery read failed", "error", err)
		a.metrics.RecordLoopError(ctx, "power")
		return
	}
	a.state.SetBattery(level)
	a.metrics.BatteryLevel.Record(ctx, level)

	low := a.hysteresis.Next(level, a.state.LowPower())
	if a.state.SetLowPower(low) {
		slog.Info("power mode changed", "low_power", low, "battery", level)
		a.power.UpdatePowerMode(low)
	}
}
