package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go2tv.app/castqueue/internal/queue"
	"go2tv.app/castqueue/internal/session"
	"go2tv.app/castqueue/internal/status"
)

const (
	defaultPreloadThreshold = 0.70
	defaultWatchInterval    = 500 * time.Millisecond
	defaultSwitchWindow     = 2.0 // seconds remaining
)

type monitorPhase string

const (
	phasePreloading monitorPhase = "PRELOADING"
	phaseWatching   monitorPhase = "WATCHING"
	phaseSwitching  monitorPhase = "SWITCHING"
)

// monitor is the ephemeral watch created when proactive preloading
// starts; at most one is live at a time. Tearing it down cancels its
// timer so a stale watch can never mutate a torn-down queue.
type monitor struct {
	sourceIndex int
	targetIndex int
	phase       monitorPhase
	cancel      context.CancelFunc
	done        chan struct{}
}

// Engine detects track completion and starts the next track with minimal
// audible gap. Strategy A preloads the next item near the end of the
// current one and switches over; strategy B is the safety net that
// performs a traditional stop-then-load advance when a PLAYING -> IDLE
// transition shows up without a preload in flight. Exactly one advance,
// of either kind, runs at a time.
type Engine struct {
	sessions   *session.Manager
	queue      *queue.Store
	controller *Controller
	logger     *slog.Logger

	preloadThreshold float64
	watchInterval    time.Duration
	switchWindow     float64

	mu            sync.Mutex
	autoAdvancing bool
	preloading    bool
	loadsInFlight int
	mon           *monitor
	lastState     status.PlayerState
}

func NewEngine(sessions *session.Manager, q *queue.Store, controller *Controller, logger *slog.Logger) *Engine {
	engine := &Engine{
		sessions:         sessions,
		queue:            q,
		controller:       controller,
		logger:           logger,
		preloadThreshold: defaultPreloadThreshold,
		watchInterval:    defaultWatchInterval,
		switchWindow:     defaultSwitchWindow,
		lastState:        status.StateIdle,
	}
	controller.AttachTransitions(engine)
	return engine
}

// HandleStatus consumes one normalized status update. Session warm-up
// updates never reach here; the session manager suppresses them.
func (e *Engine) HandleStatus(st status.PlaybackStatus) {
	e.mu.Lock()
	previous := e.lastState
	e.lastState = st.PlayerState
	e.mu.Unlock()

	e.maybeStartPreload(st)
	e.maybeFallbackAdvance(previous, st)
}

// maybeStartPreload launches strategy A once the playing track crosses
// the elapsed-fraction threshold and a distinct next track exists.
func (e *Engine) maybeStartPreload(st status.PlaybackStatus) {
	if st.PlayerState != status.StatePlaying {
		return
	}
	if fraction := st.ElapsedFraction(); fraction < 0 || fraction < e.preloadThreshold {
		return
	}

	next, ok := e.queue.Advance()
	if !ok {
		return
	}
	source := e.queue.CurrentIndex()
	if next == source {
		// Repeat-one replays the same media; preloading it would restart
		// playback early. The fallback path replays it on IDLE instead.
		return
	}

	e.mu.Lock()
	if e.preloading || e.autoAdvancing || e.loadsInFlight > 0 || e.mon != nil {
		e.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	mon := &monitor{
		sourceIndex: source,
		targetIndex: next,
		phase:       phasePreloading,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	e.preloading = true
	e.mon = mon
	e.mu.Unlock()

	e.logEvent(slog.LevelDebug, "preload_start",
		slog.Int("source_index", source), slog.Int("target_index", next))
	go e.runPreloadAndWatch(watchCtx, mon)
}

func (e *Engine) runPreloadAndWatch(ctx context.Context, mon *monitor) {
	defer close(mon.done)
	defer e.clearMonitor(mon)

	entry, ok := e.queue.EntryAt(mon.targetIndex)
	if !ok {
		return
	}

	if err := e.sessions.Load(ctx, entry.Track, 0, e.controller.loadTimeout); err != nil {
		e.logEvent(slog.LevelWarn, "preload_failed",
			slog.Int("target_index", mon.targetIndex), slog.String("error", err.Error()))
		return
	}

	e.setPhase(mon, phaseWatching)
	ticker := time.NewTicker(e.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// An unrelated advance (user skip, fallback) moved the pointer;
		// this watch is obsolete.
		if e.queue.CurrentIndex() != mon.sourceIndex {
			e.logEvent(slog.LevelDebug, "preload_abandoned", slog.Int("target_index", mon.targetIndex))
			return
		}

		st := e.sessions.LastStatus()
		remaining := st.RemainingSeconds()
		if st.PlayerState == status.StateIdle || (remaining >= 0 && remaining <= e.switchWindow) {
			e.commitSwitch(ctx, mon)
			return
		}
	}
}

// commitSwitch marks the preloaded index current and makes sure it is
// actually playing, restarting it explicitly when the preload alone did
// not result in playback.
func (e *Engine) commitSwitch(ctx context.Context, mon *monitor) {
	if !e.tryAcquireAdvance() {
		return
	}
	defer e.releaseAdvance()

	e.setPhase(mon, phaseSwitching)
	if err := e.queue.SetCurrentIndex(mon.targetIndex); err != nil {
		return
	}

	st, err := e.sessions.Status(ctx)
	if err == nil && st.Active() {
		e.logEvent(slog.LevelInfo, "seamless_switch", slog.Int("index", mon.targetIndex))
		return
	}

	if err := e.controller.PlayEntry(ctx, mon.targetIndex); err != nil {
		e.logEvent(slog.LevelWarn, "switch_restart_failed",
			slog.Int("index", mon.targetIndex), slog.String("error", err.Error()))
		return
	}
	e.logEvent(slog.LevelInfo, "switch_restarted", slog.Int("index", mon.targetIndex))
}

// maybeFallbackAdvance is strategy B: a PLAYING -> IDLE/BUFFERING
// transition on a non-empty queue advances the traditional way unless an
// advance is already running.
func (e *Engine) maybeFallbackAdvance(previous status.PlayerState, st status.PlaybackStatus) {
	if previous != status.StatePlaying {
		return
	}
	if st.PlayerState != status.StateIdle && st.PlayerState != status.StateBuffering {
		return
	}
	if e.queue.Len() == 0 {
		return
	}
	// A deliberate load or a live preload explains the transition; only
	// an unexplained one means the track ran out.
	e.mu.Lock()
	explained := e.loadsInFlight > 0 || e.preloading
	e.mu.Unlock()
	if explained {
		return
	}
	if !e.tryAcquireAdvance() {
		return
	}

	// Device work happens off the status-delivery path.
	go func() {
		defer e.releaseAdvance()

		next, ok := e.queue.Advance()
		if !ok {
			e.logEvent(slog.LevelInfo, "queue_finished", slog.Int("last_index", e.queue.CurrentIndex()))
			return
		}

		ctx := context.Background()
		if err := e.sessions.Stop(ctx); err != nil {
			e.logEvent(slog.LevelDebug, "fallback_stop_failed", slog.String("error", err.Error()))
		}
		if err := e.controller.PlayEntry(ctx, next); err != nil {
			e.logEvent(slog.LevelWarn, "auto_advance_failed",
				slog.Int("index", next), slog.String("error", err.Error()))
			return
		}
		e.logEvent(slog.LevelInfo, "auto_advance", slog.Int("index", next))
	}()
}

// BeginLoad brackets a deliberate media load issued by a command. The
// load's own status churn (BUFFERING, a momentary IDLE replacing the
// previous track) must not read as track completion, so auto-advance
// stays off until the bracket ends, and completion detection restarts
// from the new track's state rather than the old PLAYING.
func (e *Engine) BeginLoad() func() {
	e.mu.Lock()
	e.loadsInFlight++
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.loadsInFlight--
		e.lastState = status.StateBuffering
		e.mu.Unlock()
	}
}

// Abandon cancels any in-flight preload watch and clears the advance
// flags. Called on explicit stop and on disconnect.
func (e *Engine) Abandon() {
	e.mu.Lock()
	mon := e.mon
	e.mon = nil
	e.preloading = false
	e.mu.Unlock()

	if mon != nil {
		mon.cancel()
		select {
		case <-mon.done:
		case <-time.After(time.Second):
		}
	}
}

func (e *Engine) clearMonitor(mon *monitor) {
	e.mu.Lock()
	if e.mon == mon {
		e.mon = nil
	}
	e.preloading = false
	e.mu.Unlock()
}

func (e *Engine) tryAcquireAdvance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoAdvancing {
		return false
	}
	e.autoAdvancing = true
	return true
}

func (e *Engine) releaseAdvance() {
	e.mu.Lock()
	e.autoAdvancing = false
	e.mu.Unlock()
}

func (e *Engine) setPhase(mon *monitor, phase monitorPhase) {
	e.mu.Lock()
	mon.phase = phase
	e.mu.Unlock()
}

func (e *Engine) logEvent(level slog.Level, msg string, attrs ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Log(context.Background(), level, msg, attrs...)
}
