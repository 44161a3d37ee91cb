package player

import (
	"context"
	"log/slog"
	"time"

	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/castqueue/internal/session"
)

const (
	defaultRecoveryAttempts = 3
	defaultBackoffUnit      = time.Second
)

// LastDeviceSource supplies the last known device name from persisted
// connection state, for recovery across restarts.
type LastDeviceSource interface {
	LastDeviceName() (string, bool)
}

// Recovery wraps track-start operations with a bounded retry. Each
// attempt first revives a dead session, reconnecting via the current
// session's device or the persisted last-known device; an attempt whose
// recovery fails never sends a command to the device. After the final
// attempt the error propagates, so a genuinely disconnected device is
// never masked as a live but slow one.
type Recovery struct {
	sessions   *session.Manager
	lastDevice LastDeviceSource
	logger     *slog.Logger

	attempts    int
	backoffUnit time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRecovery(sessions *session.Manager, lastDevice LastDeviceSource, logger *slog.Logger) *Recovery {
	return &Recovery{
		sessions:    sessions,
		lastDevice:  lastDevice,
		logger:      logger,
		attempts:    defaultRecoveryAttempts,
		backoffUnit: defaultBackoffUnit,
		sleep:       sleepCtx,
	}
}

// Run executes op with up to 3 attempts and linear backoff (attempt x 1s
// between attempts). Non-transient failures surface immediately.
func (r *Recovery) Run(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if !r.sessions.Alive() {
			if err := r.recoverSession(ctx); err != nil {
				lastErr = err
				r.logEvent(slog.LevelWarn, "session_recovery_failed",
					slog.Int("attempt", attempt), slog.String("error", err.Error()))
				if !domain.IsTransient(err) {
					return err
				}
				if waitErr := r.backoff(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return err
		}

		r.logEvent(slog.LevelWarn, "track_start_retry",
			slog.Int("attempt", attempt), slog.String("error", err.Error()))
		if waitErr := r.backoff(ctx, attempt); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func (r *Recovery) backoff(ctx context.Context, attempt int) error {
	if attempt >= r.attempts {
		return nil
	}
	return r.sleep(ctx, time.Duration(attempt)*r.backoffUnit)
}

func (r *Recovery) recoverSession(ctx context.Context) error {
	if _, ok := r.sessions.Device(); ok {
		return r.sessions.Reconnect(ctx)
	}

	if r.lastDevice != nil {
		if name, ok := r.lastDevice.LastDeviceName(); ok {
			r.logEvent(slog.LevelInfo, "recovering_via_persisted_device", slog.String("device", name))
			return r.sessions.ConnectKnown(ctx, name)
		}
	}
	return domain.NewCastError(domain.KindNoDeviceConnected, "", "no device to recover a session with")
}

func (r *Recovery) logEvent(level slog.Level, msg string, attrs ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Log(context.Background(), level, msg, attrs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
