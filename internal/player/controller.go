package player

import (
	"context"
	"log/slog"
	"time"

	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/castqueue/internal/queue"
	"go2tv.app/castqueue/internal/session"
	"go2tv.app/castqueue/internal/status"
)

const (
	defaultLoadTimeout    = 12 * time.Second
	defaultQueueOpTimeout = 30 * time.Second
	defaultVerifyInterval = 250 * time.Millisecond
	defaultVerifyTimeout  = 5 * time.Second
	minVerifyTimeout      = 3 * time.Second
)

// TrackSource is the external catalog capability.
type TrackSource interface {
	TrackByID(id string) (domain.Track, error)
}

// transitionHooks is what the controller needs from the transition
// engine: abandoning in-flight watches on stop, and bracketing
// deliberate loads so their own status churn is not mistaken for track
// completion.
type transitionHooks interface {
	Abandon()
	BeginLoad() func()
}

// Controller exposes the verified playback commands. Every command
// requires an active session, issues the device call under a bounded
// timeout, and verifies the effect instead of trusting the transport
// acknowledgement.
type Controller struct {
	sessions *session.Manager
	queue    *queue.Store
	tracks   TrackSource
	recovery *Recovery
	logger   *slog.Logger

	transitions transitionHooks

	loadTimeout    time.Duration
	queueOpTimeout time.Duration
	verifyInterval time.Duration
	verifyTimeout  time.Duration
}

func NewController(sessions *session.Manager, q *queue.Store, tracks TrackSource, recovery *Recovery, logger *slog.Logger) *Controller {
	return &Controller{
		sessions:       sessions,
		queue:          q,
		tracks:         tracks,
		recovery:       recovery,
		logger:         logger,
		loadTimeout:    defaultLoadTimeout,
		queueOpTimeout: defaultQueueOpTimeout,
		verifyInterval: defaultVerifyInterval,
		verifyTimeout:  defaultVerifyTimeout,
	}
}

// AttachTransitions hands the controller the transition engine so explicit
// stop/disconnect can abandon any in-flight watch.
func (c *Controller) AttachTransitions(t transitionHooks) {
	c.transitions = t
}

// SetVerifyTimeout overrides the playback verification budget. Values
// below 3s are raised to it.
func (c *Controller) SetVerifyTimeout(d time.Duration) {
	if d < minVerifyTimeout {
		d = minVerifyTimeout
	}
	c.verifyTimeout = d
}

// PlayTrack replaces the queue with a single catalog track and plays it.
func (c *Controller) PlayTrack(ctx context.Context, trackID string) domain.Outcome {
	track, err := c.tracks.TrackByID(trackID)
	if err != nil {
		return domain.FromError(err)
	}

	c.queue.Replace([]domain.Track{track})
	if err := c.PlayEntry(ctx, 0); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("playing %q by %s", track.Title, track.Artist)
}

// PlayQueue replaces the queue with the given catalog tracks and starts
// at the first.
func (c *Controller) PlayQueue(ctx context.Context, trackIDs []string) domain.Outcome {
	if len(trackIDs) == 0 {
		return domain.Errorf("track list is empty")
	}

	tracks := make([]domain.Track, 0, len(trackIDs))
	for _, id := range trackIDs {
		track, err := c.tracks.TrackByID(id)
		if err != nil {
			return domain.FromError(err)
		}
		tracks = append(tracks, track)
	}

	c.queue.Replace(tracks)

	queueCtx, cancel := context.WithTimeout(ctx, c.queueOpTimeout)
	defer cancel()
	if err := c.PlayEntry(queueCtx, 0); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("playing queue of %d track(s)", len(tracks))
}

// PlayQueueFrom starts playback at a specific queue position.
func (c *Controller) PlayQueueFrom(ctx context.Context, index int) domain.Outcome {
	entry, ok := c.queue.EntryAt(index)
	if !ok {
		return domain.FromError(domain.NewCastError(domain.KindQueueIndex, "",
			"index %d out of range (queue has %d entries)", index, c.queue.Len()))
	}
	if err := c.PlayEntry(ctx, index); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("playing %q from position %d", entry.Track.Title, index)
}

// PlayEntry is the core verified play operation shared by user commands
// and the transition engine. The queue pointer moves to the target before
// the device call so concurrent status events see a consistent position,
// and it is intentionally not rolled back on verification failure so
// callers can retry without losing their place.
func (c *Controller) PlayEntry(ctx context.Context, index int) error {
	entry, ok := c.queue.EntryAt(index)
	if !ok {
		return domain.NewCastError(domain.KindQueueIndex, "",
			"index %d out of range (queue has %d entries)", index, c.queue.Len())
	}
	if err := c.queue.SetCurrentIndex(index); err != nil {
		return err
	}
	if c.transitions != nil {
		done := c.transitions.BeginLoad()
		defer done()
	}

	return c.recovery.Run(ctx, func(ctx context.Context) error {
		return c.loadAndVerify(ctx, entry.Track)
	})
}

func (c *Controller) loadAndVerify(ctx context.Context, track domain.Track) error {
	if err := c.sessions.EnsureActive(ctx); err != nil {
		return err
	}
	if err := c.sessions.Load(ctx, track, 0, c.loadTimeout); err != nil {
		return err
	}
	return c.verifyPlaying(ctx, track)
}

// verifyPlaying polls device status until it reports PLAYING or BUFFERING.
// A load acknowledgement does not guarantee audio actually started, so a
// quiet device within the budget fails the command even though the load
// call succeeded.
func (c *Controller) verifyPlaying(ctx context.Context, track domain.Track) error {
	deadline := time.Now().Add(c.verifyTimeout)
	ticker := time.NewTicker(c.verifyInterval)
	defer ticker.Stop()

	for {
		st, err := c.sessions.Status(ctx)
		if err == nil && st.Active() {
			return nil
		}

		if time.Now().After(deadline) {
			return domain.NewCastError(domain.KindPlaybackVerification, "",
				"device never reported playback of %q within %s", track.Title, c.verifyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) Pause(ctx context.Context) domain.Outcome {
	if err := c.sessions.EnsureActive(ctx); err != nil {
		return domain.FromError(err)
	}
	if err := c.sessions.Pause(ctx); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("playback paused")
}

func (c *Controller) Resume(ctx context.Context) domain.Outcome {
	if err := c.sessions.EnsureActive(ctx); err != nil {
		return domain.FromError(err)
	}
	if err := c.sessions.Resume(ctx); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("playback resumed")
}

// Stop halts playback and resets the queue to its default empty state.
// Any in-flight preload watch is abandoned first so a stale timer cannot
// touch the torn-down queue.
func (c *Controller) Stop(ctx context.Context) domain.Outcome {
	if err := c.sessions.EnsureActive(ctx); err != nil {
		return domain.FromError(err)
	}
	if c.transitions != nil {
		c.transitions.Abandon()
	}
	if err := c.sessions.Stop(ctx); err != nil {
		return domain.FromError(err)
	}
	c.queue.Clear()
	return domain.Success("playback stopped, queue cleared")
}

func (c *Controller) Seek(ctx context.Context, positionSeconds float64) domain.Outcome {
	if positionSeconds < 0 {
		return domain.Errorf("seek position must not be negative, got %.1f", positionSeconds)
	}
	if err := c.sessions.EnsureActive(ctx); err != nil {
		return domain.FromError(err)
	}
	if err := c.sessions.Seek(ctx, positionSeconds); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("seeked to %.1fs", positionSeconds)
}

func (c *Controller) SetVolume(ctx context.Context, level float64) domain.Outcome {
	if level < 0 || level > 1 {
		return domain.Errorf("volume level must be between 0.0 and 1.0, got %.2f", level)
	}
	if err := c.sessions.EnsureActive(ctx); err != nil {
		return domain.FromError(err)
	}
	if err := c.sessions.SetVolume(ctx, level); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("volume set to %.0f%%", level*100)
}

// SkipNext advances per the repeat policy. A finished queue is a terminal
// info outcome, not an error.
func (c *Controller) SkipNext(ctx context.Context) domain.Outcome {
	next, ok := c.queue.Advance()
	if !ok {
		return domain.Info("queue finished, no next track")
	}
	if err := c.PlayEntry(ctx, next); err != nil {
		return domain.FromError(err)
	}
	entry, _ := c.queue.EntryAt(next)
	return domain.Success("skipped to %q", entry.Track.Title)
}

func (c *Controller) SkipPrevious(ctx context.Context) domain.Outcome {
	current := c.queue.CurrentIndex()
	if current <= 0 {
		return domain.Info("no previous track")
	}
	if err := c.PlayEntry(ctx, current-1); err != nil {
		return domain.FromError(err)
	}
	entry, _ := c.queue.EntryAt(current - 1)
	return domain.Success("skipped back to %q", entry.Track.Title)
}

// SkipToTrackNumber jumps to a 1-based queue position.
func (c *Controller) SkipToTrackNumber(ctx context.Context, number int) domain.Outcome {
	index := number - 1
	entry, ok := c.queue.EntryAt(index)
	if !ok {
		return domain.FromError(domain.NewCastError(domain.KindQueueIndex, "",
			"track number %d out of range (queue has %d entries)", number, c.queue.Len()))
	}
	if err := c.PlayEntry(ctx, index); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("playing track %d, %q", number, entry.Track.Title)
}

// PlaybackStatus reports the current normalized device status without
// issuing a device probe when none is possible.
func (c *Controller) PlaybackStatus(ctx context.Context) (status.PlaybackStatus, domain.Outcome) {
	st, err := c.sessions.Status(ctx)
	if err != nil {
		return c.sessions.LastStatus(), domain.FromError(err)
	}
	return st, domain.Success("status fetched")
}
