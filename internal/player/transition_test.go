package player

import (
	"context"
	"testing"
	"time"

	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/castqueue/internal/status"
)

func newEngineRig(t *testing.T, client *fakeCastClient) (*testRig, *Engine) {
	t.Helper()
	rig := newTestRig(t, client)
	engine := NewEngine(rig.sessions, rig.queue, rig.controller, nil)
	engine.watchInterval = 20 * time.Millisecond
	t.Cleanup(engine.Abandon)
	return rig, engine
}

func playingStatus(current, duration float64) status.PlaybackStatus {
	return status.PlaybackStatus{
		PlayerState:        status.StatePlaying,
		CurrentTimeSeconds: current,
		Media:              &status.Media{DurationSeconds: duration, ContentType: "audio/mp3"},
	}
}

func idleStatus() status.PlaybackStatus {
	return status.PlaybackStatus{PlayerState: status.StateIdle}
}

func bufferingStatus() status.PlaybackStatus {
	return status.PlaybackStatus{PlayerState: status.StateBuffering}
}

func queueOf(rig *testRig, ids ...string) {
	tracks := make([]domain.Track, len(ids))
	for i, id := range ids {
		tracks[i] = rig.tracks.tracks[id]
	}
	rig.queue.Replace(tracks)
}

func TestPreloadStartsPastThreshold(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(75, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")

	engine.HandleStatus(playingStatus(75, 100))

	waitFor(t, 2*time.Second, func() bool {
		return client.loadCount() == 1
	}, "next track was never preloaded")
	if got := client.lastLoad(); got.url != "http://host/media-b.mp3" {
		t.Fatalf("preloaded url = %q, want trk_b", got.url)
	}
	// The pointer must not move during the watch phase.
	if got := rig.queue.CurrentIndex(); got != 0 {
		t.Fatalf("currentIndex during watch = %d, want 0", got)
	}
}

func TestPreloadBelowThresholdDoesNothing(t *testing.T) {
	rig, engine := newEngineRig(t, nil)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")

	engine.HandleStatus(playingStatus(30, 100))

	time.Sleep(100 * time.Millisecond)
	if got := rig.client.loadCount(); got != 0 {
		t.Fatalf("loads = %d, want 0 below the preload threshold", got)
	}
}

func TestPreloadCommitsSwitchNearTrackEnd(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(75, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")

	engine.HandleStatus(playingStatus(75, 100))
	waitFor(t, 2*time.Second, func() bool {
		return client.loadCount() == 1
	}, "next track was never preloaded")

	// The device approaches the end of the current track.
	client.mu.Lock()
	push := client.onStatus
	client.mu.Unlock()
	client.setStatus(playingPayload(99, 100))
	push(playingPayload(99, 100))

	waitFor(t, 2*time.Second, func() bool {
		return rig.queue.CurrentIndex() == 1
	}, "switch was never committed")

	// The device kept playing the preloaded item, so no restart load.
	time.Sleep(100 * time.Millisecond)
	if got := client.loadCount(); got != 1 {
		t.Fatalf("loads = %d, want 1 (seamless switch, no restart)", got)
	}
}

func TestPreloadAbandonedWhenPointerMoves(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(75, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b", "trk_c")

	engine.HandleStatus(playingStatus(75, 100))
	waitFor(t, 2*time.Second, func() bool {
		return client.loadCount() == 1
	}, "next track was never preloaded")

	// A user skip moves the pointer elsewhere; the watch must give up.
	if err := rig.queue.SetCurrentIndex(2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.mon == nil
	}, "watch never released after pointer moved")
	if got := rig.queue.CurrentIndex(); got != 2 {
		t.Fatalf("currentIndex = %d, want 2 (watch must not touch it)", got)
	}
}

func TestRepeatOneSkipsPreload(t *testing.T) {
	rig, engine := newEngineRig(t, nil)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")
	rig.queue.SetRepeatMode("ONE")

	engine.HandleStatus(playingStatus(80, 100))

	time.Sleep(100 * time.Millisecond)
	if got := rig.client.loadCount(); got != 0 {
		t.Fatalf("loads = %d, want 0 (repeat-one must not preload its own track)", got)
	}
	engine.mu.Lock()
	mon := engine.mon
	engine.mu.Unlock()
	if mon != nil {
		t.Fatal("monitor should not exist for repeat-one")
	}
}

func TestFallbackAdvanceOnPlayingToIdle(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(1, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")

	// No media info in the update, so preloading never arms.
	engine.HandleStatus(status.PlaybackStatus{PlayerState: status.StatePlaying})
	engine.HandleStatus(idleStatus())

	waitFor(t, 2*time.Second, func() bool {
		return rig.queue.CurrentIndex() == 1
	}, "fallback advance never happened")
	waitFor(t, 2*time.Second, func() bool {
		return client.loadCount() == 1
	}, "next track was never loaded")
	if got := client.lastLoad(); got.url != "http://host/media-b.mp3" {
		t.Fatalf("loaded url = %q, want trk_b", got.url)
	}
	if got := client.stopCount(); got == 0 {
		t.Fatal("fallback advance should stop before loading")
	}
}

func TestFallbackAdvanceRunsOnce(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(1, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")

	engine.HandleStatus(status.PlaybackStatus{PlayerState: status.StatePlaying})
	engine.HandleStatus(idleStatus())
	// A repeated IDLE update must not advance again.
	engine.HandleStatus(idleStatus())

	waitFor(t, 2*time.Second, func() bool {
		return rig.queue.CurrentIndex() == 1
	}, "fallback advance never happened")
	time.Sleep(200 * time.Millisecond)
	if got := client.loadCount(); got != 1 {
		t.Fatalf("loads = %d, want exactly 1 advance", got)
	}
}

func TestFallbackQueueFinished(t *testing.T) {
	rig, engine := newEngineRig(t, nil)
	rig.connect(t)
	queueOf(rig, "trk_a")

	engine.HandleStatus(status.PlaybackStatus{PlayerState: status.StatePlaying})
	engine.HandleStatus(idleStatus())

	time.Sleep(200 * time.Millisecond)
	if got := rig.client.loadCount(); got != 0 {
		t.Fatalf("loads = %d, want 0 on a finished queue", got)
	}
	if got := rig.queue.CurrentIndex(); got != 0 {
		t.Fatalf("currentIndex = %d, want 0", got)
	}
}

func TestAbandonCancelsWatch(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(75, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")

	engine.HandleStatus(playingStatus(75, 100))
	waitFor(t, 2*time.Second, func() bool {
		return client.loadCount() == 1
	}, "next track was never preloaded")

	engine.Abandon()

	engine.mu.Lock()
	mon := engine.mon
	engine.mu.Unlock()
	if mon != nil {
		t.Fatal("monitor still present after Abandon")
	}
	if got := rig.queue.CurrentIndex(); got != 0 {
		t.Fatalf("currentIndex = %d, want 0 after abandon", got)
	}
}

func TestUserSkipSurvivesItsOwnStatusChurn(t *testing.T) {
	client := &fakeCastClient{statuses: []any{playingPayload(30, 100)}}
	rig, engine := newEngineRig(t, client)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b", "trk_c")
	if err := rig.queue.SetCurrentIndex(0); err != nil {
		t.Fatal(err)
	}

	engine.HandleStatus(playingStatus(30, 100))

	out := rig.controller.PlayQueueFrom(context.Background(), 1)
	if out.IsError() {
		t.Fatalf("PlayQueueFrom failed: %s", out.Message)
	}
	loadsAfterSkip := client.loadCount()

	// The skip's own load makes the device report BUFFERING; that must
	// not read as completion of the previous track.
	engine.HandleStatus(bufferingStatus())
	time.Sleep(100 * time.Millisecond)

	if got := rig.queue.CurrentIndex(); got != 1 {
		t.Fatalf("currentIndex = %d, want 1 (the position the skip chose)", got)
	}
	if got := client.loadCount(); got != loadsAfterSkip {
		t.Fatalf("loads = %d, want %d (no auto-advance on the skip's churn)", got, loadsAfterSkip)
	}
}

func TestFallbackSuppressedWhileLoadInFlight(t *testing.T) {
	rig, engine := newEngineRig(t, nil)
	rig.connect(t)
	queueOf(rig, "trk_a", "trk_b")
	if err := rig.queue.SetCurrentIndex(0); err != nil {
		t.Fatal(err)
	}
	engine.HandleStatus(playingStatus(50, 100))

	done := engine.BeginLoad()
	engine.HandleStatus(idleStatus())
	time.Sleep(100 * time.Millisecond)

	if got := rig.queue.CurrentIndex(); got != 0 {
		t.Fatalf("currentIndex = %d, want 0 while a load is in flight", got)
	}
	if got := rig.client.loadCount(); got != 0 {
		t.Fatalf("loads = %d, want 0 while a load is in flight", got)
	}

	done()
	engine.mu.Lock()
	last := engine.lastState
	engine.mu.Unlock()
	if last != status.StateBuffering {
		t.Fatalf("lastState after load = %s, want BUFFERING", last)
	}
}
