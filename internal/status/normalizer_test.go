package status

import (
	"testing"

	"go2tv.app/go2tv/v2/castprotocol"
)

func TestNormalizeNil(t *testing.T) {
	got := Normalize(nil)
	if got.PlayerState != StateIdle {
		t.Fatalf("PlayerState = %s, want IDLE", got.PlayerState)
	}
	if got.CurrentTimeSeconds != 0 || got.VolumeLevel != nil || got.Media != nil {
		t.Fatalf("nil payload did not normalize to defaults: %+v", got)
	}
}

func TestNormalizeUnknownType(t *testing.T) {
	got := Normalize(42)
	if got.PlayerState != StateIdle {
		t.Fatalf("PlayerState = %s, want IDLE", got.PlayerState)
	}
}

func TestNormalizeCastStatus(t *testing.T) {
	got := Normalize(castprotocol.CastStatus{
		PlayerState: "PLAYING",
		CurrentTime: 42.5,
		Duration:    180,
		Volume:      0.6,
		Muted:       false,
		MediaTitle:  "Some Song",
		ContentType: "audio/mp3",
	})

	if got.PlayerState != StatePlaying {
		t.Fatalf("PlayerState = %s, want PLAYING", got.PlayerState)
	}
	if got.CurrentTimeSeconds != 42.5 {
		t.Fatalf("CurrentTimeSeconds = %v, want 42.5", got.CurrentTimeSeconds)
	}
	if got.VolumeLevel == nil || *got.VolumeLevel < 0.59 || *got.VolumeLevel > 0.61 {
		t.Fatalf("VolumeLevel = %v, want ~0.6", got.VolumeLevel)
	}
	if got.Media == nil {
		t.Fatal("Media is nil")
	}
	if got.Media.Title != "Some Song" || got.Media.DurationSeconds != 180 {
		t.Fatalf("Media = %+v", got.Media)
	}
}

func TestNormalizeCastStatusPointer(t *testing.T) {
	var nilStatus *castprotocol.CastStatus
	if got := Normalize(nilStatus); got.PlayerState != StateIdle {
		t.Fatalf("nil *CastStatus PlayerState = %s, want IDLE", got.PlayerState)
	}

	got := Normalize(&castprotocol.CastStatus{PlayerState: "PAUSED"})
	if got.PlayerState != StatePaused {
		t.Fatalf("PlayerState = %s, want PAUSED", got.PlayerState)
	}
}

func TestNormalizeMapPayload(t *testing.T) {
	got := Normalize(map[string]any{
		"playerState": "buffering",
		"currentTime": 12.0,
		"volume": map[string]any{
			"level": 0.25,
			"muted": true,
		},
		"media": map[string]any{
			"contentId":   "http://host/media-abc.mp3",
			"contentType": "audio/mp3",
			"duration":    200.0,
			"metadata":    map[string]any{"title": "Nested Title"},
		},
	})

	if got.PlayerState != StateBuffering {
		t.Fatalf("PlayerState = %s, want BUFFERING", got.PlayerState)
	}
	if got.CurrentTimeSeconds != 12 {
		t.Fatalf("CurrentTimeSeconds = %v, want 12", got.CurrentTimeSeconds)
	}
	if got.VolumeLevel == nil || *got.VolumeLevel != 0.25 {
		t.Fatalf("VolumeLevel = %v, want 0.25", got.VolumeLevel)
	}
	if !got.Muted {
		t.Fatal("Muted = false, want true")
	}
	if got.Media == nil || got.Media.Title != "Nested Title" || got.Media.ContentID != "http://host/media-abc.mp3" {
		t.Fatalf("Media = %+v", got.Media)
	}
}

func TestNormalizeMapAliases(t *testing.T) {
	got := Normalize(map[string]any{
		"player_state": "PLAYING",
		"current_time": 3.0,
	})
	if got.PlayerState != StatePlaying || got.CurrentTimeSeconds != 3 {
		t.Fatalf("aliased keys not recognized: %+v", got)
	}
}

func TestNormalizeStateValues(t *testing.T) {
	cases := map[string]PlayerState{
		"PLAYING":   StatePlaying,
		"playing":   StatePlaying,
		" Paused ":  StatePaused,
		"BUFFERING": StateBuffering,
		"LOADING":   StateBuffering,
		"IDLE":      StateIdle,
		"":          StateIdle,
		"UNKNOWN":   StateIdle,
	}
	for raw, want := range cases {
		got := Normalize(map[string]any{"playerState": raw})
		if got.PlayerState != want {
			t.Fatalf("state %q normalized to %s, want %s", raw, got.PlayerState, want)
		}
	}
}

func TestNormalizeVolumeClamping(t *testing.T) {
	over := Normalize(PlaybackStatus{PlayerState: StatePlaying, VolumeLevel: floatPtr(1.8)})
	if over.VolumeLevel == nil || *over.VolumeLevel != 1 {
		t.Fatalf("over-range volume = %v, want 1", over.VolumeLevel)
	}

	negative := Normalize(PlaybackStatus{PlayerState: StatePlaying, VolumeLevel: floatPtr(-0.1)})
	if negative.VolumeLevel != nil {
		t.Fatalf("negative volume = %v, want nil", negative.VolumeLevel)
	}
}

func TestActiveStates(t *testing.T) {
	for state, want := range map[PlayerState]bool{
		StatePlaying:   true,
		StateBuffering: true,
		StatePaused:    false,
		StateIdle:      false,
	} {
		s := PlaybackStatus{PlayerState: state}
		if s.Active() != want {
			t.Fatalf("Active() for %s = %v, want %v", state, s.Active(), want)
		}
	}
}

func TestRemainingSeconds(t *testing.T) {
	s := PlaybackStatus{
		PlayerState:        StatePlaying,
		CurrentTimeSeconds: 100,
		Media:              &Media{DurationSeconds: 180},
	}
	if got := s.RemainingSeconds(); got != 80 {
		t.Fatalf("RemainingSeconds = %v, want 80", got)
	}

	noMedia := PlaybackStatus{PlayerState: StatePlaying, CurrentTimeSeconds: 5}
	if got := noMedia.RemainingSeconds(); got != -1 {
		t.Fatalf("RemainingSeconds without media = %v, want -1", got)
	}
}

func TestElapsedFraction(t *testing.T) {
	s := PlaybackStatus{
		PlayerState:        StatePlaying,
		CurrentTimeSeconds: 126,
		Media:              &Media{DurationSeconds: 180},
	}
	got := s.ElapsedFraction()
	if got < 0.699 || got > 0.701 {
		t.Fatalf("ElapsedFraction = %v, want 0.7", got)
	}

	unknown := PlaybackStatus{PlayerState: StatePlaying}
	if got := unknown.ElapsedFraction(); got != -1 {
		t.Fatalf("ElapsedFraction without duration = %v, want -1", got)
	}

	past := PlaybackStatus{
		CurrentTimeSeconds: 200,
		Media:              &Media{DurationSeconds: 180},
	}
	if got := past.ElapsedFraction(); got != 1 {
		t.Fatalf("ElapsedFraction past end = %v, want clamped to 1", got)
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
