package status

type PlayerState string

const (
	StateIdle      PlayerState = "IDLE"
	StateBuffering PlayerState = "BUFFERING"
	StatePlaying   PlayerState = "PLAYING"
	StatePaused    PlayerState = "PAUSED"
)

// Media describes what the device reports it has loaded.
type Media struct {
	ContentID       string  `json:"content_id"`
	ContentType     string  `json:"content_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	Title           string  `json:"title"`
}

// PlaybackStatus is the normalized device state every component branches
// on. It is always fully populated with safe defaults: PlayerState is one
// of the four known states, CurrentTimeSeconds is non-negative, and only
// VolumeLevel/Media may be nil (meaning "not reported").
type PlaybackStatus struct {
	PlayerState        PlayerState `json:"player_state"`
	CurrentTimeSeconds float64     `json:"current_time_seconds"`
	VolumeLevel        *float64    `json:"volume_level,omitempty"`
	Muted              bool        `json:"muted"`
	Media              *Media      `json:"media,omitempty"`
}

// Default returns the safe zero status: idle, position 0, nothing loaded.
func Default() PlaybackStatus {
	return PlaybackStatus{PlayerState: StateIdle}
}

// Active reports whether the device considers playback started.
func (s PlaybackStatus) Active() bool {
	return s.PlayerState == StatePlaying || s.PlayerState == StateBuffering
}

// RemainingSeconds returns time left in the loaded media, or -1 when the
// duration is unknown.
func (s PlaybackStatus) RemainingSeconds() float64 {
	if s.Media == nil || s.Media.DurationSeconds <= 0 {
		return -1
	}
	remaining := s.Media.DurationSeconds - s.CurrentTimeSeconds
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ElapsedFraction returns played fraction of the loaded media in [0,1], or
// -1 when the duration is unknown.
func (s PlaybackStatus) ElapsedFraction() float64 {
	if s.Media == nil || s.Media.DurationSeconds <= 0 {
		return -1
	}
	fraction := s.CurrentTimeSeconds / s.Media.DurationSeconds
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}
