package status

import (
	"strings"

	"go2tv.app/go2tv/v2/castprotocol"
)

// Normalize converts whatever the transport produced into a complete
// PlaybackStatus. It is total: nil, malformed maps, and partial payloads
// all come out as the same defaulted shape, so no downstream component
// ever sees device payload irregularities.
func Normalize(raw any) PlaybackStatus {
	switch payload := raw.(type) {
	case nil:
		return Default()
	case PlaybackStatus:
		return sanitize(payload)
	case *PlaybackStatus:
		if payload == nil {
			return Default()
		}
		return sanitize(*payload)
	case *castprotocol.CastStatus:
		if payload == nil {
			return Default()
		}
		return fromCastStatus(*payload)
	case castprotocol.CastStatus:
		return fromCastStatus(payload)
	case map[string]any:
		return fromMap(payload)
	default:
		return Default()
	}
}

func fromCastStatus(cs castprotocol.CastStatus) PlaybackStatus {
	out := Default()
	out.PlayerState = normalizeState(cs.PlayerState)
	if cs.CurrentTime > 0 {
		out.CurrentTimeSeconds = float64(cs.CurrentTime)
	}
	if level, ok := clampVolume(float64(cs.Volume)); ok {
		out.VolumeLevel = &level
	}
	out.Muted = cs.Muted
	if cs.ContentType != "" || cs.MediaTitle != "" || cs.Duration > 0 {
		out.Media = &Media{
			ContentType:     strings.TrimSpace(cs.ContentType),
			DurationSeconds: float64(cs.Duration),
			Title:           strings.TrimSpace(cs.MediaTitle),
		}
	}
	return out
}

func fromMap(payload map[string]any) PlaybackStatus {
	out := Default()
	out.PlayerState = normalizeState(stringField(payload, "playerState", "player_state", "state"))
	if v, ok := floatField(payload, "currentTime", "current_time", "currentTimeSeconds"); ok && v > 0 {
		out.CurrentTimeSeconds = v
	}

	volumePayload := payload
	if nested, ok := payload["volume"].(map[string]any); ok {
		volumePayload = nested
	}
	if v, ok := floatField(volumePayload, "level", "volumeLevel", "volume_level"); ok {
		if level, valid := clampVolume(v); valid {
			out.VolumeLevel = &level
		}
	}
	if muted, ok := volumePayload["muted"].(bool); ok {
		out.Muted = muted
	}

	if media, ok := payload["media"].(map[string]any); ok {
		normalized := Media{
			ContentID:   stringField(media, "contentId", "content_id"),
			ContentType: stringField(media, "contentType", "content_type"),
			Title:       metadataTitle(media),
		}
		if v, ok := floatField(media, "duration", "durationSeconds", "duration_seconds"); ok && v > 0 {
			normalized.DurationSeconds = v
		}
		if normalized != (Media{}) {
			out.Media = &normalized
		}
	}
	return out
}

func metadataTitle(media map[string]any) string {
	if title := stringField(media, "title"); title != "" {
		return title
	}
	if metadata, ok := media["metadata"].(map[string]any); ok {
		return stringField(metadata, "title")
	}
	return ""
}

func sanitize(s PlaybackStatus) PlaybackStatus {
	s.PlayerState = normalizeState(string(s.PlayerState))
	if s.CurrentTimeSeconds < 0 {
		s.CurrentTimeSeconds = 0
	}
	if s.VolumeLevel != nil {
		if level, ok := clampVolume(*s.VolumeLevel); ok {
			s.VolumeLevel = &level
		} else {
			s.VolumeLevel = nil
		}
	}
	return s
}

func normalizeState(raw string) PlayerState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PLAYING":
		return StatePlaying
	case "PAUSED":
		return StatePaused
	case "BUFFERING", "LOADING":
		return StateBuffering
	default:
		return StateIdle
	}
}

func clampVolume(level float64) (float64, bool) {
	if level < 0 {
		return 0, false
	}
	if level > 1 {
		return 1, true
	}
	return level, true
}

func stringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func floatField(payload map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}
