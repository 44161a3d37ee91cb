package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go2tv.app/castqueue/internal/domain"
)

func (s *Server) buildTools() []registeredTool {
	return []registeredTool{
		{
			info: toolInfo{
				Name:        "list_devices",
				Description: "Discover Chromecast devices on the local network. Call this first to find a 'device_name' for connect_device.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handleListDevices,
		},
		{
			info: toolInfo{
				Name:        "connect_device",
				Description: "Connect to a cast device by name. Connecting again to the same device is a cheap no-op; a different device while connected keeps the existing connection.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"device_name": map[string]any{
							"type":        "string",
							"description": "The exact device name from list_devices.",
						},
					},
					"required":             []string{"device_name"},
					"additionalProperties": false,
				},
			},
			handler: s.handleConnectDevice,
		},
		{
			info: toolInfo{
				Name:        "disconnect",
				Description: "Disconnect from the current cast device and clear the queue.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handleDisconnect,
		},
		{
			info: toolInfo{
				Name:        "connection_status",
				Description: "Report the current session state and connected device, if any.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handleConnectionStatus,
		},
		{
			info: toolInfo{
				Name:        "list_library",
				Description: "List the tracks in the local music library with their IDs.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handleListLibrary,
		},
		{
			info: toolInfo{
				Name:        "play_track",
				Description: "Replace the queue with a single track and start playing it on the connected device.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"track_id": map[string]any{
							"type":        "string",
							"description": "A track ID from list_library.",
						},
					},
					"required":             []string{"track_id"},
					"additionalProperties": false,
				},
			},
			handler: s.handlePlayTrack,
		},
		{
			info: toolInfo{
				Name:        "play_queue",
				Description: "Replace the queue with the given tracks and start playing from the first.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"track_ids": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"minItems":    1,
							"description": "Track IDs from list_library, in play order.",
						},
					},
					"required":             []string{"track_ids"},
					"additionalProperties": false,
				},
			},
			handler: s.handlePlayQueue,
		},
		{
			info: toolInfo{
				Name:        "queue_add",
				Description: "Append tracks to the end of the queue without interrupting playback.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"track_ids": map[string]any{
							"type":     "array",
							"items":    map[string]any{"type": "string"},
							"minItems": 1,
						},
					},
					"required":             []string{"track_ids"},
					"additionalProperties": false,
				},
			},
			handler: s.handleQueueAdd,
		},
		{
			info: toolInfo{
				Name:        "queue_remove",
				Description: "Remove the queue entry at a zero-based index.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"index": map[string]any{
							"type":    "integer",
							"minimum": 0,
						},
					},
					"required":             []string{"index"},
					"additionalProperties": false,
				},
			},
			handler: s.handleQueueRemove,
		},
		{
			info: toolInfo{
				Name:        "queue_clear",
				Description: "Remove every track from the queue. Playback of the current track is not interrupted.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handleQueueClear,
		},
		{
			info: toolInfo{
				Name:        "queue_status",
				Description: "Show the queue contents, current position, repeat mode, and shuffle state.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handleQueueStatus,
		},
		{
			info: toolInfo{
				Name:        "pause",
				Description: "Pause playback on the connected device.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.playback.Pause(ctx), nil
			},
		},
		{
			info: toolInfo{
				Name:        "resume",
				Description: "Resume paused playback on the connected device.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.playback.Resume(ctx), nil
			},
		},
		{
			info: toolInfo{
				Name:        "stop",
				Description: "Stop playback and clear the queue. The device connection stays up.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.playback.Stop(ctx), nil
			},
		},
		{
			info: toolInfo{
				Name:        "seek",
				Description: "Seek to an absolute position in the current track.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"position_seconds": map[string]any{
							"type":    "number",
							"minimum": 0,
						},
					},
					"required":             []string{"position_seconds"},
					"additionalProperties": false,
				},
			},
			handler: s.handleSeek,
		},
		{
			info: toolInfo{
				Name:        "set_volume",
				Description: "Set the device volume, 0.0 (mute) to 1.0 (full).",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"level": map[string]any{
							"type":    "number",
							"minimum": 0,
							"maximum": 1,
						},
					},
					"required":             []string{"level"},
					"additionalProperties": false,
				},
			},
			handler: s.handleSetVolume,
		},
		{
			info: toolInfo{
				Name:        "skip_next",
				Description: "Skip to the next track, honoring the repeat mode.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.playback.SkipNext(ctx), nil
			},
		},
		{
			info: toolInfo{
				Name:        "skip_previous",
				Description: "Skip to the previous track in the queue.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.playback.SkipPrevious(ctx), nil
			},
		},
		{
			info: toolInfo{
				Name:        "skip_to_track",
				Description: "Jump to a specific track by its one-based queue number.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"number": map[string]any{
							"type":    "integer",
							"minimum": 1,
						},
					},
					"required":             []string{"number"},
					"additionalProperties": false,
				},
			},
			handler: s.handleSkipToTrack,
		},
		{
			info: toolInfo{
				Name:        "set_repeat_mode",
				Description: "Set the repeat mode: NONE, ONE, or ALL.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"mode": map[string]any{
							"type": "string",
							"enum": []string{"NONE", "ONE", "ALL"},
						},
					},
					"required":             []string{"mode"},
					"additionalProperties": false,
				},
			},
			handler: s.handleSetRepeatMode,
		},
		{
			info: toolInfo{
				Name:        "shuffle_queue",
				Description: "Shuffle the queue. The pre-shuffle order is kept for restore_queue_order.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.queue.Shuffle(), nil
			},
		},
		{
			info: toolInfo{
				Name:        "restore_queue_order",
				Description: "Restore the queue to its order before the last shuffle.",
				InputSchema: emptyObjectSchema(),
			},
			handler: func(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
				return s.queue.RestoreOriginalOrder(), nil
			},
		},
		{
			info: toolInfo{
				Name:        "playback_status",
				Description: "Report the device's playback state, position, volume, and loaded media.",
				InputSchema: emptyObjectSchema(),
			},
			handler: s.handlePlaybackStatus,
		},
	}
}

func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

func (s *Server) handleListDevices(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		return domain.FromError(err), nil
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	out := domain.Success("discovered %d device(s)", len(devices))
	if len(names) > 0 {
		out.Message += ": " + strings.Join(names, ", ")
	}
	return out.WithDetail("devices", devices), nil
}

func (s *Server) handleConnectDevice(ctx context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		DeviceName string `json:"device_name"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	params.DeviceName = strings.TrimSpace(params.DeviceName)
	if params.DeviceName == "" {
		return domain.Outcome{}, fmt.Errorf("device_name is required")
	}
	return s.sessions.Connect(ctx, params.DeviceName), nil
}

func (s *Server) handleDisconnect(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
	device, connected := s.sessions.Device()
	s.sessions.Disconnect()
	if !connected {
		return domain.Info("no device was connected"), nil
	}
	return domain.Success("disconnected from %s", device.Name), nil
}

func (s *Server) handleConnectionStatus(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
	state := s.sessions.State()
	out := domain.Success("session state: %s", state).WithDetail("state", string(state))
	if device, ok := s.sessions.Device(); ok {
		out = out.WithDetail("device", device.Name)
	}
	return out, nil
}

func (s *Server) handleListLibrary(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
	tracks := s.library.Tracks()
	return domain.Success("%d track(s) in library", len(tracks)).WithDetail("tracks", tracks), nil
}

func (s *Server) handlePlayTrack(ctx context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		TrackID string `json:"track_id"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if strings.TrimSpace(params.TrackID) == "" {
		return domain.Outcome{}, fmt.Errorf("track_id is required")
	}
	return s.playback.PlayTrack(ctx, params.TrackID), nil
}

func (s *Server) handlePlayQueue(ctx context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		TrackIDs []string `json:"track_ids"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if len(params.TrackIDs) == 0 {
		return domain.Outcome{}, fmt.Errorf("track_ids must not be empty")
	}
	return s.playback.PlayQueue(ctx, params.TrackIDs), nil
}

func (s *Server) handleQueueAdd(_ context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		TrackIDs []string `json:"track_ids"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if len(params.TrackIDs) == 0 {
		return domain.Outcome{}, fmt.Errorf("track_ids must not be empty")
	}

	tracks := make([]domain.Track, 0, len(params.TrackIDs))
	for _, id := range params.TrackIDs {
		track, err := s.library.TrackByID(id)
		if err != nil {
			return domain.FromError(err), nil
		}
		tracks = append(tracks, track)
	}
	return s.queue.Add(tracks), nil
}

func (s *Server) handleQueueRemove(_ context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		Index *int `json:"index"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if params.Index == nil {
		return domain.Outcome{}, fmt.Errorf("index is required")
	}
	return s.queue.RemoveAt(*params.Index), nil
}

func (s *Server) handleQueueClear(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
	return s.queue.Clear(), nil
}

func (s *Server) handleQueueStatus(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
	entries := s.queue.Entries()
	out := domain.Success("%d track(s) in queue", len(entries)).
		WithDetail("entries", entries).
		WithDetail("current_index", s.queue.CurrentIndex()).
		WithDetail("repeat_mode", string(s.queue.RepeatMode())).
		WithDetail("shuffled", s.queue.Shuffled())
	return out, nil
}

func (s *Server) handleSeek(ctx context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		PositionSeconds *float64 `json:"position_seconds"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if params.PositionSeconds == nil {
		return domain.Outcome{}, fmt.Errorf("position_seconds is required")
	}
	return s.playback.Seek(ctx, *params.PositionSeconds), nil
}

func (s *Server) handleSetVolume(ctx context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		Level *float64 `json:"level"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if params.Level == nil {
		return domain.Outcome{}, fmt.Errorf("level is required")
	}
	return s.playback.SetVolume(ctx, *params.Level), nil
}

func (s *Server) handleSkipToTrack(ctx context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		Number *int `json:"number"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if params.Number == nil {
		return domain.Outcome{}, fmt.Errorf("number is required")
	}
	return s.playback.SkipToTrackNumber(ctx, *params.Number), nil
}

func (s *Server) handleSetRepeatMode(_ context.Context, args json.RawMessage) (domain.Outcome, error) {
	var params struct {
		Mode string `json:"mode"`
	}
	if err := decodeStrict(args, &params); err != nil {
		return domain.Outcome{}, err
	}
	if strings.TrimSpace(params.Mode) == "" {
		return domain.Outcome{}, fmt.Errorf("mode is required")
	}
	return s.queue.SetRepeatMode(params.Mode), nil
}

func (s *Server) handlePlaybackStatus(ctx context.Context, _ json.RawMessage) (domain.Outcome, error) {
	st, outcome := s.playback.PlaybackStatus(ctx)
	if outcome.IsError() {
		return outcome, nil
	}

	out := domain.Success("player state: %s", st.PlayerState).
		WithDetail("player_state", string(st.PlayerState)).
		WithDetail("current_time_seconds", st.CurrentTimeSeconds).
		WithDetail("muted", st.Muted)
	if st.VolumeLevel != nil {
		out = out.WithDetail("volume_level", *st.VolumeLevel)
	}
	if st.Media != nil {
		out = out.WithDetail("media", st.Media)
	}
	return out, nil
}
