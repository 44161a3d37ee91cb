// Package mcpserver speaks MCP JSON-RPC over stdio and maps tool calls
// onto the playback controller, device session, queue, and library.
package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/castqueue/internal/queue"
	"go2tv.app/castqueue/internal/session"
	"go2tv.app/castqueue/internal/status"
)

const protocolVersion = "2024-11-05"

type DeviceDirectory interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
}

type SessionControl interface {
	Connect(ctx context.Context, deviceName string) domain.Outcome
	Disconnect()
	State() session.State
	Device() (domain.Device, bool)
}

type Playback interface {
	PlayTrack(ctx context.Context, trackID string) domain.Outcome
	PlayQueue(ctx context.Context, trackIDs []string) domain.Outcome
	PlayQueueFrom(ctx context.Context, index int) domain.Outcome
	Pause(ctx context.Context) domain.Outcome
	Resume(ctx context.Context) domain.Outcome
	Stop(ctx context.Context) domain.Outcome
	Seek(ctx context.Context, positionSeconds float64) domain.Outcome
	SetVolume(ctx context.Context, level float64) domain.Outcome
	SkipNext(ctx context.Context) domain.Outcome
	SkipPrevious(ctx context.Context) domain.Outcome
	SkipToTrackNumber(ctx context.Context, number int) domain.Outcome
	PlaybackStatus(ctx context.Context) (status.PlaybackStatus, domain.Outcome)
}

type QueueAccess interface {
	Add(tracks []domain.Track) domain.Outcome
	RemoveAt(index int) domain.Outcome
	Clear() domain.Outcome
	Shuffle() domain.Outcome
	RestoreOriginalOrder() domain.Outcome
	SetRepeatMode(raw string) domain.Outcome
	Entries() []domain.QueueEntry
	CurrentIndex() int
	RepeatMode() queue.RepeatMode
	Shuffled() bool
}

type Library interface {
	Tracks() []domain.Track
	TrackByID(id string) (domain.Track, error)
}

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger

	Devices  DeviceDirectory
	Sessions SessionControl
	Playback Playback
	Queue    QueueAccess
	Library  Library
}

type toolHandler func(ctx context.Context, args json.RawMessage) (domain.Outcome, error)

type registeredTool struct {
	info    toolInfo
	handler toolHandler
}

type Server struct {
	in  *bufio.Reader
	out *bufio.Writer

	serverName    string
	serverVersion string
	logger        *slog.Logger

	useJSONLineOutput bool
	outputModeLocked  bool

	tools []registeredTool

	devices  DeviceDirectory
	sessions SessionControl
	playback Playback
	queue    QueueAccess
	library  Library
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "castqueue"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	s := &Server{
		in:            bufio.NewReader(in),
		out:           bufio.NewWriter(out),
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		logger:        cfg.Logger,
		devices:       cfg.Devices,
		sessions:      cfg.Sessions,
		playback:      cfg.Playback,
		queue:         cfg.Queue,
		library:       cfg.Library,
	}
	s.tools = s.buildTools()
	return s
}

func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		payload, jsonLineInput, err := readMessage(s.in)
		if err != nil {
			if err == io.EOF {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		if !s.outputModeLocked {
			s.useJSONLineOutput = jsonLineInput
			s.outputModeLocked = true
		}

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", startedAt, "-32700")
		return s.send(response{
			JSONRPC: "2.0",
			Error:   &responseError{Code: -32700, Message: "parse error"},
		})
	}

	// Notifications carry no ID and expect no reply.
	if len(req.ID) == 0 {
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		s.logCall(req.Method, startedAt, "-32600")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &responseError{Code: -32600, Message: "invalid request"},
		})
	}

	switch req.Method {
	case "initialize":
		s.logCall("initialize", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Use list_devices to find cast devices, connect_device to attach, then the play_* and queue_* tools to control playback.",
		}})
	case "tools/list":
		s.logCall("tools/list", startedAt, "")
		infos := make([]toolInfo, len(s.tools))
		for i, t := range s.tools {
			infos[i] = t.info
		}
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: toolsListResult{Tools: infos}})
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, startedAt, "-32601")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &responseError{Code: -32601, Message: "method not found"},
		})
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, rawParams json.RawMessage) error {
	startedAt := time.Now()

	params, err := decodeToolCallParams(rawParams)
	if err != nil {
		return s.sendInvalidParams("tools/call", startedAt, id)
	}

	for _, t := range s.tools {
		if t.info.Name != params.Name {
			continue
		}

		outcome, err := t.handler(ctx, params.Arguments)
		if err != nil {
			return s.sendInvalidParams(params.Name, startedAt, id)
		}

		code := ""
		if outcome.IsError() {
			code = outcomeErrorCode(outcome)
		}
		s.logCall(params.Name, startedAt, code)
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  outcomeResult(outcome),
		})
	}

	s.logCall(params.Name, startedAt, "TOOL_NOT_FOUND")
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: outcomeResult(
			domain.Errorf("unknown tool: %s", params.Name).WithDetail("kind", "TOOL_NOT_FOUND"),
		),
	})
}

func decodeToolCallParams(raw json.RawMessage) (toolsCallParams, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return toolsCallParams{}, err
	}

	nameRaw, ok := payload["name"]
	if !ok {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return toolsCallParams{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	arguments := payload["arguments"]
	if len(bytes.TrimSpace(arguments)) == 0 {
		arguments = json.RawMessage("{}")
	}

	return toolsCallParams{Name: name, Arguments: arguments}, nil
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON payload")
	}
	return nil
}

// outcomeResult renders an Outcome as the uniform tool result envelope.
// The Outcome itself is the structured content; the text mirrors its
// message for clients that only read text.
func outcomeResult(o domain.Outcome) toolCallResult {
	return toolCallResult{
		Content: []toolContent{
			{Type: "text", Text: o.Message},
		},
		StructuredContent: o,
		IsError:           o.IsError(),
	}
}

func outcomeErrorCode(o domain.Outcome) string {
	if kind, ok := o.Details["kind"].(string); ok && kind != "" {
		return kind
	}
	return "ERROR"
}

func (s *Server) sendInvalidParams(method string, startedAt time.Time, id json.RawMessage) error {
	s.logCall(method, startedAt, "-32602")
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &responseError{Code: -32602, Message: "invalid params"},
	})
}

func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if s.useJSONLineOutput {
		return writeJSONLineMessage(s.out, encoded)
	}
	return writeFramedMessage(s.out, encoded)
}

func (s *Server) logCall(method string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}
	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("method", method),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", errorCode),
	)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}
