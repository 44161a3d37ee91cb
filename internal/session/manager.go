package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go2tv.app/castqueue/internal/adapters"
	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/castqueue/internal/status"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateWarmingUp    State = "WARMING_UP"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultProbeTimeout   = 2 * time.Second
	defaultStatusTimeout  = 3 * time.Second
	defaultKeepAliveEvery = 30 * time.Second
	defaultResolveWait    = 10 * time.Second

	statusQueueSize = 16

	// A short silent clip; loaded and immediately stopped purely to force
	// devices that report "no media session" to create one.
	defaultWarmupMediaURL  = "https://storage.googleapis.com/media-session/silence.mp3"
	defaultWarmupMediaType = "audio/mp3"
)

// DeviceResolver turns a device name into an address, waiting a bounded
// time for discovery to learn the name.
type DeviceResolver interface {
	Resolve(ctx context.Context, deviceName string, maxWait time.Duration) (domain.Device, error)
}

// Manager owns at most one live connection to one cast device and makes
// connection failures recoverable rather than fatal. All device-directed
// commands are serialized through it; the underlying transport is not
// assumed to tolerate concurrent in-flight commands.
type Manager struct {
	castFactory adapters.CastFactory
	resolver    DeviceResolver
	logger      *slog.Logger

	connectTimeout  time.Duration
	probeTimeout    time.Duration
	statusTimeout   time.Duration
	keepAliveEvery  time.Duration
	resolveWait     time.Duration
	warmupMediaURL  string
	warmupMediaType string

	// cmdMu serializes device commands; mu guards session state. cmdMu is
	// always acquired before mu, never the other way around.
	cmdMu sync.Mutex
	mu    sync.Mutex

	device           *domain.Device
	state            State
	client           adapters.CastClient
	lastStatus       status.PlaybackStatus
	warmupInProgress bool
	sessionClosed    bool

	statusCh   chan any
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	listenersMu    sync.Mutex
	listeners      []func(status.PlaybackStatus)
	onConnected    []func(domain.Device)
	onDisconnected []func()
}

func NewManager(castFactory adapters.CastFactory, resolver DeviceResolver, logger *slog.Logger) *Manager {
	return &Manager{
		castFactory:     castFactory,
		resolver:        resolver,
		logger:          logger,
		connectTimeout:  defaultConnectTimeout,
		probeTimeout:    defaultProbeTimeout,
		statusTimeout:   defaultStatusTimeout,
		keepAliveEvery:  defaultKeepAliveEvery,
		resolveWait:     defaultResolveWait,
		warmupMediaURL:  defaultWarmupMediaURL,
		warmupMediaType: defaultWarmupMediaType,
		state:           StateDisconnected,
		lastStatus:      status.Default(),
	}
}

// SetResolveWait overrides the bounded wait used when resolving device
// names through discovery.
func (m *Manager) SetResolveWait(d time.Duration) {
	if d > 0 {
		m.resolveWait = d
	}
}

// Subscribe registers a consumer of normalized status updates. Updates
// generated while session warm-up is in progress are not delivered.
func (m *Manager) Subscribe(fn func(status.PlaybackStatus)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnConnected registers a hook fired after a connection is established.
func (m *Manager) OnConnected(fn func(domain.Device)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnDisconnected registers a hook fired after an explicit disconnect.
func (m *Manager) OnDisconnected(fn func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.onDisconnected = append(m.onDisconnected, fn)
}

// Connect resolves deviceName and establishes a session with it.
// Connecting to the already-connected device is an idempotent no-op when
// a health probe succeeds. Connecting to a different device while one is
// connected keeps the existing connection and reports it; no silent
// migration happens.
func (m *Manager) Connect(ctx context.Context, deviceName string) domain.Outcome {
	if m.resolver == nil {
		return domain.FromError(domain.NewCastError(domain.KindDeviceNotFound, deviceName, "device resolver is not configured"))
	}

	device, err := m.resolver.Resolve(ctx, deviceName, m.resolveWait)
	if err != nil {
		return domain.FromError(err)
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	current := m.device
	alive := m.client != nil && !m.sessionClosed
	m.mu.Unlock()

	if current != nil && alive {
		if current.Name == device.Name {
			if err := m.probe(ctx); err == nil {
				return domain.Success("already connected to %q", device.Name)
			}
			m.logEvent(slog.LevelWarn, "session_probe_failed", slog.String("device", device.Name))
		} else {
			return domain.Info("staying connected to %q; disconnect first to switch to %q",
				current.Name, device.Name).WithDetail("connected_device", current.Name)
		}
	}

	if err := m.establishLocked(ctx, device, StateConnecting); err != nil {
		return domain.FromError(err)
	}
	return domain.Success("connected to %q", device.Name)
}

// Reconnect re-establishes a session with the current device. Used by the
// recovery policy after a session silently vanished.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	device := m.device
	m.mu.Unlock()
	if device == nil {
		return domain.NewCastError(domain.KindNoDeviceConnected, "", "no device to reconnect to")
	}
	return m.establishLocked(ctx, *device, StateReconnecting)
}

// establishLocked performs the two-phase connect: transport dial under the
// connect timeout, then session warm-up when the device reports no active
// media session. Caller holds cmdMu.
func (m *Manager) establishLocked(ctx context.Context, device domain.Device, via State) error {
	m.teardownLocked(false)

	m.setState(via)
	client, err := m.newClient(device.Address)
	if err != nil {
		m.setState(StateDisconnected)
		return domain.WrapCastError(domain.KindConnectionTimeout, device.Name, err)
	}

	if err := m.call(ctx, m.connectTimeout, client.Connect); err != nil {
		_ = safeClose(client, false)
		m.setState(StateDisconnected)
		return domain.WrapCastError(domain.KindConnectionTimeout, device.Name, err)
	}

	m.mu.Lock()
	m.client = client
	m.device = &device
	m.sessionClosed = false
	m.mu.Unlock()

	if err := m.warmUpIfNeeded(ctx, client, device.Name); err != nil {
		m.teardownLocked(false)
		m.setState(StateDisconnected)
		return err
	}

	statusCh := make(chan any, statusQueueSize)
	client.OnStatus(func(raw any) {
		select {
		case statusCh <- raw:
		default:
		}
	})
	client.OnSessionClosed(func() {
		m.handleSessionClosed(device.Name)
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.statusCh = statusCh
	m.loopCancel = cancel
	m.loopDone = done
	m.mu.Unlock()
	go m.runStatusLoop(loopCtx, client, statusCh, done)

	m.setState(StateConnected)
	m.logEvent(slog.LevelInfo, "session_connected", slog.String("device", device.Name))

	m.listenersMu.Lock()
	hooks := append([]func(domain.Device){}, m.onConnected...)
	m.listenersMu.Unlock()
	for _, hook := range hooks {
		hook(device)
	}
	return nil
}

func (m *Manager) newClient(address string) (client adapters.CastClient, err error) {
	// The transport constructor may fault synchronously; convert that to
	// the same error channel as everything else.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport fault: %v", r)
		}
	}()
	if m.castFactory == nil {
		return nil, fmt.Errorf("cast factory is not configured")
	}
	return m.castFactory.NewCastClient(address)
}

// warmUpIfNeeded probes the device and, if it reports no active media
// session, loads a placeholder item and immediately stops it so the device
// creates one. Status events produced by the warm-up's own load/stop cycle
// are flagged so auto-advance never sees them.
func (m *Manager) warmUpIfNeeded(ctx context.Context, client adapters.CastClient, deviceName string) error {
	probeErr := m.call(ctx, m.probeTimeout, func() error {
		raw, err := client.GetStatus()
		if err != nil {
			return err
		}
		m.record(raw)
		return nil
	})
	if probeErr == nil || !needsWarmup(probeErr) {
		return nil
	}

	m.setState(StateWarmingUp)
	m.logEvent(slog.LevelInfo, "session_warmup", slog.String("device", deviceName))

	m.mu.Lock()
	m.warmupInProgress = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.warmupInProgress = false
		m.mu.Unlock()
	}()

	if err := m.call(ctx, m.connectTimeout, func() error {
		return client.Load(m.warmupMediaURL, m.warmupMediaType, 0)
	}); err != nil {
		return domain.WrapCastError(domain.KindConnectionTimeout, deviceName, err)
	}
	if err := m.call(ctx, m.probeTimeout, client.Stop); err != nil {
		return domain.WrapCastError(domain.KindConnectionTimeout, deviceName, err)
	}
	return nil
}

// ConnectKnown establishes a session with a device name learned out of
// band (persisted connection state). Used by the recovery policy when no
// current session remembers a device.
func (m *Manager) ConnectKnown(ctx context.Context, deviceName string) error {
	if m.resolver == nil {
		return domain.NewCastError(domain.KindDeviceNotFound, deviceName, "device resolver is not configured")
	}
	device, err := m.resolver.Resolve(ctx, deviceName, m.resolveWait)
	if err != nil {
		return err
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	return m.establishLocked(ctx, device, StateReconnecting)
}

// EnsureActive is the idempotent precondition check issued before any
// play/stop command. Issuing commands without an active session can make
// the transport fail unrecoverably instead of returning a clean error.
func (m *Manager) EnsureActive(ctx context.Context) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	return m.ensureActiveLocked(ctx)
}

func (m *Manager) ensureActiveLocked(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	device := m.device
	closed := m.sessionClosed
	m.mu.Unlock()

	if client == nil || device == nil {
		return domain.NewCastError(domain.KindNoDeviceConnected, "", "no device connected")
	}
	if closed {
		return domain.NewCastError(domain.KindNoDeviceConnected, device.Name, "device session was closed")
	}
	return m.warmUpIfNeeded(ctx, client, device.Name)
}

func (m *Manager) probe(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return domain.NewCastError(domain.KindNoDeviceConnected, "", "no device connected")
	}
	return m.call(ctx, m.probeTimeout, func() error {
		raw, err := client.GetStatus()
		if err != nil {
			return err
		}
		m.record(raw)
		return nil
	})
}

// Status polls the device, folds the payload through the normalizer and
// returns the result.
func (m *Manager) Status(ctx context.Context) (status.PlaybackStatus, error) {
	m.mu.Lock()
	client := m.client
	device := m.deviceNameLocked()
	m.mu.Unlock()
	if client == nil {
		return status.Default(), domain.NewCastError(domain.KindNoDeviceConnected, "", "no device connected")
	}

	var raw any
	err := m.call(ctx, m.statusTimeout, func() error {
		var callErr error
		raw, callErr = client.GetStatus()
		return callErr
	})
	if err != nil {
		return status.Default(), domain.WrapCastError(domain.KindConnectionTimeout, device, err)
	}
	return m.ingest(raw), nil
}

// LastStatus returns the most recently observed normalized status.
func (m *Manager) LastStatus() status.PlaybackStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStatus
}

// Load issues a media load for a track. The caller supplies the timeout
// budget (track loads get 10-15s, queue loads up to 30s).
func (m *Manager) Load(ctx context.Context, track domain.Track, startTimeSeconds float64, timeout time.Duration) error {
	return m.command(ctx, timeout, domain.KindMediaLoad, func(client adapters.CastClient) error {
		return client.Load(track.StreamingURL, track.ContentType, startTimeSeconds)
	})
}

func (m *Manager) Pause(ctx context.Context) error {
	return m.command(ctx, m.statusTimeout, domain.KindConnectionTimeout, adapters.CastClient.Pause)
}

func (m *Manager) Resume(ctx context.Context) error {
	return m.command(ctx, m.statusTimeout, domain.KindConnectionTimeout, adapters.CastClient.Unpause)
}

func (m *Manager) Stop(ctx context.Context) error {
	return m.command(ctx, m.statusTimeout, domain.KindConnectionTimeout, adapters.CastClient.Stop)
}

func (m *Manager) Seek(ctx context.Context, seconds float64) error {
	return m.command(ctx, m.statusTimeout, domain.KindConnectionTimeout, func(client adapters.CastClient) error {
		return client.Seek(seconds)
	})
}

func (m *Manager) SetVolume(ctx context.Context, level float64) error {
	return m.command(ctx, m.statusTimeout, domain.KindConnectionTimeout, func(client adapters.CastClient) error {
		return client.SetVolume(level)
	})
}

func (m *Manager) command(ctx context.Context, timeout time.Duration, kind domain.ErrorKind, op func(adapters.CastClient) error) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	client := m.client
	device := m.deviceNameLocked()
	closed := m.sessionClosed
	m.mu.Unlock()

	if client == nil {
		return domain.NewCastError(domain.KindNoDeviceConnected, device, "no device connected")
	}
	if closed {
		return domain.NewCastError(domain.KindNoDeviceConnected, device, "device session was closed")
	}

	if err := m.call(ctx, timeout, func() error { return op(client) }); err != nil {
		return domain.WrapCastError(kind, device, err)
	}
	return nil
}

// Alive reports whether a usable session exists right now.
func (m *Manager) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.state == StateConnected && !m.sessionClosed
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Device() (domain.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return domain.Device{}, false
	}
	return *m.device, true
}

// Disconnect releases the transport and resets the session to defaults.
// All pending watches and polls are abandoned. Idempotent.
func (m *Manager) Disconnect() {
	m.cmdMu.Lock()
	m.teardownLocked(true)
	m.mu.Lock()
	m.device = nil
	m.state = StateDisconnected
	m.lastStatus = status.Default()
	m.warmupInProgress = false
	m.sessionClosed = false
	m.mu.Unlock()
	m.cmdMu.Unlock()

	m.listenersMu.Lock()
	hooks := append([]func(){}, m.onDisconnected...)
	m.listenersMu.Unlock()
	for _, hook := range hooks {
		hook()
	}
}

// teardownLocked stops the status loop and closes the client. Caller holds
// cmdMu.
func (m *Manager) teardownLocked(stopMedia bool) {
	m.mu.Lock()
	cancel := m.loopCancel
	done := m.loopDone
	client := m.client
	m.loopCancel = nil
	m.loopDone = nil
	m.statusCh = nil
	m.client = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
	if client != nil {
		_ = safeClose(client, stopMedia)
	}
}

// runStatusLoop is the single consumer applying both pushed and polled
// status updates; the ticker doubles as the keepalive probe that stops
// idle transports from timing out.
func (m *Manager) runStatusLoop(ctx context.Context, client adapters.CastClient, statusCh <-chan any, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.keepAliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-statusCh:
			m.ingest(raw)
		case <-ticker.C:
			raw, err := clientStatus(client)
			if err != nil {
				m.logEvent(slog.LevelDebug, "keepalive_probe_failed", slog.String("error", err.Error()))
				continue
			}
			m.ingest(raw)
		}
	}
}

// ingest normalizes one raw payload, records it, and fans it out to
// subscribers unless warm-up generated it.
func (m *Manager) ingest(raw any) status.PlaybackStatus {
	return m.apply(raw, true)
}

// record stores a normalized status without delivering it. Connect and
// health probes use it: their payloads describe the device before or
// between commands, and treating them as live updates would feed stale
// IDLE states to the auto-advance path.
func (m *Manager) record(raw any) status.PlaybackStatus {
	return m.apply(raw, false)
}

func (m *Manager) apply(raw any, deliver bool) status.PlaybackStatus {
	normalized := status.Normalize(raw)

	m.mu.Lock()
	m.lastStatus = normalized
	suppressed := m.warmupInProgress || !deliver
	m.mu.Unlock()

	if suppressed {
		return normalized
	}

	m.listenersMu.Lock()
	listeners := append([]func(status.PlaybackStatus){}, m.listeners...)
	m.listenersMu.Unlock()
	for _, listener := range listeners {
		listener(normalized)
	}
	return normalized
}

func (m *Manager) handleSessionClosed(deviceName string) {
	m.mu.Lock()
	m.sessionClosed = true
	if m.state == StateConnected {
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	m.logEvent(slog.LevelWarn, "session_closed_by_device", slog.String("device", deviceName))
}

// call runs a transport operation with a bounded timeout, converting
// synchronous panics and overruns into plain errors. Overruns resolve to
// an error rather than leaving the caller hanging; the abandoned goroutine
// is left to finish on its own since the transport offers no cancellation.
func (m *Manager) call(ctx context.Context, timeout time.Duration, op func() error) error {
	resultCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- fmt.Errorf("transport fault: %v", r)
			}
		}()
		resultCh <- op()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("operation timed out after %s", timeout)
	case err := <-resultCh:
		return err
	}
}

func (m *Manager) setState(next State) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}

func (m *Manager) deviceNameLocked() string {
	if m.device == nil {
		return ""
	}
	return m.device.Name
}

func (m *Manager) logEvent(level slog.Level, msg string, attrs ...any) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), level, msg, attrs...)
}

func clientStatus(client adapters.CastClient) (raw any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport fault: %v", r)
		}
	}()
	return client.GetStatus()
}

func safeClose(client adapters.CastClient, stopMedia bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport fault: %v", r)
		}
	}()
	return client.Close(stopMedia)
}

func needsWarmup(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"no media session", "no session", "no app", "application not found"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
