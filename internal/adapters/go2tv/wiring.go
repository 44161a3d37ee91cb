package go2tv

import (
	"context"
	"sync"
	"time"

	"go2tv.app/castqueue/internal/adapters"
	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
)

const (
	statusPollEvery     = time.Second
	maxStatusPollErrors = 3
)

// Bundle wires all external go2tv-backed adapters in one place.
type Bundle struct {
	Discovery   adapters.Discovery
	CastFactory adapters.CastFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   DiscoveryAdapter{},
		CastFactory: CastFactory{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}

	return newCastClientAdapter(client), nil
}

// rawCastClient is the slice of castprotocol.CastClient the adapter
// uses, factored out so the status emulation is testable.
type rawCastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds int) error
	SetVolume(level float32) error
	GetStatus() (*castprotocol.CastStatus, error)
	IsConnected() bool
	Close(stopMedia bool) error
}

// CastClientAdapter adapts castprotocol.CastClient to the adapters
// contract. The transport exposes no push channel, so the status and
// session-closed callbacks are emulated by a poll goroutine that runs
// from Connect until Close.
type CastClientAdapter struct {
	client    rawCastClient
	pollEvery time.Duration

	mu              sync.Mutex
	onStatus        func(raw any)
	onSessionClosed func()
	pollStop        chan struct{}
}

func newCastClientAdapter(client rawCastClient) *CastClientAdapter {
	return &CastClientAdapter{client: client, pollEvery: statusPollEvery}
}

func (c *CastClientAdapter) Connect() error {
	if err := c.client.Connect(); err != nil {
		return err
	}
	c.startPolling()
	return nil
}

func (c *CastClientAdapter) Load(mediaURL, contentType string, startTimeSeconds float64) error {
	return c.client.Load(mediaURL, contentType, int(startTimeSeconds), 0, "", false)
}

func (c *CastClientAdapter) Pause() error {
	return c.client.Pause()
}

// Unpause maps to Play, the transport's resume command.
func (c *CastClientAdapter) Unpause() error {
	return c.client.Play()
}

// Seek truncates to whole seconds; the transport seeks with second
// granularity.
func (c *CastClientAdapter) Seek(seconds float64) error {
	return c.client.Seek(int(seconds))
}

func (c *CastClientAdapter) SetVolume(level float64) error {
	return c.client.SetVolume(float32(level))
}

func (c *CastClientAdapter) Stop() error {
	return c.client.Stop()
}

func (c *CastClientAdapter) GetStatus() (any, error) {
	cast, err := c.client.GetStatus()
	if err != nil {
		return nil, err
	}
	return cast, nil
}

func (c *CastClientAdapter) OnStatus(fn func(raw any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

func (c *CastClientAdapter) OnSessionClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionClosed = fn
}

func (c *CastClientAdapter) Close(stopMedia bool) error {
	c.mu.Lock()
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
	c.mu.Unlock()
	return c.client.Close(stopMedia)
}

func (c *CastClientAdapter) startPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop
	go c.pollLoop(stop)
}

// pollLoop synthesizes the push events the contract promises: each
// successful GetStatus fans out as a status update, and a dropped
// connection or repeated status failures fire the session-closed
// callback once.
func (c *CastClientAdapter) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !c.client.IsConnected() {
			c.fireSessionClosed(stop)
			return
		}

		cast, err := c.client.GetStatus()
		if err != nil {
			failures++
			if failures >= maxStatusPollErrors {
				c.fireSessionClosed(stop)
				return
			}
			continue
		}
		failures = 0

		c.mu.Lock()
		fn := c.onStatus
		c.mu.Unlock()
		if fn != nil {
			fn(cast)
		}
	}
}

func (c *CastClientAdapter) fireSessionClosed(stop <-chan struct{}) {
	c.mu.Lock()
	fn := c.onSessionClosed
	select {
	case <-stop:
		// Close already stopped this loop; the session ended locally.
		fn = nil
	default:
		c.pollStop = nil
	}
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

var (
	_ adapters.Discovery   = DiscoveryAdapter{}
	_ adapters.CastFactory = CastFactory{}
	_ adapters.CastClient  = (*CastClientAdapter)(nil)
	_ rawCastClient        = (*castprotocol.CastClient)(nil)
)
