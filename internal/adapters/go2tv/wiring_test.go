package go2tv

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go2tv.app/go2tv/v2/castprotocol"
)

type fakeRawClient struct {
	mu sync.Mutex

	connected bool
	status    *castprotocol.CastStatus
	statusErr error

	calls       []string
	seekSeconds []int
	loadStarts  []int
	volumes     []float32
	statusCalls int
}

func (f *fakeRawClient) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeRawClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	f.connected = true
	return nil
}

func (f *fakeRawClient) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "load")
	f.loadStarts = append(f.loadStarts, startTime)
	return nil
}

func (f *fakeRawClient) Play() error  { f.record("play"); return nil }
func (f *fakeRawClient) Pause() error { f.record("pause"); return nil }
func (f *fakeRawClient) Stop() error  { f.record("stop"); return nil }

func (f *fakeRawClient) Seek(seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "seek")
	f.seekSeconds = append(f.seekSeconds, seconds)
	return nil
}

func (f *fakeRawClient) SetVolume(level float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "setvolume")
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakeRawClient) GetStatus() (*castprotocol.CastStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status != nil {
		return f.status, nil
	}
	return &castprotocol.CastStatus{PlayerState: "IDLE"}, nil
}

func (f *fakeRawClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRawClient) Close(stopMedia bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close")
	f.connected = false
	return nil
}

func (f *fakeRawClient) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeRawClient) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func newTestAdapter(raw *fakeRawClient) *CastClientAdapter {
	adapter := newCastClientAdapter(raw)
	adapter.pollEvery = 10 * time.Millisecond
	return adapter
}

func TestUnpauseMapsToPlay(t *testing.T) {
	raw := &fakeRawClient{}
	adapter := newTestAdapter(raw)

	if err := adapter.Unpause(); err != nil {
		t.Fatalf("Unpause failed: %v", err)
	}
	if got := raw.lastCall(); got != "play" {
		t.Fatalf("resume issued %q, want play", got)
	}
}

func TestSeekTruncatesToWholeSeconds(t *testing.T) {
	raw := &fakeRawClient{}
	adapter := newTestAdapter(raw)

	if err := adapter.Seek(42.9); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if len(raw.seekSeconds) != 1 || raw.seekSeconds[0] != 42 {
		t.Fatalf("seekSeconds = %v, want [42]", raw.seekSeconds)
	}
}

func TestLoadTruncatesStartTime(t *testing.T) {
	raw := &fakeRawClient{}
	adapter := newTestAdapter(raw)

	if err := adapter.Load("http://x/a.mp3", "audio/mp3", 7.8); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(raw.loadStarts) != 1 || raw.loadStarts[0] != 7 {
		t.Fatalf("loadStarts = %v, want [7]", raw.loadStarts)
	}
}

func TestStatusCallbackEmulatedByPolling(t *testing.T) {
	raw := &fakeRawClient{status: &castprotocol.CastStatus{PlayerState: "PLAYING", CurrentTime: 12}}
	adapter := newTestAdapter(raw)
	defer adapter.Close(false)

	received := make(chan any, 16)
	adapter.OnStatus(func(payload any) {
		select {
		case received <- payload:
		default:
		}
	})

	if err := adapter.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case payload := <-received:
		cast, ok := payload.(*castprotocol.CastStatus)
		if !ok || cast.PlayerState != "PLAYING" {
			t.Fatalf("payload = %#v, want PLAYING cast status", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status update arrived via polling")
	}
}

func TestSessionClosedWhenConnectionDrops(t *testing.T) {
	raw := &fakeRawClient{}
	adapter := newTestAdapter(raw)
	defer adapter.Close(false)

	closed := make(chan struct{})
	adapter.OnSessionClosed(func() { close(closed) })

	if err := adapter.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	raw.drop()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session-closed callback never fired")
	}
}

func TestSessionClosedAfterRepeatedStatusFailures(t *testing.T) {
	raw := &fakeRawClient{}
	adapter := newTestAdapter(raw)
	defer adapter.Close(false)

	closed := make(chan struct{})
	adapter.OnSessionClosed(func() { close(closed) })

	if err := adapter.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	raw.mu.Lock()
	raw.statusErr = errors.New("pipe broke")
	raw.mu.Unlock()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("repeated status failures never closed the session")
	}
}

func TestCloseStopsPollingWithoutSessionClosed(t *testing.T) {
	raw := &fakeRawClient{}
	adapter := newTestAdapter(raw)

	fired := make(chan struct{}, 1)
	adapter.OnSessionClosed(func() { fired <- struct{}{} })

	if err := adapter.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := adapter.Close(false); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Let any tick already in flight drain before sampling.
	time.Sleep(30 * time.Millisecond)
	raw.mu.Lock()
	before := raw.statusCalls
	raw.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	raw.mu.Lock()
	after := raw.statusCalls
	raw.mu.Unlock()
	if after != before {
		t.Fatalf("polling survived Close: %d -> %d status calls", before, after)
	}
	select {
	case <-fired:
		t.Fatal("Close must not fire the session-closed callback")
	default:
	}
}
