package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/devices"
)

// Discovery provides LAN cast-device discovery primitives.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient is one controllable transport connection to a cast device.
// The wire protocol behind it is out of scope; GetStatus returns the raw
// payload untouched so the status normalizer owns all interpretation.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTimeSeconds float64) error
	Pause() error
	Unpause() error
	Seek(seconds float64) error
	SetVolume(level float64) error
	Stop() error
	GetStatus() (any, error)
	// OnStatus and OnSessionClosed register push callbacks. A transport
	// without a native push channel emulates them by polling.
	OnStatus(fn func(raw any))
	OnSessionClosed(fn func())
	Close(stopMedia bool) error
}

// CastFactory creates CastClient instances.
type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}
