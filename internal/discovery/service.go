package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go2tv.app/castqueue/internal/adapters"
	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/go2tv/v2/devices"
)

const (
	// DefaultResolveWait bounds how long Resolve keeps re-polling the mdns
	// cache for a device name that is not yet known.
	DefaultResolveWait = 10 * time.Second

	maxPerAttemptDelaySeconds = 3
	retryPause                = 250 * time.Millisecond
)

// Service resolves human device names to network addresses on top of the
// go2tv discovery loop.
type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	logger  *slog.Logger
	once    sync.Once
}

func NewService(adapter adapters.Discovery, loopCtx context.Context, logger *slog.Logger) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}

	return &Service{
		adapter: adapter,
		loopCtx: loopCtx,
		logger:  logger,
	}
}

// KnownDevices returns the current name -> address mapping from a single
// discovery pass.
func (s *Service) KnownDevices(ctx context.Context) (map[string]string, error) {
	found, err := s.loadOnce(ctx, 1)
	if err != nil {
		return nil, err
	}

	return lo.Associate(found, func(d domain.Device) (string, string) {
		return d.Name, d.Address
	}), nil
}

// ListDevices returns the discovered cast targets, sorted by name.
func (s *Service) ListDevices(ctx context.Context) ([]domain.Device, error) {
	found, err := s.loadOnce(ctx, 1)
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool {
		return strings.ToLower(found[i].Name) < strings.ToLower(found[j].Name)
	})
	return found, nil
}

// Resolve waits up to maxWait for deviceName to show up in discovery and
// returns its device record. A name still unknown when the wait budget is
// exhausted is a DEVICE_NOT_FOUND error.
func (s *Service) Resolve(ctx context.Context, deviceName string, maxWait time.Duration) (domain.Device, error) {
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		return domain.Device{}, domain.NewCastError(domain.KindDeviceNotFound, deviceName, "device name is empty")
	}
	if maxWait <= 0 {
		maxWait = DefaultResolveWait
	}

	deadline := time.Now().Add(maxWait)
	for {
		if err := ctx.Err(); err != nil {
			return domain.Device{}, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Device{}, domain.NewCastError(domain.KindDeviceNotFound, deviceName,
				"device not discovered within %s", maxWait)
		}

		delaySeconds := int(remaining.Seconds())
		if delaySeconds < 1 {
			delaySeconds = 1
		}
		if delaySeconds > maxPerAttemptDelaySeconds {
			delaySeconds = maxPerAttemptDelaySeconds
		}

		found, err := s.loadOnce(ctx, delaySeconds)
		if err != nil {
			return domain.Device{}, err
		}
		if matched, ok := matchDeviceName(found, deviceName); ok {
			return matched, nil
		}

		s.logLifecycle("discovery_retry", slog.String("device", deviceName))
		select {
		case <-ctx.Done():
			return domain.Device{}, ctx.Err()
		case <-time.After(retryPause):
		}
	}
}

func (s *Service) loadOnce(ctx context.Context, delaySeconds int) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, domain.NewCastError(domain.KindDeviceNotFound, "", "discovery adapter is not configured")
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loaded, err := s.adapter.LoadAllDevices(delaySeconds)
	if err != nil {
		if isNoDeviceAvailable(err) {
			return []domain.Device{}, nil
		}
		return nil, err
	}

	castOnly := lo.Filter(loaded, func(d devices.Device, _ int) bool {
		return strings.Contains(strings.ToLower(d.Type), "chrome") || d.Type == ""
	})
	return lo.Map(castOnly, func(d devices.Device, _ int) domain.Device {
		return domain.Device{
			Name:    strings.TrimSpace(d.Name),
			Address: strings.TrimSpace(d.Addr),
		}
	}), nil
}

func matchDeviceName(found []domain.Device, target string) (domain.Device, bool) {
	for _, dev := range found {
		if dev.Name == target {
			return dev, true
		}
	}
	for _, dev := range found {
		if strings.EqualFold(dev.Name, target) {
			return dev, true
		}
	}
	return domain.Device{}, false
}

func isNoDeviceAvailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, devices.ErrNoDeviceAvailable) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no device")
}

func (s *Service) logLifecycle(msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Debug(msg, attrs...)
}
