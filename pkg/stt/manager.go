package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
)

// Manager is the registry of speech providers. Stream opens for an
// unknown or uninitialized vendor fall back to the default provider.
type Manager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
	mutex           sync.RWMutex
}

// NewManager creates an empty provider registry with the given default
// vendor name
func NewManager(logger *logrus.Logger, defaultProvider string) *Manager {
	return &Manager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// Register initializes a provider and adds it to the registry. A provider
// that fails to initialize is skipped with a warning rather than failing
// server startup.
func (m *Manager) Register(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Warn("Speech provider failed to initialize, skipping registration")
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech provider")
	return nil
}

// Get returns the named provider, falling back to the default when the
// name is unknown
func (m *Manager) Get(name string) (Provider, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if provider, ok := m.providers[name]; ok {
		return provider, nil
	}
	if provider, ok := m.providers[m.defaultProvider]; ok {
		m.logger.WithFields(logrus.Fields{
			"requested": name,
			"fallback":  m.defaultProvider,
		}).Warn("Unknown speech provider requested, using default")
		return provider, nil
	}
	return nil, errors.ErrProviderUnavailable
}

// OpenStream opens a transcription stream on the named provider
func (m *Manager) OpenStream(ctx context.Context, vendor, callID string) (Stream, error) {
	provider, err := m.Get(vendor)
	if err != nil {
		return nil, err
	}
	stream, err := provider.OpenStream(ctx, callID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open transcription stream").
			WithField("provider", provider.Name()).
			WithField("call_id", callID)
	}
	return stream, nil
}

// Names returns the registered provider names
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}
