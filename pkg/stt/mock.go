package stt

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// MockProvider is an offline provider for development and tests. Each
// fed frame is treated as UTF-8 text and echoed back as a final fragment
// followed by an utterance boundary.
type MockProvider struct {
	logger  *logrus.Logger
	onEvent EventCallback
}

// NewMockProvider creates the mock provider
func NewMockProvider(logger *logrus.Logger, onEvent EventCallback) *MockProvider {
	return &MockProvider{logger: logger, onEvent: onEvent}
}

// Name implements Provider
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize implements Provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock speech provider ready")
	return nil
}

// OpenStream implements Provider
func (p *MockProvider) OpenStream(ctx context.Context, callID string) (Stream, error) {
	return &mockStream{provider: p, callID: callID}, nil
}

type mockStream struct {
	provider *MockProvider
	callID   string
	mutex    sync.Mutex
	closed   bool
	fed      [][]byte
}

// Feed implements Stream
func (ms *mockStream) Feed(track Track, frame []byte) error {
	ms.mutex.Lock()
	closed := ms.closed
	if !closed {
		ms.fed = append(ms.fed, frame)
	}
	ms.mutex.Unlock()
	if closed {
		return nil
	}

	text := strings.TrimSpace(string(frame))
	if text == "" {
		return nil
	}
	ms.provider.onEvent(TranscriptEvent{
		CallID:     ms.callID,
		Track:      track,
		Text:       text,
		Confidence: 0.9,
		IsFinal:    true,
		Provider:   ms.provider.Name(),
	})
	ms.provider.onEvent(TranscriptEvent{
		CallID:       ms.callID,
		Track:        track,
		UtteranceEnd: true,
		Provider:     ms.provider.Name(),
	})
	return nil
}

// Close implements Stream
func (ms *mockStream) Close() error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.closed = true
	return nil
}
