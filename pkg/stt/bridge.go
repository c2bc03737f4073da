package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

// Bridge routes call audio to open provider streams. Frames arriving for
// a call with no open stream are counted and dropped, never buffered:
// live coaching has no use for stale audio.
type Bridge struct {
	manager *Manager
	logger  *logrus.Logger
	streams map[string]Stream
	mutex   sync.RWMutex
}

// NewBridge creates a bridge over the given provider registry
func NewBridge(manager *Manager, logger *logrus.Logger) *Bridge {
	return &Bridge{
		manager: manager,
		logger:  logger,
		streams: make(map[string]Stream),
	}
}

// Open starts a transcription stream for the call on the given vendor
func (b *Bridge) Open(ctx context.Context, vendor, callID string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, exists := b.streams[callID]; exists {
		return errors.ErrSessionAlreadyExists
	}
	stream, err := b.manager.OpenStream(ctx, vendor, callID)
	if err != nil {
		return err
	}
	b.streams[callID] = stream
	metrics.STTStreamsActive.Inc()
	return nil
}

// Feed forwards one audio frame to the call's stream. Frames for calls
// without an open stream are dropped.
func (b *Bridge) Feed(callID string, track Track, frame []byte) error {
	b.mutex.RLock()
	stream, ok := b.streams[callID]
	b.mutex.RUnlock()

	if !ok {
		metrics.AudioFramesDropped.WithLabelValues("no_stream").Inc()
		return errors.ErrStreamNotOpen
	}

	metrics.AudioFramesReceived.WithLabelValues(string(track)).Inc()
	metrics.AudioBytesReceived.WithLabelValues(string(track)).Add(float64(len(frame)))
	return stream.Feed(track, frame)
}

// Close tears down the call's stream. Closing an unknown call is a no-op.
func (b *Bridge) Close(callID string) {
	b.mutex.Lock()
	stream, ok := b.streams[callID]
	if ok {
		delete(b.streams, callID)
	}
	b.mutex.Unlock()

	if !ok {
		return
	}
	metrics.STTStreamsActive.Dec()
	if err := stream.Close(); err != nil {
		b.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"error":   err,
		}).Warn("Error closing transcription stream")
	}
}

// IsOpen reports whether the call currently has an open stream
func (b *Bridge) IsOpen(callID string) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	_, ok := b.streams[callID]
	return ok
}
