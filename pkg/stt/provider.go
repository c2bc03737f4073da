package stt

import (
	"context"
)

// Track identifies which side of the call an audio frame or transcript
// fragment belongs to. Values match the media stream's track names.
type Track string

const (
	TrackInbound  Track = "inbound"
	TrackOutbound Track = "outbound"
)

// channelForTrack maps a track onto a provider audio channel index
func channelForTrack(track Track) int {
	if track == TrackOutbound {
		return 1
	}
	return 0
}

func trackForChannel(channel int) Track {
	if channel == 1 {
		return TrackOutbound
	}
	return TrackInbound
}

// TranscriptEvent is one transcription callback from a provider stream.
// Exactly one of Text-bearing (interim/final fragment) or UtteranceEnd is
// meaningful per event.
type TranscriptEvent struct {
	CallID       string
	Track        Track
	Text         string
	Confidence   float64
	IsFinal      bool
	UtteranceEnd bool
	Provider     string
}

// EventCallback receives transcript events from provider streams. It is
// invoked from provider goroutines and must not block.
type EventCallback func(TranscriptEvent)

// ErrorCallback receives terminal stream errors
type ErrorCallback func(callID string, err error)

// Stream is one open transcription stream for a single call. Feed accepts
// mu-law audio frames per track; Close tears the stream down and flushes
// pending results.
type Stream interface {
	Feed(track Track, frame []byte) error
	Close() error
}

// Provider is a speech-to-text vendor integration
type Provider interface {
	// Name returns the provider identifier used in configuration
	Name() string

	// Initialize prepares the provider (credentials, clients)
	Initialize() error

	// OpenStream starts a transcription stream for one call. Events flow
	// through the callbacks registered on the manager.
	OpenStream(ctx context.Context, callID string) (Stream, error)
}
