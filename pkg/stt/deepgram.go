package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

const (
	deepgramWSURL = "wss://api.deepgram.com/v1/listen"

	// flushInterval paces interleaved audio writes to the socket
	flushInterval = 100 * time.Millisecond

	// keepAliveInterval keeps the socket open across silent stretches
	keepAliveInterval = 5 * time.Second
)

// DeepgramConfig holds Deepgram streaming options
type DeepgramConfig struct {
	APIKey        string
	Model         string
	SampleRate    int
	EndpointingMs int
	Interim       bool
}

// DeepgramProvider streams two-channel mu-law call audio to Deepgram's
// realtime API over websocket. Both call tracks share one connection as
// separate channels, so fragment attribution comes back for free via the
// channel index.
type DeepgramProvider struct {
	logger  *logrus.Logger
	config  DeepgramConfig
	onEvent EventCallback
	onError ErrorCallback
	breaker *circuitBreaker
}

// NewDeepgramProvider creates the provider. Events and terminal stream
// errors flow through the callbacks.
func NewDeepgramProvider(logger *logrus.Logger, config DeepgramConfig, onEvent EventCallback, onError ErrorCallback) *DeepgramProvider {
	if config.Model == "" {
		config.Model = "nova-2"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 8000
	}
	if config.EndpointingMs == 0 {
		config.EndpointingMs = 1000
	}
	return &DeepgramProvider{
		logger:  logger,
		config:  config,
		onEvent: onEvent,
		onError: onError,
		breaker: newCircuitBreaker(3, 30*time.Second),
	}
}

// Name implements Provider
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// Initialize implements Provider
func (p *DeepgramProvider) Initialize() error {
	if p.config.APIKey == "" {
		p.config.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if p.config.APIKey == "" {
		return errors.New("DEEPGRAM_API_KEY not set")
	}
	return nil
}

func (p *DeepgramProvider) streamURL() string {
	params := url.Values{}
	params.Set("encoding", "mulaw")
	params.Set("sample_rate", fmt.Sprintf("%d", p.config.SampleRate))
	params.Set("channels", "2")
	params.Set("multichannel", "true")
	params.Set("punctuate", "true")
	params.Set("model", p.config.Model)
	params.Set("endpointing", fmt.Sprintf("%d", p.config.EndpointingMs))
	params.Set("utterance_end_ms", fmt.Sprintf("%d", p.config.EndpointingMs))
	params.Set("vad_events", "true")
	if p.config.Interim {
		params.Set("interim_results", "true")
	}
	return deepgramWSURL + "?" + params.Encode()
}

// OpenStream implements Provider
func (p *DeepgramProvider) OpenStream(ctx context.Context, callID string) (Stream, error) {
	if !p.breaker.allow() {
		return nil, errors.ErrProviderUnavailable
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.streamURL(), header)
	if err != nil {
		p.breaker.failure()
		return nil, errors.Wrap(err, "failed to connect to Deepgram")
	}
	p.breaker.success()

	streamCtx, cancel := context.WithCancel(ctx)
	ds := &deepgramStream{
		provider: p,
		callID:   callID,
		conn:     conn,
		audio:    &Interleaver{},
		ctx:      streamCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go ds.writeLoop()
	go ds.readLoop()

	p.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"model":   p.config.Model,
	}).Info("Opened Deepgram stream")
	return ds, nil
}

type deepgramStream struct {
	provider  *DeepgramProvider
	callID    string
	conn      *websocket.Conn
	audio     *Interleaver
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Feed implements Stream
func (ds *deepgramStream) Feed(track Track, frame []byte) error {
	select {
	case <-ds.ctx.Done():
		return errors.ErrStreamNotOpen
	default:
	}
	ds.audio.Push(track, frame)
	return nil
}

// Close implements Stream
func (ds *deepgramStream) Close() error {
	ds.closeOnce.Do(func() {
		// ask Deepgram to flush buffered audio before tearing down
		ds.writeMu.Lock()
		_ = ds.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		ds.writeMu.Unlock()

		ds.cancel()
		select {
		case <-ds.done:
		case <-time.After(2 * time.Second):
		}
		ds.conn.Close()
	})
	return nil
}

func (ds *deepgramStream) writeLoop() {
	flush := time.NewTicker(flushInterval)
	keepAlive := time.NewTicker(keepAliveInterval)
	defer flush.Stop()
	defer keepAlive.Stop()

	for {
		select {
		case <-ds.ctx.Done():
			return
		case <-flush.C:
			chunk := ds.audio.Pull()
			if len(chunk) == 0 {
				continue
			}
			ds.writeMu.Lock()
			err := ds.conn.WriteMessage(websocket.BinaryMessage, chunk)
			ds.writeMu.Unlock()
			if err != nil {
				ds.fail(errors.Wrap(err, "failed to send audio to Deepgram"))
				return
			}
		case <-keepAlive.C:
			ds.writeMu.Lock()
			_ = ds.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			ds.writeMu.Unlock()
		}
	}
}

// deepgramResponse covers the realtime message shapes we care about:
// Results carries transcript alternatives per channel, UtteranceEnd marks
// a speech boundary.
type deepgramResponse struct {
	Type         string `json:"type"`
	ChannelIndex []int  `json:"channel_index,omitempty"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func (ds *deepgramStream) readLoop() {
	defer close(ds.done)

	for {
		_, message, err := ds.conn.ReadMessage()
		if err != nil {
			select {
			case <-ds.ctx.Done():
			default:
				ds.fail(errors.Wrap(err, "Deepgram read failed"))
			}
			return
		}
		ds.handleMessage(message)
	}
}

func (ds *deepgramStream) handleMessage(message []byte) {
	// the channel field is an object on Results and an int array on
	// UtteranceEnd, so sniff the type before full decode
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		ds.provider.logger.WithField("error", err).Debug("Unparseable Deepgram message")
		return
	}

	switch envelope.Type {
	case "Results":
		var resp deepgramResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			return
		}
		if len(resp.Channel.Alternatives) == 0 {
			return
		}
		alt := resp.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		channel := 0
		if len(resp.ChannelIndex) > 0 {
			channel = resp.ChannelIndex[0]
		}
		kind := "interim"
		if resp.IsFinal {
			kind = "final"
		}
		metrics.TranscriptFragments.WithLabelValues(ds.provider.Name(), kind).Inc()
		ds.provider.onEvent(TranscriptEvent{
			CallID:     ds.callID,
			Track:      trackForChannel(channel),
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    resp.IsFinal,
			Provider:   ds.provider.Name(),
		})
		// speech_final closes the utterance even without an UtteranceEnd event
		if resp.SpeechFinal {
			ds.emitUtteranceEnd(channel)
		}
	case "UtteranceEnd":
		var resp struct {
			Channel []int `json:"channel"`
		}
		if err := json.Unmarshal(message, &resp); err != nil {
			return
		}
		channel := 0
		if len(resp.Channel) > 0 {
			channel = resp.Channel[0]
		}
		ds.emitUtteranceEnd(channel)
	}
}

func (ds *deepgramStream) emitUtteranceEnd(channel int) {
	metrics.UtteranceBoundaries.WithLabelValues(ds.provider.Name()).Inc()
	ds.provider.onEvent(TranscriptEvent{
		CallID:       ds.callID,
		Track:        trackForChannel(channel),
		UtteranceEnd: true,
		Provider:     ds.provider.Name(),
	})
}

func (ds *deepgramStream) fail(err error) {
	metrics.STTStreamErrors.WithLabelValues(ds.provider.Name()).Inc()
	ds.provider.breaker.failure()
	ds.cancel()
	if ds.provider.onError != nil {
		ds.provider.onError(ds.callID, err)
	}
}
