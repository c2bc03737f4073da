package stt

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

// GoogleProvider streams call audio to Google Cloud Speech-to-Text.
// Both tracks go up as one two-channel mu-law stream with separate
// recognition per channel; the ChannelTag on each result attributes the
// fragment back to a track.
type GoogleProvider struct {
	logger     *logrus.Logger
	client     *speech.Client
	sampleRate int
	interim    bool
	onEvent    EventCallback
	onError    ErrorCallback
}

// NewGoogleProvider creates the provider. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS, per the client library convention.
func NewGoogleProvider(logger *logrus.Logger, sampleRate int, interim bool, onEvent EventCallback, onError ErrorCallback) *GoogleProvider {
	if sampleRate == 0 {
		sampleRate = 8000
	}
	return &GoogleProvider{
		logger:     logger,
		sampleRate: sampleRate,
		interim:    interim,
		onEvent:    onEvent,
		onError:    onError,
	}
}

// Name implements Provider
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize implements Provider
func (p *GoogleProvider) Initialize() error {
	credentialsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if credentialsFile == "" {
		return errors.New("GOOGLE_APPLICATION_CREDENTIALS not set")
	}
	client, err := speech.NewClient(context.Background(), option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return errors.Wrap(err, "failed to create Google Speech client")
	}
	p.client = client
	return nil
}

// OpenStream implements Provider
func (p *GoogleProvider) OpenStream(ctx context.Context, callID string) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to open Google streaming recognizer")
	}

	// the first request carries only the recognition config
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                            speechpb.RecognitionConfig_MULAW,
					SampleRateHertz:                     int32(p.sampleRate),
					LanguageCode:                        "en-US",
					AudioChannelCount:                   2,
					EnableSeparateRecognitionPerChannel: true,
					EnableAutomaticPunctuation:          true,
				},
				InterimResults: p.interim,
			},
		},
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to send Google recognition config")
	}

	gs := &googleStream{
		provider: p,
		callID:   callID,
		stream:   stream,
		audio:    &Interleaver{},
		ctx:      streamCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go gs.writeLoop()
	go gs.readLoop()

	p.logger.WithField("call_id", callID).Info("Opened Google Speech stream")
	return gs, nil
}

type googleStream struct {
	provider  *GoogleProvider
	callID    string
	stream    speechpb.Speech_StreamingRecognizeClient
	audio     *Interleaver
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Feed implements Stream
func (gs *googleStream) Feed(track Track, frame []byte) error {
	select {
	case <-gs.ctx.Done():
		return errors.ErrStreamNotOpen
	default:
	}
	gs.audio.Push(track, frame)
	return nil
}

// Close implements Stream
func (gs *googleStream) Close() error {
	gs.closeOnce.Do(func() {
		if chunk := gs.audio.Pull(); len(chunk) > 0 {
			_ = gs.stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			})
		}
		_ = gs.stream.CloseSend()
		select {
		case <-gs.done:
		case <-time.After(2 * time.Second):
		}
		gs.cancel()
	})
	return nil
}

func (gs *googleStream) writeLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gs.ctx.Done():
			return
		case <-ticker.C:
			chunk := gs.audio.Pull()
			if len(chunk) == 0 {
				continue
			}
			err := gs.stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			})
			if err != nil {
				gs.fail(errors.Wrap(err, "failed to send audio to Google"))
				return
			}
		}
	}
}

func (gs *googleStream) readLoop() {
	defer close(gs.done)

	for {
		resp, err := gs.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case <-gs.ctx.Done():
			default:
				gs.fail(errors.Wrap(err, "Google Speech receive failed"))
			}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}

			// ChannelTag is 1-based
			track := trackForChannel(int(result.ChannelTag) - 1)
			kind := "interim"
			if result.IsFinal {
				kind = "final"
			}
			metrics.TranscriptFragments.WithLabelValues(gs.provider.Name(), kind).Inc()
			gs.provider.onEvent(TranscriptEvent{
				CallID:     gs.callID,
				Track:      track,
				Text:       alt.Transcript,
				Confidence: float64(alt.Confidence),
				IsFinal:    result.IsFinal,
				Provider:   gs.provider.Name(),
			})

			// Google marks utterance boundaries by finalizing the result
			if result.IsFinal {
				metrics.UtteranceBoundaries.WithLabelValues(gs.provider.Name()).Inc()
				gs.provider.onEvent(TranscriptEvent{
					CallID:       gs.callID,
					Track:        track,
					UtteranceEnd: true,
					Provider:     gs.provider.Name(),
				})
			}
		}
	}
}

func (gs *googleStream) fail(err error) {
	metrics.STTStreamErrors.WithLabelValues(gs.provider.Name()).Inc()
	gs.cancel()
	if gs.provider.onError != nil {
		gs.provider.onError(gs.callID, err)
	}
}
