package stt

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

// AmazonProvider streams call audio to Amazon Transcribe. Transcribe's
// streaming API wants linear PCM, so mu-law frames are decoded before
// interleaving; channel identification attributes results per track.
type AmazonProvider struct {
	logger     *logrus.Logger
	client     *transcribestreaming.Client
	sampleRate int
	onEvent    EventCallback
	onError    ErrorCallback
}

// NewAmazonProvider creates the provider. Credentials and region come
// from the standard AWS environment.
func NewAmazonProvider(logger *logrus.Logger, sampleRate int, onEvent EventCallback, onError ErrorCallback) *AmazonProvider {
	if sampleRate == 0 {
		sampleRate = 8000
	}
	return &AmazonProvider{
		logger:     logger,
		sampleRate: sampleRate,
		onEvent:    onEvent,
		onError:    onError,
	}
}

// Name implements Provider
func (p *AmazonProvider) Name() string {
	return "amazon"
}

// Initialize implements Provider
func (p *AmazonProvider) Initialize() error {
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		return errors.New("AWS credentials not set")
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to load AWS configuration")
	}
	p.client = transcribestreaming.NewFromConfig(cfg)
	return nil
}

// OpenStream implements Provider
func (p *AmazonProvider) OpenStream(ctx context.Context, callID string) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := p.client.StartStreamTranscription(streamCtx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:                types.LanguageCodeEnUs,
		MediaEncoding:               types.MediaEncodingPcm,
		MediaSampleRateHertz:        aws.Int32(int32(p.sampleRate)),
		NumberOfChannels:            aws.Int32(2),
		EnableChannelIdentification: true,
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to start Amazon Transcribe stream")
	}

	as := &amazonStream{
		provider: p,
		callID:   callID,
		stream:   resp.GetStream(),
		audio:    &Interleaver{},
		ctx:      streamCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go as.writeLoop()
	go as.readLoop()

	p.logger.WithField("call_id", callID).Info("Opened Amazon Transcribe stream")
	return as, nil
}

type amazonStream struct {
	provider  *AmazonProvider
	callID    string
	stream    *transcribestreaming.StartStreamTranscriptionEventStream
	audio     *Interleaver
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Feed implements Stream. Frames stay mu-law until flush, where the
// interleaved stream is decoded to PCM in one pass.
func (as *amazonStream) Feed(track Track, frame []byte) error {
	select {
	case <-as.ctx.Done():
		return errors.ErrStreamNotOpen
	default:
	}
	as.audio.Push(track, frame)
	return nil
}

// Close implements Stream
func (as *amazonStream) Close() error {
	as.closeOnce.Do(func() {
		as.flush()
		_ = as.stream.Close()
		select {
		case <-as.done:
		case <-time.After(2 * time.Second):
		}
		as.cancel()
	})
	return nil
}

func (as *amazonStream) writeLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-as.ctx.Done():
			return
		case <-ticker.C:
			if err := as.flush(); err != nil {
				as.fail(err)
				return
			}
		}
	}
}

// flush drains buffered mu-law audio, converts to interleaved PCM, and
// sends one audio event
func (as *amazonStream) flush() error {
	chunk := as.audio.Pull()
	if len(chunk) == 0 {
		return nil
	}
	event := &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: DecodeMulaw(chunk)},
	}
	if err := as.stream.Send(as.ctx, event); err != nil {
		return errors.Wrap(err, "failed to send audio to Amazon Transcribe")
	}
	return nil
}

func (as *amazonStream) readLoop() {
	defer close(as.done)

	for event := range as.stream.Events() {
		transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			continue
		}
		for _, result := range transcriptEvent.Value.Transcript.Results {
			if len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == nil {
				continue
			}
			text := *result.Alternatives[0].Transcript
			if text == "" {
				continue
			}

			track := TrackInbound
			if result.ChannelId != nil && *result.ChannelId == "ch_1" {
				track = TrackOutbound
			}
			kind := "final"
			if result.IsPartial {
				kind = "interim"
			}
			metrics.TranscriptFragments.WithLabelValues(as.provider.Name(), kind).Inc()
			as.provider.onEvent(TranscriptEvent{
				CallID:   as.callID,
				Track:    track,
				Text:     text,
				IsFinal:  !result.IsPartial,
				Provider: as.provider.Name(),
			})

			// a completed result segment is Transcribe's utterance boundary
			if !result.IsPartial {
				metrics.UtteranceBoundaries.WithLabelValues(as.provider.Name()).Inc()
				as.provider.onEvent(TranscriptEvent{
					CallID:       as.callID,
					Track:        track,
					UtteranceEnd: true,
					Provider:     as.provider.Name(),
				})
			}
		}
	}

	if err := as.stream.Err(); err != nil {
		select {
		case <-as.ctx.Done():
		default:
			as.fail(errors.Wrap(err, "Amazon Transcribe stream failed"))
		}
	}
}

func (as *amazonStream) fail(err error) {
	metrics.STTStreamErrors.WithLabelValues(as.provider.Name()).Inc()
	as.cancel()
	if as.provider.onError != nil {
		as.provider.onError(as.callID, err)
	}
}
