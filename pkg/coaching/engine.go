package coaching

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/messaging"
	"livecoach-server/pkg/session"
	"livecoach-server/pkg/stt"
)

// EngineConfig holds the engine's pacing knobs
type EngineConfig struct {
	// TipMinInterval is the minimum spacing between accepted tips
	TipMinInterval time.Duration

	// LLMTimeout bounds each language model request
	LLMTimeout time.Duration

	// RecentTurns caps how much transcript goes into realtime prompts
	RecentTurns int

	// DefaultVendor names the speech provider for new calls
	DefaultVendor string

	// MaxConcurrentCalls rejects new calls past the limit; zero means no limit
	MaxConcurrentCalls int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.TipMinInterval == 0 {
		c.TipMinInterval = 15 * time.Second
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = 20 * time.Second
	}
	if c.RecentTurns == 0 {
		c.RecentTurns = 20
	}
	if c.DefaultVendor == "" {
		c.DefaultVendor = "deepgram"
	}
	return c
}

// Engine orchestrates live call coaching. Each call gets a worker
// goroutine that serializes all session mutation through an event queue:
// transcript fragments, utterance boundaries, and language model results
// all land in the same loop, so session state never needs fine-grained
// coordination between producers.
type Engine struct {
	logger    *logrus.Logger
	config    EngineConfig
	sessions  *session.Store
	bridge    *stt.Bridge
	llm       llm.Service
	publisher messaging.Publisher
	reports   *ReportCompiler

	workers map[string]*callWorker
	mutex   sync.RWMutex
}

// NewEngine wires the coaching engine. The bridge may be installed later
// via SetBridge when provider callbacks need the engine first.
func NewEngine(logger *logrus.Logger, config EngineConfig, sessions *session.Store,
	service llm.Service, publisher messaging.Publisher, reports *ReportCompiler) *Engine {
	return &Engine{
		logger:    logger,
		config:    config.withDefaults(),
		sessions:  sessions,
		llm:       service,
		publisher: publisher,
		reports:   reports,
		workers:   make(map[string]*callWorker),
	}
}

// SetBridge installs the audio bridge
func (e *Engine) SetBridge(bridge *stt.Bridge) {
	e.bridge = bridge
}

// StartCall creates the session and opens its transcription stream. A
// provider failure degrades the call to audio-only rather than failing
// the media connection.
func (e *Engine) StartCall(ctx context.Context, callID, streamID, vendor string) error {
	if vendor == "" {
		vendor = e.config.DefaultVendor
	}
	if e.config.MaxConcurrentCalls > 0 && e.sessions.Count() >= e.config.MaxConcurrentCalls {
		e.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"limit":   e.config.MaxConcurrentCalls,
		}).Warn("Rejecting call, concurrent call limit reached")
		return errors.ErrResourceExhausted
	}

	s := NewCallSession(callID, streamID)
	if err := e.sessions.Put(s); err != nil {
		return err
	}

	w := newCallWorker(e, s)
	e.mutex.Lock()
	e.workers[callID] = w
	e.mutex.Unlock()
	go w.run()

	if e.bridge != nil {
		if err := e.bridge.Open(ctx, vendor, callID); err != nil {
			e.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"vendor":  vendor,
				"error":   err,
			}).Error("Failed to open transcription stream, call continues untranscribed")
		}
	}

	e.reports.PersistCallRecord(ctx, &CallRecord{
		CallID:    callID,
		StreamID:  streamID,
		StartedAt: s.CreatedAt,
		Status:    "active",
	})
	e.publish(callID, messaging.EventCallStatus, map[string]string{
		"status":    "started",
		"stream_id": streamID,
	})
	e.logger.WithFields(logrus.Fields{
		"call_id":   callID,
		"stream_id": streamID,
		"vendor":    vendor,
	}).Info("Call session started")
	return nil
}

// HandleMedia forwards one audio frame to the call's transcription stream
func (e *Engine) HandleMedia(callID string, track Track, frame []byte) {
	if e.bridge == nil {
		return
	}
	if err := e.bridge.Feed(callID, stt.Track(track), frame); err != nil {
		e.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"track":   track,
		}).Debug("Dropped audio frame")
	}
}

// HandleTranscript receives provider transcript events. Events for
// unknown calls are dropped with a warning.
func (e *Engine) HandleTranscript(ev stt.TranscriptEvent) {
	w := e.worker(ev.CallID)
	if w == nil {
		e.logger.WithFields(logrus.Fields{
			"call_id":  ev.CallID,
			"provider": ev.Provider,
		}).Warn("Transcript event for unknown call, dropping")
		return
	}

	switch {
	case ev.UtteranceEnd:
		w.dispatch(event{kind: evUtteranceEnd, track: Track(ev.Track)})
	case ev.IsFinal:
		w.dispatch(event{kind: evFinalFragment, track: Track(ev.Track), text: ev.Text, confidence: ev.Confidence})
	default:
		w.dispatch(event{kind: evInterimFragment, track: Track(ev.Track), text: ev.Text})
	}
}

// HandleStreamError receives terminal provider stream errors
func (e *Engine) HandleStreamError(callID string, err error) {
	w := e.worker(callID)
	if w == nil {
		return
	}
	w.dispatch(event{kind: evProviderError, err: err})
}

// StopCall ends the call: trailing speech is flushed, tip usage is
// reconciled, the feedback report is compiled and persisted, and the
// session is destroyed. Returns the report.
func (e *Engine) StopCall(ctx context.Context, callID string) (*FeedbackReport, error) {
	e.mutex.Lock()
	w, ok := e.workers[callID]
	if ok {
		delete(e.workers, callID)
	}
	e.mutex.Unlock()
	if !ok {
		return nil, errors.ErrSessionNotFound
	}

	if e.bridge != nil {
		e.bridge.Close(callID)
	}

	// the stop channel bypasses the bounded event queue; the worker is
	// already out of the registry, so this is the only stop sender
	done := make(chan *FeedbackReport, 1)
	w.stop <- done

	select {
	case report := <-done:
		return report, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "timed out waiting for call teardown")
	}
}

// FinalizeEvicted tears down a session the idle janitor already removed
// from the store
func (e *Engine) FinalizeEvicted(entry session.Entry) {
	s, ok := entry.(*CallSession)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := e.StopCall(ctx, s.CallID); err != nil {
		e.logger.WithFields(logrus.Fields{
			"call_id": s.CallID,
			"error":   err,
		}).Warn("Failed to finalize evicted session")
	}
}

// Session returns the live session for a call, for read-only inspection
func (e *Engine) Session(callID string) (*CallSession, error) {
	entry, err := e.sessions.Get(callID)
	if err != nil {
		return nil, err
	}
	s, ok := entry.(*CallSession)
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) worker(callID string) *callWorker {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.workers[callID]
}

func (e *Engine) publish(callID string, eventType messaging.EventType, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, callID, eventType, payload); err != nil {
		e.logger.WithFields(logrus.Fields{
			"call_id":    callID,
			"event_type": eventType,
		}).Debug("Event publish failed")
	}
}
