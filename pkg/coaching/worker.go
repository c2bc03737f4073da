package coaching

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/messaging"
	"livecoach-server/pkg/metrics"
)

type eventKind int

const (
	evInterimFragment eventKind = iota
	evFinalFragment
	evUtteranceEnd
	evProviderError
	evTipResult
	evExtractionResult
	evStrategyResult
)

// event is one unit of work for a call worker. Provider callbacks and
// detached language model goroutines both feed the same queue.
type event struct {
	kind       eventKind
	track      Track
	text       string
	confidence float64
	err        error

	tip        *llm.TipResult
	candidates []llm.RequirementCandidate
	strategy   *llm.StrategyResult
}

// workerQueueSize bounds the event queue; a full queue drops transcript
// events rather than blocking provider reads
const workerQueueSize = 256

// callWorker owns one call session. Every mutation of the session flows
// through run(), which drains the event queue until stop.
type callWorker struct {
	engine *Engine
	s      *CallSession
	events chan event
	// stop bypasses the bounded event queue so teardown is never lost to
	// a burst; buffered for the single StopCall sender
	stop chan chan *FeedbackReport

	tipInFlight        bool
	extractionInFlight bool
	strategyInFlight   bool
	strategyPending    bool
}

func newCallWorker(engine *Engine, s *CallSession) *callWorker {
	return &callWorker{
		engine: engine,
		s:      s,
		events: make(chan event, workerQueueSize),
		stop:   make(chan chan *FeedbackReport, 1),
	}
}

func (w *callWorker) dispatch(ev event) {
	select {
	case w.events <- ev:
	default:
		w.engine.logger.WithFields(logrus.Fields{
			"call_id": w.s.CallID,
			"kind":    ev.kind,
		}).Warn("Call event queue full, dropping event")
	}
}

func (w *callWorker) run() {
	for {
		select {
		case ev := <-w.events:
			w.handleEvent(ev)
		case done := <-w.stop:
			// queued transcript events still count toward the call
			w.drainPending()
			w.handleStop(done)
			return
		}
	}
}

func (w *callWorker) handleEvent(ev event) {
	switch ev.kind {
	case evInterimFragment:
		w.handleInterim(ev)
	case evFinalFragment:
		w.handleFinal(ev)
	case evUtteranceEnd:
		w.handleUtteranceEnd(ev)
	case evProviderError:
		w.handleProviderError(ev)
	case evTipResult:
		w.handleTipResult(ev)
	case evExtractionResult:
		w.handleExtractionResult(ev)
	case evStrategyResult:
		w.handleStrategyResult(ev)
	}
}

func (w *callWorker) drainPending() {
	for {
		select {
		case ev := <-w.events:
			w.handleEvent(ev)
		default:
			return
		}
	}
}

func (w *callWorker) handleInterim(ev event) {
	w.s.Lock()
	w.s.accumulator.AddInterim(ev.track, ev.text)
	w.s.touch()
	w.s.Unlock()

	w.engine.publish(w.s.CallID, messaging.EventInterimTranscript, map[string]interface{}{
		"speaker": SpeakerForTrack(ev.track),
		"text":    ev.text,
	})
}

func (w *callWorker) handleFinal(ev event) {
	w.s.Lock()
	w.s.accumulator.AddFinal(ev.track, ev.text, ev.confidence)
	w.s.touch()
	w.s.Unlock()
}

func (w *callWorker) handleUtteranceEnd(ev event) {
	w.s.Lock()
	turn, ok := w.s.accumulator.Flush(ev.track)
	w.s.Unlock()
	if !ok {
		return
	}
	w.commitTurn(turn)
}

// commitTurn appends a completed turn, refreshes analytics, fans out the
// transcript and analytics events, and kicks off any language model work
// the new turn warrants
func (w *callWorker) commitTurn(turn Turn) {
	w.s.Lock()
	w.s.Turns = append(w.s.Turns, turn)
	UpdateAnalytics(w.s.Analytics, w.s.Turns, turn)
	snap := w.s.Analytics.Snapshot()
	w.s.touch()
	w.s.Unlock()

	metrics.TurnsAccumulated.WithLabelValues(string(turn.Speaker)).Inc()
	w.engine.publish(w.s.CallID, messaging.EventFinalTranscript, turn)
	w.engine.publish(w.s.CallID, messaging.EventAnalyticsUpdate, snap)

	if turn.Speaker == SpeakerCustomer {
		w.maybeGenerateTip()
		w.maybeExtractRequirements()
	}
}

func (w *callWorker) maybeGenerateTip() {
	if !ShouldRequestTip(w.s.LastTipAt, w.engine.config.TipMinInterval, w.tipInFlight) {
		if !w.tipInFlight {
			metrics.TipsSkippedRateLimit.Inc()
		}
		return
	}
	w.tipInFlight = true

	req := BuildTipRequest(w.s, w.engine.config.RecentTurns)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.engine.config.LLMTimeout)
		defer cancel()
		result, err := w.engine.llm.GenerateTip(ctx, &req)
		w.dispatch(event{kind: evTipResult, tip: result, err: err})
	}()
}

func (w *callWorker) handleTipResult(ev event) {
	w.tipInFlight = false
	if ev.err != nil {
		w.engine.logger.WithFields(logrus.Fields{
			"call_id": w.s.CallID,
			"error":   ev.err,
		}).Warn("Tip generation failed")
		return
	}

	w.s.Lock()
	tip, ok := AcceptTip(ev.tip, w.s.Tips, w.s.Analytics.Stage)
	if ok {
		w.s.Tips = append(w.s.Tips, tip)
		w.s.LastTipAt = time.Now()
	}
	w.s.Unlock()
	if !ok {
		return
	}

	w.engine.publish(w.s.CallID, messaging.EventCoachingTip, tip)
	w.engine.logger.WithFields(logrus.Fields{
		"call_id": w.s.CallID,
		"tip_id":  tip.ID,
		"urgency": tip.Urgency,
	}).Info("Coaching tip issued")
}

func (w *callWorker) maybeExtractRequirements() {
	if w.extractionInFlight {
		return
	}
	w.extractionInFlight = true

	req := BuildExtractionRequest(w.s, w.engine.config.RecentTurns)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.engine.config.LLMTimeout)
		defer cancel()
		candidates, err := w.engine.llm.ExtractRequirements(ctx, &req)
		w.dispatch(event{kind: evExtractionResult, candidates: candidates, err: err})
	}()
}

func (w *callWorker) handleExtractionResult(ev event) {
	w.extractionInFlight = false
	if ev.err != nil {
		w.engine.logger.WithFields(logrus.Fields{
			"call_id": w.s.CallID,
			"error":   ev.err,
		}).Warn("Requirement extraction failed")
		return
	}

	w.s.Lock()
	accepted := AcceptRequirements(ev.candidates, w.s.Requirements)
	w.s.Requirements = append(w.s.Requirements, accepted...)
	w.s.Unlock()

	// new requirements invalidate the current strategy
	if len(accepted) > 0 {
		w.maybeGenerateStrategy()
	}
}

func (w *callWorker) maybeGenerateStrategy() {
	if w.strategyInFlight {
		w.strategyPending = true
		return
	}
	w.strategyInFlight = true

	req := BuildStrategyRequest(w.s)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.engine.config.LLMTimeout)
		defer cancel()
		result, err := w.engine.llm.GenerateStrategy(ctx, &req)
		w.dispatch(event{kind: evStrategyResult, strategy: result, err: err})
	}()
}

func (w *callWorker) handleStrategyResult(ev event) {
	w.strategyInFlight = false
	if ev.err != nil {
		w.engine.logger.WithFields(logrus.Fields{
			"call_id": w.s.CallID,
			"error":   ev.err,
		}).Warn("Strategy generation failed")
	} else {
		w.s.Lock()
		w.s.Strategy = MergeStrategy(ev.strategy, w.s.Strategy)
		strategy := w.s.Strategy
		w.s.Unlock()
		w.engine.publish(w.s.CallID, messaging.EventStrategyUpdate, strategy)
	}

	// requirements that arrived mid-generation get their regeneration now
	if w.strategyPending {
		w.strategyPending = false
		w.maybeGenerateStrategy()
	}
}

func (w *callWorker) handleProviderError(ev event) {
	w.engine.logger.WithFields(logrus.Fields{
		"call_id": w.s.CallID,
		"error":   ev.err,
	}).Error("Transcription stream failed")
	w.engine.publish(w.s.CallID, messaging.EventCallStatus, map[string]string{
		"status": "transcription_error",
	})
}

func (w *callWorker) handleStop(done chan *FeedbackReport) {
	// trailing speech that never saw an utterance boundary still counts
	w.s.Lock()
	trailing := w.s.accumulator.FlushAll()
	w.s.Unlock()
	for _, turn := range trailing {
		w.commitTurn(turn)
	}

	w.s.Lock()
	w.s.Active = false
	w.s.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*w.engine.config.LLMTimeout)
	defer cancel()
	report, err := w.engine.reports.Compile(ctx, w.s)
	if err != nil {
		w.engine.logger.WithFields(logrus.Fields{
			"call_id": w.s.CallID,
			"error":   err,
		}).Error("Failed to compile feedback report")
	}

	w.engine.reports.PersistCallRecord(ctx, &CallRecord{
		CallID:    w.s.CallID,
		StreamID:  w.s.StreamID,
		StartedAt: w.s.CreatedAt,
		EndedAt:   time.Now(),
		Status:    "completed",
	})
	metrics.CallDuration.Observe(time.Since(w.s.CreatedAt).Seconds())
	w.engine.publish(w.s.CallID, messaging.EventCallStatus, map[string]string{
		"status": "completed",
	})

	if _, delErr := w.engine.sessions.Delete(w.s.CallID); delErr != nil {
		// already evicted by the janitor
		w.engine.logger.WithField("call_id", w.s.CallID).Debug("Session already removed from store")
	}

	w.engine.logger.WithFields(logrus.Fields{
		"call_id":  w.s.CallID,
		"turns":    len(w.s.Turns),
		"tips":     len(w.s.Tips),
		"duration": time.Since(w.s.CreatedAt).Round(time.Second),
	}).Info("Call session completed")

	if done != nil {
		done <- report
	}
}
