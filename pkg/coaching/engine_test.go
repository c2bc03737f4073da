package coaching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/messaging"
	"livecoach-server/pkg/session"
	"livecoach-server/pkg/stt"
)

type engineFixture struct {
	engine *Engine
	pub    *messaging.MemoryPublisher
	svc    *stubService
	store  *memoryStore
}

func newEngineFixture(t *testing.T, config EngineConfig) *engineFixture {
	t.Helper()
	logger := testLogger()
	svc := &stubService{}
	store := newMemoryStore()
	pub := messaging.NewMemoryPublisher(100)
	sessions := session.NewStore(logger, 0, nil)
	reports := NewReportCompiler(svc, store, logger, 10*time.Minute, 5*time.Minute, 30*time.Second)

	config.DefaultVendor = "mock"
	engine := NewEngine(logger, config, sessions, svc, pub, reports)

	manager := stt.NewManager(logger, "mock")
	require.NoError(t, manager.Register(stt.NewMockProvider(logger, engine.HandleTranscript)))
	engine.SetBridge(stt.NewBridge(manager, logger))

	return &engineFixture{engine: engine, pub: pub, svc: svc, store: store}
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition never held")
}

func TestEngineCallLifecycle(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	fx.svc.tipResult = &llm.TipResult{Tip: "Ask an open question", Urgency: "medium"}

	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	// duplicate start is rejected
	assert.ErrorIs(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""), errors.ErrSessionAlreadyExists)

	// the mock provider turns frames into final fragments plus boundaries
	fx.engine.HandleMedia("CA1", TrackInbound, []byte("we are looking for a faster tool"))
	waitFor(t, func() bool {
		s, err := fx.engine.Session("CA1")
		return err == nil && len(s.TranscriptCopy()) == 1
	})

	s, err := fx.engine.Session("CA1")
	require.NoError(t, err)
	turns := s.TranscriptCopy()
	assert.Equal(t, SpeakerCustomer, turns[0].Speaker)
	assert.Equal(t, "we are looking for a faster tool", turns[0].Text)

	// the first turn triggers tip generation
	waitFor(t, func() bool { return len(s.TipsCopy()) == 1 })
	assert.Equal(t, "Ask an open question", s.TipsCopy()[0].Text)

	report, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "CA1", report.CallID)
	assert.Equal(t, 1, report.TipsIssued)

	_, err = fx.engine.Session("CA1")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	// all event families reached subscribers
	assert.NotEmpty(t, fx.pub.EventsOfType(messaging.EventFinalTranscript))
	assert.NotEmpty(t, fx.pub.EventsOfType(messaging.EventAnalyticsUpdate))
	assert.NotEmpty(t, fx.pub.EventsOfType(messaging.EventCoachingTip))
	assert.NotEmpty(t, fx.pub.EventsOfType(messaging.EventCallStatus))
}

func TestEngineConcurrentCallLimit(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{MaxConcurrentCalls: 1})
	ctx := context.Background()

	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))
	assert.ErrorIs(t, fx.engine.StartCall(ctx, "CA2", "MZ2", ""), errors.ErrResourceExhausted)

	_, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
	assert.NoError(t, fx.engine.StartCall(ctx, "CA2", "MZ2", ""))
	_, _ = fx.engine.StopCall(ctx, "CA2")
}

func TestEngineStopUnknownCall(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	_, err := fx.engine.StopCall(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestEngineTranscriptForUnknownCallDropped(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	// must not panic or create state
	fx.engine.HandleTranscript(stt.TranscriptEvent{CallID: "ghost", Text: "hello", IsFinal: true})
	_, err := fx.engine.Session("ghost")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestEngineTipRateLimit(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{TipMinInterval: time.Hour})
	fx.svc.tipResult = &llm.TipResult{Tip: "first tip"}

	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	fx.engine.HandleMedia("CA1", TrackInbound, []byte("first utterance"))
	s, _ := fx.engine.Session("CA1")
	waitFor(t, func() bool { return len(s.TipsCopy()) == 1 })

	// further turns inside the interval generate no new tips
	fx.engine.HandleMedia("CA1", TrackInbound, []byte("second utterance"))
	fx.engine.HandleMedia("CA1", TrackInbound, []byte("third utterance"))
	waitFor(t, func() bool { return len(s.TranscriptCopy()) == 3 })
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.TipsCopy(), 1)

	_, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
}

func TestEngineRequirementsDriveStrategy(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	fx.svc.candidates = []llm.RequirementCandidate{
		{Requirement: "needs CRM integration", Confidence: 0.9, Category: "integration"},
	}
	fx.svc.strategyResult = &llm.StrategyResult{Objective: "demo the integration", Confidence: 0.8}

	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	fx.engine.HandleMedia("CA1", TrackInbound, []byte("it must integrate with our CRM"))
	s, _ := fx.engine.Session("CA1")
	waitFor(t, func() bool {
		s.Lock()
		defer s.Unlock()
		return s.Strategy != nil
	})

	s.Lock()
	assert.Equal(t, 1, s.Strategy.Version)
	assert.Equal(t, "demo the integration", s.Strategy.Objective)
	require.Len(t, s.Requirements, 1)
	assert.Equal(t, "needs CRM integration", s.Requirements[0].Text)
	s.Unlock()

	assert.NotEmpty(t, fx.pub.EventsOfType(messaging.EventStrategyUpdate))

	_, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
}

func TestEngineAgentTurnsSkipExtraction(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	fx.svc.candidates = []llm.RequirementCandidate{
		{Requirement: "should not appear", Confidence: 0.9},
	}

	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	// outbound is the agent; extraction only follows customer speech
	fx.engine.HandleMedia("CA1", TrackOutbound, []byte("let me tell you about the product"))
	s, _ := fx.engine.Session("CA1")
	waitFor(t, func() bool { return len(s.TranscriptCopy()) == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.RequirementsCopy())

	_, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
}

func TestEngineStopSurvivesFullEventQueue(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	fx.engine.mutex.RLock()
	w := fx.engine.workers["CA1"]
	fx.engine.mutex.RUnlock()
	require.NotNil(t, w)

	// saturate the bounded queue faster than the worker drains it; the
	// stop signal must still reach the worker
	for i := 0; i < 4*workerQueueSize; i++ {
		w.dispatch(event{kind: evInterimFragment, track: TrackInbound, text: "chatter"})
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	report, err := fx.engine.StopCall(stopCtx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, report)

	_, err = fx.engine.Session("CA1")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestEngineAgentTurnsSkipTips(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})
	fx.svc.tipResult = &llm.TipResult{Tip: "should not appear", SuggestedScript: "never", Urgency: "high"}

	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	// agent speech alone never triggers tip generation
	fx.engine.HandleMedia("CA1", TrackOutbound, []byte("let me walk you through the plan"))
	s, _ := fx.engine.Session("CA1")
	waitFor(t, func() bool { return len(s.TranscriptCopy()) == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fx.svc.tipCallCount())
	assert.Empty(t, s.TipsCopy())

	_, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
}

func TestEngineStopFlushesTrailingSpeech(t *testing.T) {
	fx := newEngineFixture(t, EngineConfig{})

	ctx := context.Background()
	require.NoError(t, fx.engine.StartCall(ctx, "CA1", "MZ1", ""))

	// inject a final fragment with no utterance boundary
	fx.engine.HandleTranscript(stt.TranscriptEvent{
		CallID: "CA1", Track: stt.TrackOutbound, Text: "thanks, goodbye", IsFinal: true, Confidence: 0.8,
	})

	report, err := fx.engine.StopCall(ctx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Greater(t, report.DurationS, 0.0)

	events := fx.pub.EventsOfType(messaging.EventFinalTranscript)
	require.Len(t, events, 1)
	turn, ok := events[0].Payload.(Turn)
	require.True(t, ok)
	assert.Equal(t, "thanks, goodbye", turn.Text)
	assert.Equal(t, SpeakerAgent, turn.Speaker)
}
