package coaching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecoach-server/pkg/llm"
)

func TestShouldRequestTip(t *testing.T) {
	interval := 15 * time.Second

	assert.True(t, ShouldRequestTip(time.Time{}, interval, false), "first tip is never rate limited")
	assert.False(t, ShouldRequestTip(time.Now(), interval, false), "recent tip blocks")
	assert.False(t, ShouldRequestTip(time.Time{}, interval, true), "in-flight request blocks")
	assert.True(t, ShouldRequestTip(time.Now().Add(-16*time.Second), interval, false))
}

func TestAcceptTip(t *testing.T) {
	tip, ok := AcceptTip(&llm.TipResult{
		Tip:             "Ask about their timeline",
		SuggestedScript: "When are you hoping to have this in place?",
		Urgency:         "high",
		Reasoning:       "customer mentioned a deadline",
	}, nil, StageDiscovery)
	require.True(t, ok)
	assert.NotEmpty(t, tip.ID)
	assert.Equal(t, UrgencyHigh, tip.Urgency)
	assert.Equal(t, StageDiscovery, tip.Stage)
	assert.False(t, tip.IsUsed)
}

func TestAcceptTipSameSentinel(t *testing.T) {
	_, ok := AcceptTip(&llm.TipResult{Tip: "SAME", SuggestedScript: "SAME"}, nil, StageDiscovery)
	assert.False(t, ok)

	// SAME in only one field is a real tip
	tip, ok := AcceptTip(&llm.TipResult{Tip: "SAME", SuggestedScript: "say this"}, nil, StageDiscovery)
	require.True(t, ok)
	assert.Equal(t, "SAME", tip.Text)
}

func TestAcceptTipDedupes(t *testing.T) {
	history := []*CoachingTip{{Text: "Slow down", SuggestedScript: "Take a breath"}}

	_, ok := AcceptTip(&llm.TipResult{Tip: "Slow down", SuggestedScript: "Take a breath"}, history, StageOpening)
	assert.False(t, ok)

	// same text with a different script is new advice
	_, ok = AcceptTip(&llm.TipResult{Tip: "Slow down", SuggestedScript: "Pause before answering"}, history, StageOpening)
	assert.True(t, ok)
}

func TestAcceptTipEmptyText(t *testing.T) {
	_, ok := AcceptTip(&llm.TipResult{Tip: "  "}, nil, StageOpening)
	assert.False(t, ok)
}

func TestAcceptTipUnknownUrgencyDefaultsMedium(t *testing.T) {
	tip, ok := AcceptTip(&llm.TipResult{Tip: "do a thing", Urgency: "critical!!"}, nil, StageOpening)
	require.True(t, ok)
	assert.Equal(t, UrgencyMedium, tip.Urgency)
}

func TestBuildTipRequestLimitsTranscript(t *testing.T) {
	s := NewCallSession("CA1", "MZ1")
	for i := 0; i < 30; i++ {
		s.Turns = append(s.Turns, Turn{Speaker: SpeakerAgent, Text: "turn"})
	}
	s.Tips = append(s.Tips, &CoachingTip{Text: "earlier tip"})

	req := BuildTipRequest(s, 20)
	assert.Len(t, req.Transcript, 20)
	require.Len(t, req.PriorTips, 1)
	assert.Equal(t, "earlier tip", req.PriorTips[0].Text)
	assert.Equal(t, string(StageOpening), req.Analytics.Stage)
}
