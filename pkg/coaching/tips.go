package coaching

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/metrics"
)

// noTipSentinel is the model's answer when it has no new advice; both the
// tip and script fields must carry it for the result to be discarded
const noTipSentinel = "SAME"

// ShouldRequestTip reports whether a new tip generation may start: enough
// time has passed since the last accepted tip and no request is in flight.
// inFlight is tracked by the caller's event loop.
func ShouldRequestTip(lastTipAt time.Time, minInterval time.Duration, inFlight bool) bool {
	if inFlight {
		return false
	}
	return time.Since(lastTipAt) >= minInterval
}

// AcceptTip validates a generated tip against the session's tip history
// and, when accepted, converts it into a stored CoachingTip. Rejections
// are the SAME sentinel (model had nothing new) and exact duplicates of
// an earlier tip's text and script pair.
func AcceptTip(result *llm.TipResult, history []*CoachingTip, stage Stage) (*CoachingTip, bool) {
	text := strings.TrimSpace(result.Tip)
	script := strings.TrimSpace(result.SuggestedScript)

	if text == "" {
		return nil, false
	}
	if text == noTipSentinel && script == noTipSentinel {
		return nil, false
	}
	for _, prev := range history {
		if prev.Text == text && prev.SuggestedScript == script {
			metrics.TipsDeduplicated.Inc()
			return nil, false
		}
	}

	tip := &CoachingTip{
		ID:              uuid.New().String(),
		Text:            text,
		SuggestedScript: script,
		Urgency:         normalizeUrgency(result.Urgency),
		Reasoning:       strings.TrimSpace(result.Reasoning),
		Stage:           stage,
		Timestamp:       time.Now(),
	}
	metrics.TipsGenerated.Inc()
	return tip, true
}

func normalizeUrgency(raw string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(raw))) {
	case UrgencyHigh:
		return UrgencyHigh
	case UrgencyLow:
		return UrgencyLow
	default:
		return UrgencyMedium
	}
}

// BuildTipRequest assembles the prompt payload for tip generation from the
// session's current state. recentTurns limits transcript size.
func BuildTipRequest(s *CallSession, recentTurns int) llm.TipRequest {
	turns := s.Turns
	if len(turns) > recentTurns {
		turns = turns[len(turns)-recentTurns:]
	}

	lines := make([]llm.TranscriptLine, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, llm.TranscriptLine{
			Speaker:   string(turn.Speaker),
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}

	history := make([]llm.TipHistoryEntry, 0, len(s.Tips))
	for _, tip := range s.Tips {
		history = append(history, llm.TipHistoryEntry{
			Text:            tip.Text,
			SuggestedScript: tip.SuggestedScript,
		})
	}

	latest := ""
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Speaker == SpeakerCustomer {
			latest = s.Turns[i].Text
			break
		}
	}

	snap := s.Analytics.Snapshot()
	return llm.TipRequest{
		Transcript:              lines,
		LatestCustomerUtterance: latest,
		Analytics: llm.AnalyticsSummary{
			Stage:             string(snap.Stage),
			CustomerSentiment: string(snap.CustomerSentiment),
			AgentTalkPct:      snap.TalkRatio.AgentPct,
			CustomerTalkPct:   snap.TalkRatio.CustomerPct,
			RiskFactors:       snap.RiskFactors,
			Opportunities:     snap.Opportunities,
		},
		PriorTips: history,
	}
}
