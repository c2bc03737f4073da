package coaching

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/metrics"
)

// ReportCompiler builds and persists the post-call feedback artifact.
// It runs once per call, after media has stopped and the final turns
// were flushed.
type ReportCompiler struct {
	llm    llm.Service
	store  ReportStore
	logger *logrus.Logger

	// calls at or above shortCallThreshold reconcile tips in windows
	shortCallThreshold time.Duration
	windowSize         time.Duration
	windowSlack        time.Duration
}

// NewReportCompiler wires the report compiler. store may be nil when
// persistence is disabled.
func NewReportCompiler(service llm.Service, store ReportStore, logger *logrus.Logger,
	shortCallThreshold, windowSize, windowSlack time.Duration) *ReportCompiler {
	return &ReportCompiler{
		llm:                service,
		store:              store,
		logger:             logger,
		shortCallThreshold: shortCallThreshold,
		windowSize:         windowSize,
		windowSlack:        windowSlack,
	}
}

// PersistCallRecord upserts the call metadata row. Persistence being
// disabled or failing never affects the call itself.
func (rc *ReportCompiler) PersistCallRecord(ctx context.Context, record *CallRecord) {
	if rc.store == nil {
		return
	}
	if err := rc.store.UpsertCallRecord(ctx, record); err != nil {
		rc.logger.WithFields(logrus.Fields{
			"call_id": record.CallID,
			"error":   err,
		}).Error("Failed to persist call record")
	}
}

// Compile reconciles tip usage, generates the feedback report, and
// persists both. LLM failures degrade to a heuristic-only report rather
// than losing the call record.
func (rc *ReportCompiler) Compile(ctx context.Context, s *CallSession) (*FeedbackReport, error) {
	turns := s.TranscriptCopy()
	tips := s.TipsCopy()
	duration := time.Since(s.CreatedAt)

	rc.reconcileTips(ctx, s.CallID, turns, tips, duration)

	report := &FeedbackReport{
		CallID:      s.CallID,
		GeneratedAt: time.Now(),
		DurationS:   duration.Seconds(),
		TipsIssued:  len(tips),
	}
	for _, tip := range tips {
		if tip.IsUsed {
			report.TipsUsed++
		}
	}

	s.Lock()
	snap := s.Analytics.Snapshot()
	s.Unlock()

	result, err := rc.llm.GenerateFeedback(ctx, rc.buildFeedbackRequest(turns, tips, snap, duration))
	if err != nil {
		rc.logger.WithFields(logrus.Fields{
			"call_id": s.CallID,
			"error":   err,
		}).Warn("Feedback generation failed, compiling heuristic report")
		report.Scores = map[string]float64{}
		report.StageProgression = []string{string(snap.Stage)}
		report.CallSummary = "Feedback generation unavailable for this call."
	} else {
		report.Scores = result.Scores
		report.Strengths = result.Strengths
		report.ImprovementAreas = result.ImprovementAreas
		report.StageProgression = result.StageProgression
		report.CallSummary = result.CallSummary
	}

	if rc.store != nil {
		if err := rc.store.UpsertFeedbackReport(ctx, report); err != nil {
			rc.logger.WithFields(logrus.Fields{
				"call_id": s.CallID,
				"error":   err,
			}).Error("Failed to persist feedback report")
		}
	}

	metrics.ReportsCompiled.Inc()
	return report, nil
}

// reconcileTips asks the model which tips the agent acted on and marks
// tips in place. Short calls use one pass over the whole agent
// transcript; longer calls reconcile per window so tips are only matched
// against speech near when they were issued.
func (rc *ReportCompiler) reconcileTips(ctx context.Context, callID string, turns []Turn, tips []*CoachingTip, duration time.Duration) {
	if len(tips) == 0 {
		return
	}

	if duration < rc.shortCallThreshold {
		rc.reconcileBatch(ctx, callID, agentTurns(turns), tips)
		return
	}

	start := earliestTimestamp(turns, tips)
	end := latestTimestamp(turns, tips)
	for winStart := start; winStart.Before(end.Add(rc.windowSlack)); winStart = winStart.Add(rc.windowSize) {
		winEnd := winStart.Add(rc.windowSize)

		var winTips []*CoachingTip
		for _, tip := range tips {
			if !tip.Timestamp.Before(winStart.Add(-rc.windowSlack)) && tip.Timestamp.Before(winEnd.Add(rc.windowSlack)) {
				winTips = append(winTips, tip)
			}
		}
		if len(winTips) == 0 {
			continue
		}

		var winTurns []Turn
		for _, turn := range agentTurns(turns) {
			if !turn.Timestamp.Before(winStart) && turn.Timestamp.Before(winEnd) {
				winTurns = append(winTurns, turn)
			}
		}
		rc.reconcileBatch(ctx, callID, winTurns, winTips)
	}
}

func (rc *ReportCompiler) reconcileBatch(ctx context.Context, callID string, agentTurns []Turn, tips []*CoachingTip) {
	if len(agentTurns) == 0 || len(tips) == 0 {
		return
	}

	req := &llm.ReconciliationRequest{
		AgentTurns: make([]llm.TranscriptLine, 0, len(agentTurns)),
		Tips:       make([]llm.ReconcileTip, 0, len(tips)),
	}
	for _, turn := range agentTurns {
		req.AgentTurns = append(req.AgentTurns, llm.TranscriptLine{
			Speaker:   string(turn.Speaker),
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}
	byID := make(map[string]*CoachingTip, len(tips))
	for _, tip := range tips {
		byID[tip.ID] = tip
		req.Tips = append(req.Tips, llm.ReconcileTip{
			ID:              tip.ID,
			Text:            tip.Text,
			SuggestedScript: tip.SuggestedScript,
		})
	}

	usages, err := rc.llm.ReconcileTips(ctx, req)
	if err != nil {
		rc.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"tips":    len(tips),
			"error":   err,
		}).Warn("Tip reconciliation failed, leaving tips unmarked")
		return
	}
	for _, usage := range usages {
		if tip, ok := byID[usage.TipID]; ok && usage.IsUsed {
			tip.IsUsed = true
		}
	}
}

func (rc *ReportCompiler) buildFeedbackRequest(turns []Turn, tips []*CoachingTip, snap AnalyticsSnapshot, duration time.Duration) *llm.FeedbackRequest {
	req := &llm.FeedbackRequest{
		Transcript: make([]llm.TranscriptLine, 0, len(turns)),
		Analytics: llm.AnalyticsSummary{
			Stage:             string(snap.Stage),
			CustomerSentiment: string(snap.CustomerSentiment),
			AgentTalkPct:      snap.TalkRatio.AgentPct,
			CustomerTalkPct:   snap.TalkRatio.CustomerPct,
			RiskFactors:       snap.RiskFactors,
			Opportunities:     snap.Opportunities,
		},
		DurationS: duration.Seconds(),
	}
	for _, turn := range turns {
		req.Transcript = append(req.Transcript, llm.TranscriptLine{
			Speaker:   string(turn.Speaker),
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}
	for _, tip := range tips {
		req.Tips = append(req.Tips, llm.TipHistoryEntry{
			Text:            tip.Text,
			SuggestedScript: tip.SuggestedScript,
		})
	}
	return req
}

func agentTurns(turns []Turn) []Turn {
	var out []Turn
	for _, turn := range turns {
		if turn.Speaker == SpeakerAgent {
			out = append(out, turn)
		}
	}
	return out
}

func earliestTimestamp(turns []Turn, tips []*CoachingTip) time.Time {
	var earliest time.Time
	for _, turn := range turns {
		if earliest.IsZero() || turn.Timestamp.Before(earliest) {
			earliest = turn.Timestamp
		}
	}
	for _, tip := range tips {
		if earliest.IsZero() || tip.Timestamp.Before(earliest) {
			earliest = tip.Timestamp
		}
	}
	return earliest
}

func latestTimestamp(turns []Turn, tips []*CoachingTip) time.Time {
	var latest time.Time
	for _, turn := range turns {
		if turn.Timestamp.After(latest) {
			latest = turn.Timestamp
		}
	}
	for _, tip := range tips {
		if tip.Timestamp.After(latest) {
			latest = tip.Timestamp
		}
	}
	return latest
}
