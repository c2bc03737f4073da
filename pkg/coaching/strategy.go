package coaching

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/metrics"
)

// requirementConfidenceFloor drops low-confidence extraction candidates
const requirementConfidenceFloor = 0.6

// AcceptRequirements filters extraction candidates against the confidence
// floor and the session's existing requirements, returning the accepted
// ones as stored requirements. Duplicate detection is exact text match.
func AcceptRequirements(candidates []llm.RequirementCandidate, existing []ClientRequirement) []ClientRequirement {
	known := make(map[string]bool, len(existing))
	for _, req := range existing {
		known[req.Text] = true
	}

	var accepted []ClientRequirement
	for _, cand := range candidates {
		text := strings.TrimSpace(cand.Requirement)
		if text == "" || cand.Confidence <= requirementConfidenceFloor {
			continue
		}
		if known[text] {
			continue
		}
		known[text] = true
		accepted = append(accepted, ClientRequirement{
			ID:            uuid.New().String(),
			Text:          text,
			Confidence:    cand.Confidence,
			Category:      NormalizeCategory(cand.Category),
			Timestamp:     time.Now(),
			SourceExcerpt: strings.TrimSpace(cand.SourceExcerpt),
		})
	}
	if len(accepted) > 0 {
		metrics.RequirementsAccepted.Add(float64(len(accepted)))
	}
	return accepted
}

// MergeStrategy converts a generated strategy into the session's next
// strategy version. The version is assigned at merge time from the
// current strategy, so it increases by exactly one regardless of how many
// regenerations raced or failed in between.
func MergeStrategy(result *llm.StrategyResult, current *CallStrategy) *CallStrategy {
	version := 1
	if current != nil {
		version = current.Version + 1
	}
	next := &CallStrategy{
		Objective:           strings.TrimSpace(result.Objective),
		RecommendedApproach: strings.TrimSpace(result.RecommendedApproach),
		FocusAreas:          result.FocusAreas,
		RiskFactors:         result.RiskFactors,
		Opportunities:       result.Opportunities,
		NextSteps:           result.NextSteps,
		Confidence:          result.Confidence,
		Version:             version,
		LastUpdated:         time.Now(),
	}
	metrics.StrategyVersions.Inc()
	return next
}

// BuildExtractionRequest assembles the prompt payload for requirement
// extraction from recent customer speech
func BuildExtractionRequest(s *CallSession, recentTurns int) llm.ExtractionRequest {
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
	existing := make([]llm.ExistingRequirement, 0, len(s.Requirements))
	for _, req := range s.Requirements {
		existing = append(existing, llm.ExistingRequirement{
			Text:     req.Text,
			Category: string(req.Category),
		})
	}
	latest := ""
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Speaker == SpeakerCustomer {
			latest = s.Turns[i].Text
			break
		}
	}
	return llm.ExtractionRequest{
		Transcript:              lines,
		LatestCustomerUtterance: latest,
		Existing:                existing,
	}
}

// BuildStrategyRequest assembles the prompt payload for a strategy
// regeneration from the full requirement set and current analytics
func BuildStrategyRequest(s *CallSession) llm.StrategyRequest {
	reqs := make([]llm.RequirementInput, 0, len(s.Requirements))
	for _, req := range s.Requirements {
		reqs = append(reqs, llm.RequirementInput{
			Text:       req.Text,
			Category:   string(req.Category),
			Confidence: req.Confidence,
		})
	}
	snap := s.Analytics.Snapshot()
	return llm.StrategyRequest{
		Requirements: reqs,
		Analytics: llm.AnalyticsSummary{
			Stage:             string(snap.Stage),
			CustomerSentiment: string(snap.CustomerSentiment),
			AgentTalkPct:      snap.TalkRatio.AgentPct,
			CustomerTalkPct:   snap.TalkRatio.CustomerPct,
			RiskFactors:       snap.RiskFactors,
			Opportunities:     snap.Opportunities,
		},
	}
}
