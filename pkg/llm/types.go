package llm

import (
	"context"
	"time"
)

// TranscriptLine is one labeled utterance handed to the model
type TranscriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AnalyticsSummary is the rolling analytics snapshot included in prompts
type AnalyticsSummary struct {
	Stage             string   `json:"stage"`
	CustomerSentiment string   `json:"customer_sentiment"`
	AgentTalkPct      float64  `json:"agent_talk_pct"`
	CustomerTalkPct   float64  `json:"customer_talk_pct"`
	RiskFactors       []string `json:"risk_factors,omitempty"`
	Opportunities     []string `json:"opportunities,omitempty"`
}

// TipHistoryEntry is a previously emitted tip, included so the model avoids repeats
type TipHistoryEntry struct {
	Text            string `json:"tip"`
	SuggestedScript string `json:"suggested_script,omitempty"`
}

// TipRequest is the payload for coaching tip generation
type TipRequest struct {
	Transcript              []TranscriptLine  `json:"transcript"`
	LatestCustomerUtterance string            `json:"latest_customer_utterance"`
	PriorTips               []TipHistoryEntry `json:"prior_tips,omitempty"`
	Analytics               AnalyticsSummary  `json:"analytics"`
}

// TipResult is the structured coaching tip returned by the model.
// A result with both Tip and SuggestedScript equal to "SAME" means the model
// had nothing new to say and the result must be discarded.
type TipResult struct {
	Tip             string `json:"tip"`
	SuggestedScript string `json:"suggested_script"`
	Urgency         string `json:"urgency"`
	Reasoning       string `json:"reasoning"`
	Sentiment       string `json:"sentiment"`
}

// ExistingRequirement is an already-extracted requirement included to avoid duplicates
type ExistingRequirement struct {
	Text     string `json:"requirement"`
	Category string `json:"category"`
}

// ExtractionRequest is the payload for structured requirement extraction
type ExtractionRequest struct {
	Transcript              []TranscriptLine      `json:"transcript"`
	LatestCustomerUtterance string                `json:"latest_customer_utterance"`
	Existing                []ExistingRequirement `json:"existing_requirements,omitempty"`
}

// RequirementCandidate is one extracted requirement candidate
type RequirementCandidate struct {
	Requirement   string  `json:"requirement"`
	Confidence    float64 `json:"confidence"`
	Category      string  `json:"category"`
	SourceExcerpt string  `json:"source_excerpt"`
}

// RequirementInput is a requirement handed to strategy generation
type RequirementInput struct {
	Text       string  `json:"requirement"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// StrategyRequest is the payload for call strategy generation. It always
// carries the full accumulated requirement set, never a delta.
type StrategyRequest struct {
	Requirements []RequirementInput `json:"requirements"`
	Analytics    AnalyticsSummary   `json:"analytics"`
}

// StrategyResult is the structured call strategy returned by the model
type StrategyResult struct {
	Objective           string   `json:"objective"`
	RecommendedApproach string   `json:"recommended_approach"`
	FocusAreas          []string `json:"focus_areas"`
	RiskFactors         []string `json:"risk_factors"`
	Opportunities       []string `json:"opportunities"`
	NextSteps           []string `json:"next_steps"`
	Confidence          float64  `json:"confidence"`
}

// FeedbackRequest is the payload for end-of-call feedback generation
type FeedbackRequest struct {
	Transcript []TranscriptLine  `json:"transcript"`
	Analytics  AnalyticsSummary  `json:"analytics"`
	Tips       []TipHistoryEntry `json:"tips,omitempty"`
	DurationS  float64           `json:"duration_seconds"`
}

// FeedbackResult is the structured post-call feedback report
type FeedbackResult struct {
	Scores           map[string]float64 `json:"scores"`
	Strengths        []string           `json:"strengths"`
	ImprovementAreas []string           `json:"improvement_areas"`
	StageProgression []string           `json:"stage_progression"`
	CallSummary      string             `json:"call_summary"`
}

// ReconcileTip identifies a tip during tip-usage reconciliation
type ReconcileTip struct {
	ID              string `json:"id"`
	Text            string `json:"tip"`
	SuggestedScript string `json:"suggested_script,omitempty"`
}

// ReconciliationRequest asks the model which tips the agent acted on
type ReconciliationRequest struct {
	AgentTurns []TranscriptLine `json:"agent_turns"`
	Tips       []ReconcileTip   `json:"tips"`
}

// TipUsage is the reconciliation verdict for a single tip
type TipUsage struct {
	TipID  string `json:"tip_id"`
	IsUsed bool   `json:"is_used"`
}

// Service is the language model collaborator consumed by the coaching engine.
// Every method is a bounded request/response pair; callers treat errors as
// "no result this cycle" and never let them fault the session.
type Service interface {
	GenerateTip(ctx context.Context, req *TipRequest) (*TipResult, error)
	ExtractRequirements(ctx context.Context, req *ExtractionRequest) ([]RequirementCandidate, error)
	GenerateStrategy(ctx context.Context, req *StrategyRequest) (*StrategyResult, error)
	GenerateFeedback(ctx context.Context, req *FeedbackRequest) (*FeedbackResult, error)
	ReconcileTips(ctx context.Context, req *ReconciliationRequest) ([]TipUsage, error)
}
