package coaching

import (
	"context"
	"sync"
	"time"
)

// Speaker identifies which party produced a turn
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

// Track identifies a media stream direction. Track-to-speaker mapping is
// fixed per call direction: the inbound track carries the customer.
type Track string

const (
	TrackInbound  Track = "inbound"
	TrackOutbound Track = "outbound"
)

// SpeakerForTrack maps a media track to the speaker role it carries
func SpeakerForTrack(track Track) Speaker {
	if track == TrackOutbound {
		return SpeakerAgent
	}
	return SpeakerCustomer
}

// Stage is the detected conversation stage
type Stage string

const (
	StageOpening      Stage = "opening"
	StageDiscovery    Stage = "discovery"
	StagePresentation Stage = "presentation"
	StageObjection    Stage = "objection"
	StageClosing      Stage = "closing"
)

// Sentiment is a per-turn or rolling sentiment label
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Urgency grades how pressing a coaching tip is
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// RequirementCategory is the closed category set for client requirements
type RequirementCategory string

const (
	CategoryProduct     RequirementCategory = "product"
	CategoryPricing     RequirementCategory = "pricing"
	CategoryTimeline    RequirementCategory = "timeline"
	CategoryFeatures    RequirementCategory = "features"
	CategorySupport     RequirementCategory = "support"
	CategoryIntegration RequirementCategory = "integration"
	CategoryOther       RequirementCategory = "other"
)

// NormalizeCategory maps free-form category text onto the closed set
func NormalizeCategory(raw string) RequirementCategory {
	switch RequirementCategory(raw) {
	case CategoryProduct, CategoryPricing, CategoryTimeline,
		CategoryFeatures, CategorySupport, CategoryIntegration:
		return RequirementCategory(raw)
	default:
		return CategoryOther
	}
}

// Turn is one attributed, timestamped utterance. Immutable once created.
type Turn struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Sentiment  Sentiment `json:"sentiment"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
}

// TalkRatio holds the share of turns per party. Percentages sum to 100,
// or both are zero when no turns exist.
type TalkRatio struct {
	AgentPct    float64 `json:"agent_pct"`
	CustomerPct float64 `json:"customer_pct"`
}

// Analytics is the rolling per-session analytics state, mutated in place
// after every turn. Risk and opportunity matches are kept raw (duplicates
// preserved as a frequency signal); Snapshot exposes a deduplicated view.
type Analytics struct {
	Stage             Stage     `json:"stage"`
	CustomerSentiment Sentiment `json:"customer_sentiment"`
	TalkRatio         TalkRatio `json:"talk_ratio"`

	riskFactors   []string
	opportunities []string
}

// NewAnalytics returns the zero-state analytics for a fresh session
func NewAnalytics() *Analytics {
	return &Analytics{
		Stage:             StageOpening,
		CustomerSentiment: SentimentNeutral,
	}
}

// AnalyticsSnapshot is the published view of the analytics state
type AnalyticsSnapshot struct {
	Stage             Stage     `json:"stage"`
	CustomerSentiment Sentiment `json:"customer_sentiment"`
	TalkRatio         TalkRatio `json:"talk_ratio"`
	RiskFactors       []string  `json:"risk_factors"`
	Opportunities     []string  `json:"opportunities"`
}

// maxSignalTags caps the deduplicated signal view handed to prompts and subscribers
const maxSignalTags = 20

// Snapshot returns the published analytics view with deduplicated,
// order-preserving signal lists
func (a *Analytics) Snapshot() AnalyticsSnapshot {
	return AnalyticsSnapshot{
		Stage:             a.Stage,
		CustomerSentiment: a.CustomerSentiment,
		TalkRatio:         a.TalkRatio,
		RiskFactors:       dedupeTags(a.riskFactors, maxSignalTags),
		Opportunities:     dedupeTags(a.opportunities, maxSignalTags),
	}
}

// RawRiskFactors returns the raw, non-deduplicated risk list
func (a *Analytics) RawRiskFactors() []string {
	out := make([]string, len(a.riskFactors))
	copy(out, a.riskFactors)
	return out
}

// RawOpportunities returns the raw, non-deduplicated opportunity list
func (a *Analytics) RawOpportunities() []string {
	out := make([]string, len(a.opportunities))
	copy(out, a.opportunities)
	return out
}

func dedupeTags(tags []string, limit int) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// CoachingTip is one piece of real-time advice. Immutable once created
// except for the IsUsed flag, set only by post-call reconciliation.
type CoachingTip struct {
	ID              string    `json:"id"`
	Text            string    `json:"tip"`
	SuggestedScript string    `json:"suggested_script,omitempty"`
	Urgency         Urgency   `json:"urgency"`
	Reasoning       string    `json:"reasoning,omitempty"`
	Stage           Stage     `json:"stage"`
	Timestamp       time.Time `json:"timestamp"`
	IsUsed          bool      `json:"is_used"`
}

// ClientRequirement is one extracted client requirement. Immutable.
type ClientRequirement struct {
	ID            string              `json:"id"`
	Text          string              `json:"requirement"`
	Confidence    float64             `json:"confidence"`
	Category      RequirementCategory `json:"category"`
	Timestamp     time.Time           `json:"timestamp"`
	SourceExcerpt string              `json:"source_excerpt,omitempty"`
}

// CallStrategy is the evolving, versioned deal strategy. Replaced whole;
// Version increases by exactly one per regeneration.
type CallStrategy struct {
	Objective           string    `json:"objective"`
	RecommendedApproach string    `json:"recommended_approach"`
	FocusAreas          []string  `json:"focus_areas"`
	RiskFactors         []string  `json:"risk_factors"`
	Opportunities       []string  `json:"opportunities"`
	NextSteps           []string  `json:"next_steps"`
	Confidence          float64   `json:"confidence"`
	Version             int       `json:"version"`
	LastUpdated         time.Time `json:"last_updated"`
}

// FeedbackReport is the persisted end-of-call feedback artifact
type FeedbackReport struct {
	CallID           string             `json:"call_id"`
	GeneratedAt      time.Time          `json:"generated_at"`
	DurationS        float64            `json:"duration_seconds"`
	Scores           map[string]float64 `json:"scores"`
	Strengths        []string           `json:"strengths"`
	ImprovementAreas []string           `json:"improvement_areas"`
	StageProgression []string           `json:"stage_progression"`
	CallSummary      string             `json:"call_summary"`
	TipsIssued       int                `json:"tips_issued"`
	TipsUsed         int                `json:"tips_used"`
}

// CallRecord is the call metadata persisted alongside the report
type CallRecord struct {
	CallID    string    `json:"call_id"`
	StreamID  string    `json:"stream_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Status    string    `json:"status"`
}

// ReportStore is the persistence collaborator for call records and
// feedback reports. Writes are upserts keyed by call identifier.
type ReportStore interface {
	UpsertCallRecord(ctx context.Context, record *CallRecord) error
	UpsertFeedbackReport(ctx context.Context, report *FeedbackReport) error
}

// CallSession holds all per-call mutable state. It is owned by the session
// store, created on call start and destroyed after the post-call report.
// The per-session event loop serializes mutation; the mutex guards the few
// readers that run outside that loop (report compilation, live snapshots).
type CallSession struct {
	CallID    string    `json:"call_id"`
	StreamID  string    `json:"stream_id"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`

	Turns        []Turn              `json:"turns"`
	Analytics    *Analytics          `json:"analytics"`
	Tips         []*CoachingTip      `json:"tips"`
	Requirements []ClientRequirement `json:"requirements"`
	Strategy     *CallStrategy       `json:"strategy,omitempty"`
	LastTipAt    time.Time           `json:"last_tip_at,omitempty"`

	accumulator  *TurnAccumulator
	lastActivity time.Time
	mutex        sync.Mutex
}

// NewCallSession creates the state for a newly started call
func NewCallSession(callID, streamID string) *CallSession {
	now := time.Now()
	return &CallSession{
		CallID:       callID,
		StreamID:     streamID,
		CreatedAt:    now,
		Active:       true,
		Turns:        make([]Turn, 0, 64),
		Analytics:    NewAnalytics(),
		Tips:         make([]*CoachingTip, 0, 8),
		Requirements: make([]ClientRequirement, 0, 8),
		accumulator:  NewTurnAccumulator(),
		lastActivity: now,
	}
}

// SessionID implements session.Entry
func (s *CallSession) SessionID() string {
	return s.CallID
}

// LastActivityAt implements session.Entry
func (s *CallSession) LastActivityAt() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastActivity
}

func (s *CallSession) touch() {
	s.lastActivity = time.Now()
}

// Lock acquires the session mutex for readers outside the event loop
func (s *CallSession) Lock() { s.mutex.Lock() }

// Unlock releases the session mutex
func (s *CallSession) Unlock() { s.mutex.Unlock() }

// TranscriptCopy returns a snapshot of the accumulated turns
func (s *CallSession) TranscriptCopy() []Turn {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Turn, len(s.Turns))
	copy(out, s.Turns)
	return out
}

// TipsCopy returns a snapshot of the tip history
func (s *CallSession) TipsCopy() []*CoachingTip {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*CoachingTip, len(s.Tips))
	copy(out, s.Tips)
	return out
}

// RequirementsCopy returns a snapshot of the requirement list
func (s *CallSession) RequirementsCopy() []ClientRequirement {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]ClientRequirement, len(s.Requirements))
	copy(out, s.Requirements)
	return out
}
