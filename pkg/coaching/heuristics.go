package coaching

import (
	"strings"
)

// Keyword lexicons behind the deterministic per-turn classifiers. Matching
// is case-insensitive substring matching against the lowercased turn text.

var positiveKeywords = []string{
	"great", "perfect", "excellent", "love", "interested", "sounds good",
	"yes", "definitely", "absolutely", "helpful", "thank", "awesome",
	"impressive", "like that", "makes sense", "good fit",
}

var negativeKeywords = []string{
	"no", "not interested", "expensive", "too much", "problem", "issue",
	"concern", "worried", "frustrat", "disappoint", "cancel", "unhappy",
	"waste", "confus", "difficult", "can't", "won't work",
}

var stageKeywords = map[Stage][]string{
	StageObjection: {
		"but", "however", "expensive", "too much", "competitor", "concern",
		"not sure", "hesitant", "other offers", "other options", "cheaper",
		"why should", "what about",
	},
	StageClosing: {
		"contract", "sign", "purchase", "buy", "deal", "agreement",
		"move forward", "next steps", "get started", "paperwork", "invoice",
	},
	StagePresentation: {
		"feature", "benefit", "solution", "our product", "we offer",
		"demonstrat", "capability", "let me show", "works by",
	},
	StageDiscovery: {
		"tell me about", "what do you", "how do you", "currently",
		"your process", "your team", "challenge", "pain point", "looking for",
		"what are your", "how many",
	},
}

// stagePriority orders the stage scan: the first stage with any keyword
// match in the window wins, so an objection is surfaced even when the
// same turn is dense with discovery or presentation language.
var stagePriority = []Stage{StageObjection, StageClosing, StagePresentation, StageDiscovery}

var riskKeywords = map[string][]string{
	"price objection": {"expensive", "too much", "cheaper", "price", "cost", "budget", "afford", "how much"},
	"competition":     {"competitor", "other offers", "other options", "other vendor", "alternative", "shopping around"},
	"urgency":         {"fast", "urgent", "asap", "deadline", "quickly", "right away", "time sensitive", "running out"},
	"hesitation":      {"not sure", "need to think", "hesitant", "maybe later", "talk to my", "get back to you"},
	"dissatisfaction": {"frustrat", "disappoint", "unhappy", "bad experience", "waste"},
}

var opportunityKeywords = map[string][]string{
	"buying signal":     {"how much", "pricing", "when can we", "how soon", "what would it take", "next steps"},
	"expansion":         {"our team", "whole company", "other departments", "scale", "grow"},
	"pain acknowledged": {"struggling", "pain point", "big problem for us", "costing us", "losing"},
	"engagement":        {"interested", "tell me more", "sounds good", "like that", "makes sense"},
}

var intentKeywords = map[string][]string{
	"question":  {"?", "how ", "what ", "when ", "where ", "why ", "who ", "can you", "could you", "do you"},
	"objection": {"but ", "however", "too much", "expensive", "not sure", "concern"},
	"agreement": {"yes", "sure", "okay", "sounds good", "agree", "definitely", "absolutely"},
	"rejection": {"no thanks", "not interested", "no,", "won't", "can't do"},
}

// openingTurnThreshold is the turn count below which a session with no
// stage keyword matches is still considered to be in the opening stage
const openingTurnThreshold = 6

// stageWindow is how many trailing turns stage detection inspects
const stageWindow = 5

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// ClassifySentiment labels a single turn's text. Ties and no-match both
// resolve to neutral.
func ClassifySentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	pos := countMatches(lower, positiveKeywords)
	neg := countMatches(lower, negativeKeywords)
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// ClassifyIntent assigns a coarse intent label to a turn, or "statement"
// when nothing matches. Objections are checked before questions so that
// "too much for what we need" does not read as a question off "what".
func ClassifyIntent(text string) string {
	lower := strings.ToLower(text)
	for _, intent := range []string{"objection", "rejection", "question", "agreement"} {
		if containsAny(lower, intentKeywords[intent]) {
			return intent
		}
	}
	return "statement"
}

// DetectStage examines the trailing turns and returns the current stage.
// Stages are scanned in priority order and the first one with a keyword
// match anywhere in the window wins. With no matches, short sessions stay
// in opening and longer ones default to discovery.
func DetectStage(turns []Turn) Stage {
	window := turns
	if len(window) > stageWindow {
		window = window[len(window)-stageWindow:]
	}

	for _, stage := range stagePriority {
		for _, turn := range window {
			if containsAny(strings.ToLower(turn.Text), stageKeywords[stage]) {
				return stage
			}
		}
	}
	if len(turns) < openingTurnThreshold {
		return StageOpening
	}
	return StageDiscovery
}

// DetectSignals returns the risk tags and opportunity tags matched by one
// turn's text. Tags repeat across turns; the analytics layer keeps the raw
// stream and dedupes at snapshot time.
func DetectSignals(text string) (risks []string, opportunities []string) {
	lower := strings.ToLower(text)
	for tag, keywords := range riskKeywords {
		if containsAny(lower, keywords) {
			risks = append(risks, tag)
		}
	}
	for tag, keywords := range opportunityKeywords {
		if containsAny(lower, keywords) {
			opportunities = append(opportunities, tag)
		}
	}
	return risks, opportunities
}

// WordCount counts whitespace-separated tokens
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// DerivedConfidence estimates transcript confidence from utterance length
// when the provider did not supply one. Longer utterances decode more
// reliably, capped at 0.95.
func DerivedConfidence(text string) float64 {
	words := WordCount(text)
	if words == 0 {
		return 0
	}
	conf := 0.5 + float64(words)*0.05
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
