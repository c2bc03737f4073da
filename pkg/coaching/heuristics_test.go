package coaching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySentiment(t *testing.T) {
	assert.Equal(t, SentimentPositive, ClassifySentiment("That sounds great, I'm definitely interested"))
	assert.Equal(t, SentimentNegative, ClassifySentiment("This is way too expensive and a real problem for us"))
	assert.Equal(t, SentimentNeutral, ClassifySentiment("We have about forty employees"))
}

func TestClassifySentimentTieIsNeutral(t *testing.T) {
	// one positive keyword, one negative keyword
	assert.Equal(t, SentimentNeutral, ClassifySentiment("great but expensive"))
}

func TestClassifyIntent(t *testing.T) {
	assert.Equal(t, "question", ClassifyIntent("How does the onboarding work?"))
	assert.Equal(t, "objection", ClassifyIntent("That seems too much for what we need"))
	assert.Equal(t, "agreement", ClassifyIntent("Sounds good, let's do it"))
	assert.Equal(t, "rejection", ClassifyIntent("No thanks, we'll pass"))
	assert.Equal(t, "statement", ClassifyIntent("We use spreadsheets today"))
}

func TestDetectStageOpening(t *testing.T) {
	turns := []Turn{
		{Speaker: SpeakerAgent, Text: "Hi, thanks for taking my call"},
		{Speaker: SpeakerCustomer, Text: "Hello, sure"},
	}
	assert.Equal(t, StageOpening, DetectStage(turns))
}

func TestDetectStageDefaultsToDiscoveryWhenLong(t *testing.T) {
	turns := make([]Turn, 8)
	for i := range turns {
		turns[i] = Turn{Speaker: SpeakerCustomer, Text: "hm right"}
	}
	assert.Equal(t, StageDiscovery, DetectStage(turns))
}

func TestDetectStageObjectionBeatsClosingOnTie(t *testing.T) {
	turns := []Turn{
		{Speaker: SpeakerCustomer, Text: "Before we sign, that price is too much"},
	}
	// both objection and closing keywords match once; objection has priority
	assert.Equal(t, StageObjection, DetectStage(turns))
}

func TestDetectStageObjectionWinsOverDenserDiscovery(t *testing.T) {
	turns := []Turn{
		{Speaker: SpeakerCustomer, Text: "tell me about your process, what do you currently do, but that seems expensive"},
	}
	// several discovery keywords, but any objection match takes precedence
	assert.Equal(t, StageObjection, DetectStage(turns))
}

func TestDetectStageUsesTrailingWindow(t *testing.T) {
	turns := []Turn{
		{Text: "that is too expensive, big concern"},
		{Text: "hm"}, {Text: "hm"}, {Text: "hm"}, {Text: "hm"},
		{Text: "ok let's sign the contract and move forward"},
	}
	// the objection turn fell out of the 5-turn window
	assert.Equal(t, StageClosing, DetectStage(turns))
}

func TestDetectSignals(t *testing.T) {
	risks, opps := DetectSignals("We need this fast, but your price seems high and we have other offers")
	assert.Contains(t, risks, "urgency")
	assert.Contains(t, risks, "price objection")
	assert.Contains(t, risks, "competition")
	assert.Empty(t, opps)

	risks, opps = DetectSignals("Interested - how much would it be for our whole company?")
	assert.Contains(t, opps, "buying signal")
	assert.Contains(t, opps, "expansion")
	assert.Contains(t, opps, "engagement")
	assert.Contains(t, risks, "price objection")
}

func TestDerivedConfidence(t *testing.T) {
	assert.Equal(t, 0.0, DerivedConfidence(""))
	assert.InDelta(t, 0.55, DerivedConfidence("hello"), 0.001)
	assert.Equal(t, 0.95, DerivedConfidence("a b c d e f g h i j k l m n o p q r s t"))
}
