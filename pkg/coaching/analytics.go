package coaching

// sentimentWindow is how many trailing customer turns the rolling
// customer-sentiment label considers
const sentimentWindow = 3

// dominanceThresholdPct flags the agent as dominating the conversation
const dominanceThresholdPct = 70.0

// UpdateAnalytics folds one new turn into the rolling analytics state.
// Called synchronously from the session event loop after every turn.
func UpdateAnalytics(a *Analytics, turns []Turn, latest Turn) {
	a.Stage = DetectStage(turns)
	a.TalkRatio = computeTalkRatio(turns)

	if latest.Speaker == SpeakerCustomer {
		a.CustomerSentiment = rollingCustomerSentiment(turns)
	}

	risks, opps := DetectSignals(latest.Text)
	a.riskFactors = append(a.riskFactors, risks...)
	a.opportunities = append(a.opportunities, opps...)

	if a.TalkRatio.AgentPct > dominanceThresholdPct {
		a.riskFactors = append(a.riskFactors, "agent dominating")
	}
}

// computeTalkRatio returns per-party turn share. Percentages sum to 100;
// with no turns both sides are zero.
func computeTalkRatio(turns []Turn) TalkRatio {
	if len(turns) == 0 {
		return TalkRatio{}
	}
	agent := 0
	for _, turn := range turns {
		if turn.Speaker == SpeakerAgent {
			agent++
		}
	}
	agentPct := float64(agent) / float64(len(turns)) * 100
	return TalkRatio{
		AgentPct:    agentPct,
		CustomerPct: 100 - agentPct,
	}
}

// rollingCustomerSentiment takes the majority label over the last few
// customer turns; ties resolve to neutral
func rollingCustomerSentiment(turns []Turn) Sentiment {
	counts := map[Sentiment]int{}
	seen := 0
	for i := len(turns) - 1; i >= 0 && seen < sentimentWindow; i-- {
		if turns[i].Speaker != SpeakerCustomer {
			continue
		}
		counts[turns[i].Sentiment]++
		seen++
	}
	if seen == 0 {
		return SentimentNeutral
	}
	switch {
	case counts[SentimentPositive] > counts[SentimentNegative] && counts[SentimentPositive] >= counts[SentimentNeutral]:
		return SentimentPositive
	case counts[SentimentNegative] > counts[SentimentPositive] && counts[SentimentNegative] >= counts[SentimentNeutral]:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
