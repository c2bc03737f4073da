package coaching

import (
	"strings"
	"time"
)

// TurnBuffer collects transcript fragments for one track until an
// utterance boundary closes the turn
type TurnBuffer struct {
	finals        []string
	maxConfidence float64
	pendingPartial string
	startedAt     time.Time
}

// TurnAccumulator assembles speaker turns from per-track transcript
// fragments. Final fragments append to the track's buffer; an utterance
// boundary flushes the buffer into a completed turn. Not safe for
// concurrent use; the session event loop is its only caller.
type TurnAccumulator struct {
	buffers map[Track]*TurnBuffer
}

// NewTurnAccumulator creates an accumulator with empty buffers for both tracks
func NewTurnAccumulator() *TurnAccumulator {
	return &TurnAccumulator{
		buffers: map[Track]*TurnBuffer{
			TrackInbound:  {},
			TrackOutbound: {},
		},
	}
}

// AddFinal appends a final transcript fragment to the track's open buffer
func (ta *TurnAccumulator) AddFinal(track Track, text string, confidence float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	buf := ta.buffer(track)
	if len(buf.finals) == 0 {
		buf.startedAt = time.Now()
	}
	buf.finals = append(buf.finals, text)
	if confidence > buf.maxConfidence {
		buf.maxConfidence = confidence
	}
	buf.pendingPartial = ""
}

// AddInterim records the latest non-final fragment for live display.
// Interims replace each other and never enter the assembled turn.
func (ta *TurnAccumulator) AddInterim(track Track, text string) {
	ta.buffer(track).pendingPartial = strings.TrimSpace(text)
}

// Interim returns the track's current non-final fragment, if any
func (ta *TurnAccumulator) Interim(track Track) string {
	return ta.buffer(track).pendingPartial
}

// Flush closes the track's open buffer and returns the assembled turn.
// Returns false when the buffer held no final fragments. Confidence is
// the running fragment maximum, or derived from utterance length when the
// provider never supplied one.
func (ta *TurnAccumulator) Flush(track Track) (Turn, bool) {
	buf := ta.buffer(track)
	if len(buf.finals) == 0 {
		buf.pendingPartial = ""
		return Turn{}, false
	}

	text := strings.Join(buf.finals, " ")
	confidence := buf.maxConfidence
	if confidence == 0 {
		confidence = DerivedConfidence(text)
	}

	turn := Turn{
		Speaker:    SpeakerForTrack(track),
		Text:       text,
		Timestamp:  buf.startedAt,
		Sentiment:  ClassifySentiment(text),
		Intent:     ClassifyIntent(text),
		Confidence: confidence,
	}

	buf.finals = buf.finals[:0]
	buf.maxConfidence = 0
	buf.pendingPartial = ""
	buf.startedAt = time.Time{}
	return turn, true
}

// FlushAll closes every open buffer, in a stable track order, and returns
// the completed turns. Used on call stop so trailing speech is not lost.
func (ta *TurnAccumulator) FlushAll() []Turn {
	var turns []Turn
	for _, track := range []Track{TrackInbound, TrackOutbound} {
		if turn, ok := ta.Flush(track); ok {
			turns = append(turns, turn)
		}
	}
	return turns
}

func (ta *TurnAccumulator) buffer(track Track) *TurnBuffer {
	buf, ok := ta.buffers[track]
	if !ok {
		buf = &TurnBuffer{}
		ta.buffers[track] = buf
	}
	return buf
}
