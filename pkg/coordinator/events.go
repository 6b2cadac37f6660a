package coordinator

import "time"

// ScoreEvent is a running resonance score published while a session is live
type ScoreEvent struct {
	Score float64 `json:"score"`

	// Timestamp is the stream position of the buffer that produced the score
	Timestamp time.Duration `json:"timestamp"`
}

// TextEvent is an incremental transcription result with its accuracy against
// the expected text
type TextEvent struct {
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	Accuracy float64 `json:"accuracy"`
}

// Streams carries a session's outbound event channels. All three are closed
// exactly once when the session ends, whether by stop or cancel.
type Streams struct {
	Scores  <-chan ScoreEvent
	Text    <-chan TextEvent
	Silence <-chan bool
}
