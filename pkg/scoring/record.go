package scoring

import (
	"time"

	"github.com/google/uuid"
)

// Record is the scored result of one completed utterance. Immutable once
// created; long-term storage belongs to the caller.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Score is the composite in [0,1]: 0.60*energy + 0.30*stability + 0.10*text
	Score float64 `json:"score"`

	// Weighted components, each in [0,1]
	TextAccuracy   float64 `json:"text_accuracy"`
	VocalEnergy    float64 `json:"vocal_energy"`
	PitchStability float64 `json:"pitch_stability"`

	// Mode tags the session kind the record came from
	Mode string `json:"mode"`

	// Duration is the wall-clock length of the session
	Duration time.Duration `json:"duration"`
}

func newRecord(mode string, score, text, energy, stability float64, duration time.Duration) *Record {
	return &Record{
		ID:             uuid.New().String(),
		Timestamp:      time.Now(),
		Score:          score,
		TextAccuracy:   text,
		VocalEnergy:    energy,
		PitchStability: stability,
		Mode:           mode,
		Duration:       duration,
	}
}
