package calibration

// State tracks where a calibration run is in its lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Progress is emitted as a calibration run advances through its phrases
type Progress struct {
	State State `json:"state"`

	// PhraseIndex is the zero-based index of the phrase being recorded,
	// meaningful only in the recording state
	PhraseIndex int `json:"phrase_index"`

	// PhraseCount is the total number of phrases in the run
	PhraseCount int `json:"phrase_count"`

	// Phrase is the text the speaker should read next
	Phrase string `json:"phrase,omitempty"`

	// Progress is the cumulative fraction of the run completed, in [0,1].
	// It reaches 1.0 on the complete event.
	Progress float64 `json:"progress"`
}
