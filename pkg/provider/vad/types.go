package vad

// Decision is the classification of a single audio frame.
type Decision struct {
	// Speech reports whether the frame was classified as containing speech.
	Speech bool

	// Probability is the backend's confidence in [0, 1]. Backends that only
	// produce a binary label report 1 for speech and 0 for silence.
	Probability float64
}
