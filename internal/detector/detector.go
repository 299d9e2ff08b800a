package detector

// Detector is a strategy that determines if a dev server is already serving.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the server is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
