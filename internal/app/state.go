package app

// AppState represents the phase the progress view is in.
type AppState int

const (
	Running AppState = iota
	Cancelling
	Finished
	Exiting
)

func (s AppState) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Finished:
		return "finished"
	case Exiting:
		return "exiting"
	}
	return "unknown"
}
