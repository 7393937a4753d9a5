package app

// AppState represents the phases of the progress view.
type AppState int

const (
	Running AppState = iota
	Finished
	Exiting
)
