package pipeline

import "errors"

// Sentinel errors for pipeline stages.
var (
	// ErrInvalidImage marks malformed or undecodable input. Fatal to the run;
	// resubmitting the same buffer will fail again.
	ErrInvalidImage = errors.New("invalid image")

	// ErrSynthesis marks an internal stage invariant violation. Indicates a
	// bug rather than bad input.
	ErrSynthesis = errors.New("synthesis error")
)
