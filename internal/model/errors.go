package model

import "errors"

var (
	// ErrUnrecognized marks input the classifier could not map to an event.
	ErrUnrecognized = errors.New("unrecognized input")
	// ErrModelFailure marks a sub-model prediction failure.
	ErrModelFailure = errors.New("model failure")
	// ErrActuatorFailure marks a firewall or notifier call that failed.
	ErrActuatorFailure = errors.New("actuator failure")
	// ErrStateCorruption marks a per-entity record that violated its invariants and was reset.
	ErrStateCorruption = errors.New("state corruption")
)
