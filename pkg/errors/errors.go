package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")

	// ErrConfiguration is fatal: the process must exit before any network activity.
	ErrConfiguration = errors.New("invalid coordination configuration")

	ErrRosterNotOpen = errors.New("roster is not open for registration")
	// ErrRosterClosed is returned to replicas that register after the join window closed.
	ErrRosterClosed = errors.New("roster closed")

	// ErrQuorumTimeout is recovered locally by keeping the previous global parameters.
	ErrQuorumTimeout   = errors.New("quorum not reached within grace period")
	ErrMergeInProgress = errors.New("merge already in progress")
	ErrNotSeeded       = errors.New("global parameters are not seeded")

	ErrCheckpointWrite = errors.New("checkpoint write failed")
	ErrNoCheckpoint    = errors.New("no checkpoint found")
)
