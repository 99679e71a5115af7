package session

import "context"

// Hooks are the points where the training loop can act around each phase of
// a session. An error from a hook stops the run.
type Hooks interface {
	OnSessionStart(ctx context.Context, info Info) error
	BeforeLocalStep(ctx context.Context, step uint64) error
	AfterLocalStep(ctx context.Context, step uint64, res StepResult) error
	// OnSessionEnd runs on every exit path, err is the reason the run ended.
	OnSessionEnd(ctx context.Context, err error)
}

type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) OnSessionStart(context.Context, Info) error { return nil }

func (NopHooks) BeforeLocalStep(context.Context, uint64) error { return nil }

func (NopHooks) AfterLocalStep(context.Context, uint64, StepResult) error { return nil }

func (NopHooks) OnSessionEnd(context.Context, error) {}
