package chief

import (
	"context"
	"time"

	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/controller"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
)

// Service is the single owner of the roster, GlobalStep and the global
// parameters. Followers reach it over HTTP, the chief's own session calls it
// directly.
type Service interface {
	// Seed installs the initial global parameters. It is ignored once the
	// global state exists, e.g. after a restore.
	Seed(ctx context.Context, params fl.ParameterSet) (fl.Snapshot, error)
	OpenRoster(ctx context.Context, wait time.Duration) error
	Register(ctx context.Context, rep roster.Replica) (roster.Ack, error)
	// WaitRoster blocks until the join window closed.
	WaitRoster(ctx context.Context) (roster.Roster, error)

	RecordLocalStep(ctx context.Context, index int) (uint64, error)
	// Report blocks until the round the update joined is merged or times out.
	// On timeout the previous global snapshot is returned with ErrQuorumTimeout.
	Report(ctx context.Context, u fl.Update) (fl.Snapshot, error)
	Global(ctx context.Context) (fl.Snapshot, error)
	GlobalStep(ctx context.Context) (uint64, error)

	Checkpoint(ctx context.Context) (checkpoint.Info, error)
	RestoreLatest(ctx context.Context) (checkpoint.Info, error)

	Status(ctx context.Context) (Status, error)
	Shutdown(ctx context.Context) error
}

type Status struct {
	RunID          string           `json:"run_id"`
	RosterOpen     bool             `json:"roster_open"`
	RosterClosed   bool             `json:"roster_closed"`
	Expected       int              `json:"expected"`
	Registered     int              `json:"registered"`
	NumWorkers     int              `json:"num_workers"`
	State          controller.State `json:"state"`
	Round          uint64           `json:"round"`
	GlobalStep     uint64           `json:"global_step"`
	Reported       int              `json:"reported"`
	Stale          []int            `json:"stale,omitempty"`
	LastCheckpoint checkpoint.Info  `json:"last_checkpoint"`
}

type Outcome string

const (
	OutcomeMerged  Outcome = "merged"
	OutcomeTimeout Outcome = "timeout"
	OutcomeFailed  Outcome = "failed"
)

// RoundNotice is published after every resolved round.
type RoundNotice struct {
	RunID      string    `json:"run_id"`
	Round      uint64    `json:"round"`
	GlobalStep uint64    `json:"global_step"`
	Reporters  []int     `json:"reporters"`
	Outcome    Outcome   `json:"outcome"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Notifier fans roster and round events out to remote replicas.
type Notifier interface {
	roster.Broadcaster
	RoundResolved(ctx context.Context, n RoundNotice) error
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(context.Context, roster.Roster) error { return nil }

func (nopNotifier) RoundResolved(context.Context, RoundNotice) error { return nil }
