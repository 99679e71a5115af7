package checkpoint

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	opts := fl.EncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}

	return em
}()

// Checkpoint is a durable snapshot of the global state.
type Checkpoint struct {
	Step      uint64          `json:"step"       cbor:"step"`
	Params    fl.ParameterSet `json:"params"     cbor:"params"`
	CreatedAt time.Time       `json:"created_at" cbor:"created_at"`
}

// Info describes a checkpoint without its parameters.
type Info struct {
	Step      uint64    `json:"step"`
	CreatedAt time.Time `json:"created_at"`
	Location  string    `json:"location,omitempty"`
}

// Store persists checkpoints. Write must be atomic: a failed or interrupted
// write never becomes visible to Latest.
type Store interface {
	Write(ctx context.Context, c Checkpoint) (Info, error)
	// Latest returns ErrNoCheckpoint when the store is empty.
	Latest(ctx context.Context) (Checkpoint, error)
	// Steps lists stored steps in ascending order.
	Steps(ctx context.Context) ([]uint64, error)
	Delete(ctx context.Context, step uint64) error
	Close() error
}

type Backend string

const (
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
)

func (b Backend) Validate() error {
	switch b {
	case "", BackendFile, BackendBadger:
		return nil
	default:
		return fmt.Errorf("%w: unknown checkpoint backend %q", pkgerrors.ErrConfiguration, b)
	}
}

// Open returns the store for dir using the named backend.
func Open(dir string, backend Backend) (Store, error) {
	if err := backend.Validate(); err != nil {
		return nil, err
	}
	if backend == BackendBadger {
		return NewBadgerStore(dir)
	}

	return NewFileStore(dir)
}
