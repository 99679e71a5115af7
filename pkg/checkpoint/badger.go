package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")

	keyPrefix = []byte("ckpt:")
)

// BadgerStore keeps checkpoints in an embedded badger database. Each
// checkpoint is written in a single transaction.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty checkpoint directory", pkgerrors.ErrConfiguration)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &BadgerStore{db: db}, nil
}

// key is big endian so iteration order equals step order.
func key(step uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], step)

	return k
}

func (bs *BadgerStore) Write(ctx context.Context, c Checkpoint) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	val, err := encMode.Marshal(c)
	if err != nil {
		return Info{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(c.Step), val)
	})
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return Info{Step: c.Step, CreatedAt: c.CreatedAt}, nil
}

func (bs *BadgerStore) Latest(ctx context.Context) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}

	var val []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), keyPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(keyPrefix) {
			return pkgerrors.ErrNoCheckpoint
		}
		var err error
		val, err = it.Item().ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNoCheckpoint) {
			return Checkpoint{}, err
		}

		return Checkpoint{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var c Checkpoint
	if err := cbor.Unmarshal(val, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return c, nil
}

func (bs *BadgerStore) Steps(ctx context.Context) ([]uint64, error) {
	var steps []uint64
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			k := it.Item().Key()
			steps = append(steps, binary.BigEndian.Uint64(k[len(keyPrefix):]))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return steps, nil
}

func (bs *BadgerStore) Delete(ctx context.Context, step uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(step))
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}

func (bs *BadgerStore) Close() error {
	return bs.db.Close()
}
