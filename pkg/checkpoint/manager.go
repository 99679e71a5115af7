package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultKeep        = 5
	defaultMaxAttempts = 5
	defaultInitialWait = 100 * time.Millisecond
	defaultMaxWait     = 2 * time.Second
)

type Config struct {
	// Every is the checkpoint cadence in merged steps. Zero disables it.
	Every       uint64
	Keep        int
	MaxAttempts uint64
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Manager persists the global state on the chief.
type Manager struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	last Info
}

func NewManager(store Store, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Keep < 1 {
		cfg.Keep = defaultKeep
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = defaultInitialWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{store: store, cfg: cfg, logger: logger}
}

// Due reports whether step falls on the checkpoint cadence.
func (m *Manager) Due(step uint64) bool {
	return m.cfg.Every > 0 && step > 0 && step%m.cfg.Every == 0
}

// Save writes a checkpoint, retrying with exponential backoff. Once the
// attempts are exhausted the error wraps ErrCheckpointWrite.
func (m *Manager) Save(ctx context.Context, step uint64, params fl.ParameterSet) (Info, error) {
	if err := params.Validate(); err != nil {
		return Info{}, err
	}
	c := Checkpoint{Step: step, Params: params.Clone(), CreatedAt: time.Now().UTC()}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialWait
	bo.MaxInterval = m.cfg.MaxWait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, m.cfg.MaxAttempts-1), ctx)

	var info Info
	op := func() error {
		var err error
		info, err = m.store.Write(ctx, c)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		return err
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("checkpoint write failed, retrying", slog.Uint64("step", step), slog.String("retry_in", wait.String()), slog.Any("error", err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return Info{}, fmt.Errorf("%w: step %d: %w", pkgerrors.ErrCheckpointWrite, step, err)
	}
	m.setLast(info)

	if err := m.prune(ctx); err != nil {
		m.logger.Warn("failed to prune checkpoints", slog.Any("error", err))
	}

	return info, nil
}

func (m *Manager) prune(ctx context.Context) error {
	steps, err := m.store.Steps(ctx)
	if err != nil {
		return err
	}
	if len(steps) <= m.cfg.Keep {
		return nil
	}

	var errs []error
	for _, step := range steps[:len(steps)-m.cfg.Keep] {
		if err := m.store.Delete(ctx, step); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RestoreLatest returns ErrNoCheckpoint when nothing was saved yet.
func (m *Manager) RestoreLatest(ctx context.Context) (Checkpoint, error) {
	c, err := m.store.Latest(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	m.setLast(Info{Step: c.Step, CreatedAt: c.CreatedAt})

	return c, nil
}

// Last returns the most recent checkpoint saved or restored by this manager.
func (m *Manager) Last() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last
}

func (m *Manager) setLast(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = info
}

func (m *Manager) Close() error {
	return m.store.Close()
}
