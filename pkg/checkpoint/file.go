package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/fxamacker/cbor/v2"
)

const (
	filePrefix = "ckpt-"
	fileSuffix = ".cbor"
)

// FileStore keeps one CBOR file per checkpoint in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty checkpoint directory", pkgerrors.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(step uint64) string {
	return filepath.Join(fs.dir, fmt.Sprintf("%s%020d%s", filePrefix, step, fileSuffix))
}

func (fs *FileStore) Write(ctx context.Context, c Checkpoint) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	data, err := encMode.Marshal(c)
	if err != nil {
		return Info{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	finalPath := fs.path(c.Step)
	tmpFile, err := os.CreateTemp(fs.dir, fmt.Sprintf("%s%d-*.tmp", filePrefix, c.Step))
	if err != nil {
		return Info{}, fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tmpPath := tmpFile.Name()

	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()

		return Info{}, fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()

		return Info{}, fmt.Errorf("failed to sync temp checkpoint file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return Info{}, fmt.Errorf("failed to close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Info{}, fmt.Errorf("failed to publish checkpoint file: %w", err)
	}
	cleanupTmp = false

	return Info{Step: c.Step, CreatedAt: c.CreatedAt, Location: finalPath}, nil
}

func (fs *FileStore) Latest(ctx context.Context) (Checkpoint, error) {
	steps, err := fs.Steps(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(steps) == 0 {
		return Checkpoint{}, pkgerrors.ErrNoCheckpoint
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(steps[len(steps)-1]))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, pkgerrors.ErrNoCheckpoint
		}

		return Checkpoint{}, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var c Checkpoint
	if err := cbor.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return c, nil
}

// Steps ignores temp files and anything not named like a checkpoint.
func (fs *FileStore) Steps(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var steps []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		step, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })

	return steps, nil
}

func (fs *FileStore) Delete(ctx context.Context, step uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path(step)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}

	return nil
}

func (fs *FileStore) Close() error {
	return nil
}
