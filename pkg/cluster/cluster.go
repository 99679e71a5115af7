package cluster

import (
	"errors"
	"fmt"
	"net"

	"github.com/0x6flab/namegenerator"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
)

// ChiefIndex is the task index that always owns the chief role.
const ChiefIndex = 0

type Role string

const (
	RoleChief    Role = "chief"
	RoleFollower Role = "follower"
)

// Network tells a follower which chief address it can reach. The registry
// does not detect topology.
type Network string

const (
	NetworkPrivate Network = "private"
	NetworkPublic  Network = "public"
)

var namegen = namegenerator.NewGenerator()

type Config struct {
	TaskIndex        int
	Role             Role
	NumWorkers       int
	Workers          []string
	Address          string
	Name             string
	ChiefPrivateAddr string
	ChiefPublicAddr  string
	Network          Network
}

// Identity describes the local replica.
type Identity struct {
	Index   int    `json:"index"`
	Role    Role   `json:"role"`
	Address string `json:"address"`
	Name    string `json:"name"`
}

type Registry struct {
	cfg        Config
	numWorkers int
}

func New(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	numWorkers := cfg.NumWorkers
	if numWorkers == 0 {
		numWorkers = len(cfg.Workers)
	}
	if cfg.Network == "" {
		cfg.Network = NetworkPrivate
	}
	if cfg.Name == "" {
		cfg.Name = namegen.Generate()
	}
	if cfg.Address == "" && cfg.TaskIndex < len(cfg.Workers) {
		cfg.Address = cfg.Workers[cfg.TaskIndex]
	}

	return &Registry{cfg: cfg, numWorkers: numWorkers}, nil
}

func (c Config) Validate() error {
	if c.TaskIndex < 0 {
		return fmt.Errorf("%w: task index %d is negative", pkgerrors.ErrConfiguration, c.TaskIndex)
	}
	switch c.Role {
	case RoleChief:
		if c.TaskIndex != ChiefIndex {
			return fmt.Errorf("%w: chief must run with task index %d, got %d", pkgerrors.ErrConfiguration, ChiefIndex, c.TaskIndex)
		}
	case RoleFollower:
		if c.TaskIndex == ChiefIndex {
			return fmt.Errorf("%w: task index %d is reserved for the chief", pkgerrors.ErrConfiguration, ChiefIndex)
		}
		if c.ChiefPrivateAddr == "" && c.ChiefPublicAddr == "" {
			return fmt.Errorf("%w: follower has no chief address configured", pkgerrors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", pkgerrors.ErrConfiguration, c.Role)
	}
	switch c.Network {
	case "", NetworkPrivate, NetworkPublic:
	default:
		return fmt.Errorf("%w: unknown network %q", pkgerrors.ErrConfiguration, c.Network)
	}

	numWorkers := c.NumWorkers
	if len(c.Workers) > 0 {
		if numWorkers != 0 && numWorkers != len(c.Workers) {
			return fmt.Errorf("%w: %d workers listed but worker count is %d", pkgerrors.ErrConfiguration, len(c.Workers), numWorkers)
		}
		numWorkers = len(c.Workers)
		for i, addr := range c.Workers {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("%w: worker %d address %q: %w", pkgerrors.ErrConfiguration, i, addr, err)
			}
		}
	}
	if numWorkers < 1 {
		return fmt.Errorf("%w: worker count must be positive", pkgerrors.ErrConfiguration)
	}
	if c.TaskIndex >= numWorkers {
		return fmt.Errorf("%w: task index %d outside 0..%d", pkgerrors.ErrConfiguration, c.TaskIndex, numWorkers-1)
	}

	return nil
}

func (r *Registry) NumWorkers() int {
	return r.numWorkers
}

func (r *Registry) IsChief() bool {
	return r.cfg.Role == RoleChief
}

// ChiefAddress is the address this replica dials to reach the chief.
func (r *Registry) ChiefAddress() string {
	primary, secondary := r.cfg.ChiefPrivateAddr, r.cfg.ChiefPublicAddr
	if r.cfg.Network == NetworkPublic {
		primary, secondary = secondary, primary
	}
	if primary == "" && r.IsChief() {
		return secondary
	}

	return primary
}

func (r *Registry) Self() Identity {
	return Identity{
		Index:   r.cfg.TaskIndex,
		Role:    r.cfg.Role,
		Address: r.cfg.Address,
		Name:    r.cfg.Name,
	}
}

var errNoChiefAddr = errors.New("no chief address reachable on the configured network")

// DialAddress is like ChiefAddress but fails when the configured network has no address.
func (r *Registry) DialAddress() (string, error) {
	addr := r.ChiefAddress()
	if addr == "" {
		return "", fmt.Errorf("%w: %w (%s)", pkgerrors.ErrConfiguration, errNoChiefAddr, r.cfg.Network)
	}

	return addr, nil
}

// ShardBounds splits total items into numWorkers nearly equal shards and
// returns the half-open range owned by rank. The first total%numWorkers shards
// receive one extra item.
func ShardBounds(total, numWorkers, rank int) (start, end int) {
	if numWorkers < 1 || rank < 0 || rank >= numWorkers || total <= 0 {
		return 0, 0
	}
	base, extra := total/numWorkers, total%numWorkers
	start = rank*base + min(rank, extra)
	end = start + base
	if rank < extra {
		end++
	}

	return start, end
}
