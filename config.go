package fedsync

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the cluster file shared by every replica of a run. Values set in
// the environment take precedence over it.
type Config struct {
	Cluster    ClusterConfig    `toml:"cluster"`
	Training   TrainingConfig   `toml:"training"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	MQTT       MQTTConfig       `toml:"mqtt"`
}

type ClusterConfig struct {
	ChiefPrivateAddr string   `toml:"chief_private_addr"`
	ChiefPublicAddr  string   `toml:"chief_public_addr"`
	Network          string   `toml:"network"`
	Workers          []string `toml:"workers"`
}

type TrainingConfig struct {
	IntervalSteps       int    `toml:"interval_steps"`
	ReplicasToAggregate int    `toml:"replicas_to_aggregate"`
	WaitDuration        string `toml:"wait_duration"`
	MergeGrace          string `toml:"merge_grace"`
	StaleAfterRounds    int    `toml:"stale_after_rounds"`
	Aggregation         string `toml:"aggregation"`
	Steps               int    `toml:"steps"`
	StepsPerEpoch       int    `toml:"steps_per_epoch"`
}

type CheckpointConfig struct {
	Dir     string `toml:"dir"`
	Backend string `toml:"backend"`
	Every   uint64 `toml:"every"`
	Keep    int    `toml:"keep"`
}

type MQTTConfig struct {
	Address   string `toml:"address"`
	ChannelID string `toml:"channel_id"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
