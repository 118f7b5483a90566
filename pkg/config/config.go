package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

func ReadFile(filepath string) (*BaseConfig, error) {
	cfg := DefaultBaseConfig

	if _, err := toml.DecodeFile(filepath, &cfg); err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

type BaseConfig struct {
	Sources []Source `toml:"sources"`
	DB      DB       `toml:"db"`
	Sync    Sync     `toml:"sync"`
	Timeout Timeout  `toml:"timeout"`
	IPFS    IPFS     `toml:"ipfs"`
	Logger  Logger   `toml:"logger"`
}

var DefaultBaseConfig = BaseConfig{
	DB:      defaultDB,
	Sync:    defaultSync,
	Timeout: defaultTimeout,
	IPFS:    defaultIPFS,
}

func (cfg *BaseConfig) Validate() error {
	if len(cfg.Sources) == 0 {
		return errors.New("config: at least one source is required")
	}

	seen := make(map[string]bool)
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" || src.RPCURL == "" || src.ContractAddress == "" {
			return errors.Errorf("config: source %d is missing name, rpc_url or contract_address", i)
		}
		if seen[src.Name] {
			return errors.Errorf("config: duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
	}

	return nil
}

// Source is one logical chain the client mirrors. Sources are immutable for
// the lifetime of the process.
type Source struct {
	Name            string `toml:"name"`
	ChainID         uint64 `toml:"chain_id"`
	RPCURL          string `toml:"rpc_url"`
	ContractAddress string `toml:"contract_address"`
	StartBlock      uint64 `toml:"start_block"`
}

type DB struct {
	Path       string `toml:"path"`
	LogQueries bool   `toml:"log_queries"`
}

var defaultDB = DB{
	Path: "feedsync.db",
}

type Sync struct {
	IntervalSeconds uint64 `toml:"interval_seconds"`

	// ChunkSize bounds a single getLogs call.
	ChunkSize uint64 `toml:"chunk_size"`

	// If the distance to head exceeds LargeGapThreshold, only the most
	// recent RecentWindow blocks are fetched and backfill covers the rest.
	LargeGapThreshold uint64 `toml:"large_gap_threshold"`
	RecentWindow      uint64 `toml:"recent_window"`

	BackfillChunkSize       uint64 `toml:"backfill_chunk_size"`
	BackfillIntervalSeconds uint64 `toml:"backfill_interval_seconds"`

	// MaxPosts bounds the number of posts retained in the cache across all
	// sources. Scanned ranges are never evicted.
	MaxPosts int `toml:"max_posts"`

	PageSize int `toml:"page_size"`
}

var defaultSync = Sync{
	IntervalSeconds:         30,
	ChunkSize:               10_000,
	LargeGapThreshold:       500,
	RecentWindow:            10_000,
	BackfillChunkSize:       5_000,
	BackfillIntervalSeconds: 10,
	MaxPosts:                500,
	PageSize:                10,
}

type Timeout struct {
	RequestTimeoutMillis         int `toml:"request_timeout_millis"`
	BackoffMaxElapsedTimeSeconds int `toml:"backoff_max_elapsed_time_seconds"`
}

var defaultTimeout = Timeout{
	RequestTimeoutMillis:         5000,
	BackoffMaxElapsedTimeSeconds: 60,
}

type IPFS struct {
	APIURL        string `toml:"api_url"`
	MaxFileSizeMB int64  `toml:"max_file_size_mb"`
}

var defaultIPFS = IPFS{
	MaxFileSizeMB: 25,
}

type Logger struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}
