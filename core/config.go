package core

import (
	"errors"
	"fmt"
	"time"
)

// Storage backends selectable through Config.Backend.
const (
	BackendLevelDB = "leveldb"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// Config holds the consensus and account parameters.
type Config struct {
	// DataDir is where the chain, accounts and nodes are persisted
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"`

	// RoundTimeout bounds how long a round collects votes before the
	// timeout path resolves it
	RoundTimeout time.Duration `yaml:"round_timeout"`
	WinCooldown  time.Duration `yaml:"win_cooldown"`

	InitialBalance int64 `yaml:"initial_balance"`
	DefaultFee     int64 `yaml:"default_fee"`

	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		DataDir:           "data",
		Backend:           BackendLevelDB,
		RoundTimeout:      DefaultRoundTimeout,
		WinCooldown:       DefaultWinCooldown,
		InitialBalance:    DefaultInitialBalance,
		DefaultFee:        20,
		ClassifierTimeout: 30 * time.Second,
	}
}

// Validate performs basic validation of the config
func (cfg Config) Validate() error {
	switch cfg.Backend {
	case BackendLevelDB, BackendFile:
		if cfg.DataDir == "" {
			return errors.New("data dir required for persistent backends")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.RoundTimeout <= 0 {
		return errors.New("round timeout must be positive")
	}
	if cfg.WinCooldown < 0 {
		return errors.New("win cooldown must not be negative")
	}
	if cfg.InitialBalance < 0 || cfg.DefaultFee < 0 {
		return errors.New("balances and fees must not be negative")
	}
	return nil
}

// OpenStore opens the backend named in the config.
func (cfg Config) OpenStore() (Store, error) {
	switch cfg.Backend {
	case BackendLevelDB:
		return OpenLevelStore(cfg.DataDir)
	case BackendFile:
		return NewFileStore(cfg.DataDir)
	case BackendMemory:
		return NewMemLevelStore()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
