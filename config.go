package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Artfain/verity/api"
	"github.com/Artfain/verity/core"
)

// fileConfig is the layout of the optional YAML config file.
type fileConfig struct {
	LogLevel  string      `yaml:"log_level"`
	Consensus core.Config `yaml:"consensus"`
	API       api.Config  `yaml:"api"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		LogLevel:  "info",
		Consensus: core.DefaultConfig(),
		API:       api.DefaultConfig(),
	}
}

// loadConfig reads path over the defaults. An empty path keeps the defaults.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	return cfg, nil
}

func registerFlags(fs *pflag.FlagSet) {
	def := defaultFileConfig()
	fs.String("config", "", "path to a YAML config file")
	fs.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	fs.String("data-dir", def.Consensus.DataDir, "directory holding the chain, accounts and nodes")
	fs.String("backend", def.Consensus.Backend, "storage backend (leveldb, file, memory)")
	fs.Duration("round-timeout", def.Consensus.RoundTimeout, "how long a round collects votes")
	fs.Duration("win-cooldown", def.Consensus.WinCooldown, "how long a winner sits out before winning again")
	fs.Int64("default-fee", def.Consensus.DefaultFee, "fee charged when a request names none")
	fs.String("listen", def.API.ListenAddr, "HTTP listen address")
	fs.Float64("rate-limit", def.API.RateLimit, "requests per second (0 disables)")
	fs.Duration("sweep-interval", def.API.SweepInterval, "background sweep of expired rounds (0 disables)")
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(fs *pflag.FlagSet, cfg *fileConfig) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}
	set("log-level", func() (e error) { cfg.LogLevel, e = fs.GetString("log-level"); return })
	set("data-dir", func() (e error) { cfg.Consensus.DataDir, e = fs.GetString("data-dir"); return })
	set("backend", func() (e error) { cfg.Consensus.Backend, e = fs.GetString("backend"); return })
	set("round-timeout", func() (e error) { cfg.Consensus.RoundTimeout, e = fs.GetDuration("round-timeout"); return })
	set("win-cooldown", func() (e error) { cfg.Consensus.WinCooldown, e = fs.GetDuration("win-cooldown"); return })
	set("default-fee", func() (e error) { cfg.Consensus.DefaultFee, e = fs.GetInt64("default-fee"); return })
	set("listen", func() (e error) { cfg.API.ListenAddr, e = fs.GetString("listen"); return })
	set("rate-limit", func() (e error) { cfg.API.RateLimit, e = fs.GetFloat64("rate-limit"); return })
	set("sweep-interval", func() (e error) { cfg.API.SweepInterval, e = fs.GetDuration("sweep-interval"); return })
	return err
}

// resolveConfig loads the file named by --config and applies the flags.
func resolveConfig(fs *pflag.FlagSet) (fileConfig, error) {
	path, err := fs.GetString("config")
	if err != nil {
		return fileConfig{}, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(fs, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %v", level, err)
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger(), nil
}
