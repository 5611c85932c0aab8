package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// NodeConfig describes one side of a shared memory link.
type NodeConfig struct {
	Name   string
	Side   string
	Region RegionConfig
	RPC    RPCConfig
	Admin  AdminConfig
	Log    LogConfig
}

type RegionConfig struct {
	// Path of the file both processes map. Empty means an in-process region.
	Path         string
	Size         int
	BlockCount   int
	PollInterval time.Duration
}

type RPCConfig struct {
	ThreadPool   int
	Contexts     int
	MailboxDepth int
}

type AdminConfig struct {
	Enabled     bool
	Addr        string
	CorsOrigins []string
}

type LogConfig struct {
	Level   string
	NoColor bool
}

type fileConfig struct {
	Name   string `toml:"name"`
	Side   string `toml:"side"`
	Region struct {
		Path         string `toml:"path"`
		Size         int    `toml:"size"`
		BlockCount   int    `toml:"block_count"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"region"`
	RPC struct {
		ThreadPool   int `toml:"thread_pool"`
		Contexts     int `toml:"contexts"`
		MailboxDepth int `toml:"mailbox_depth"`
	} `toml:"rpc"`
	Admin struct {
		Enabled     bool     `toml:"enabled"`
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"admin"`
	Log struct {
		Level   string `toml:"level"`
		NoColor bool   `toml:"no_color"`
	} `toml:"log"`
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Name: "ipcmux",
		Side: "a",
		Region: RegionConfig{
			Size:         16384,
			BlockCount:   64,
			PollInterval: time.Millisecond,
		},
		RPC: RPCConfig{
			ThreadPool:   2,
			Contexts:     8,
			MailboxDepth: 4,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7070",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadNodeConfig reads path over the defaults. Keys absent from the file keep their
// default value.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return NodeConfig{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("side") {
		cfg.Side = strings.ToLower(strings.TrimSpace(raw.Side))
	}
	if meta.IsDefined("region", "path") {
		cfg.Region.Path = strings.TrimSpace(raw.Region.Path)
	}
	if meta.IsDefined("region", "size") {
		cfg.Region.Size = raw.Region.Size
	}
	if meta.IsDefined("region", "block_count") {
		cfg.Region.BlockCount = raw.Region.BlockCount
	}
	if meta.IsDefined("region", "poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Region.PollInterval))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("parse region.poll_interval: %w", err)
		}
		cfg.Region.PollInterval = d
	}
	if meta.IsDefined("rpc", "thread_pool") {
		cfg.RPC.ThreadPool = raw.RPC.ThreadPool
	}
	if meta.IsDefined("rpc", "contexts") {
		cfg.RPC.Contexts = raw.RPC.Contexts
	}
	if meta.IsDefined("rpc", "mailbox_depth") {
		cfg.RPC.MailboxDepth = raw.RPC.MailboxDepth
	}
	if meta.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("node config missing name")
	}
	if cfg.Side != "a" && cfg.Side != "b" {
		return fmt.Errorf("node config side must be \"a\" or \"b\", got %q", cfg.Side)
	}
	if cfg.Region.BlockCount != 32 && cfg.Region.BlockCount != 64 {
		return fmt.Errorf("region.block_count must be 32 or 64, got %d", cfg.Region.BlockCount)
	}
	if cfg.Region.Size <= 0 {
		return fmt.Errorf("region.size must be positive")
	}
	if cfg.Region.PollInterval <= 0 {
		return fmt.Errorf("region.poll_interval must be positive")
	}
	if cfg.RPC.ThreadPool < 1 || cfg.RPC.ThreadPool > 255 {
		return fmt.Errorf("rpc.thread_pool must be within 1..255, got %d", cfg.RPC.ThreadPool)
	}
	if cfg.RPC.Contexts < 1 || cfg.RPC.Contexts > 127 {
		return fmt.Errorf("rpc.contexts must be within 1..127, got %d", cfg.RPC.Contexts)
	}
	if cfg.RPC.MailboxDepth < 1 {
		return fmt.Errorf("rpc.mailbox_depth must be positive")
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("admin.addr is required when admin is enabled")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
