package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/danmuck/ipcmux/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadNodeConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = "core-net"
side = "B"

[region]
block_count = 32
poll_interval = "250us"

[rpc]
contexts = 16

[admin]
cors_origins = [" http://a ", ""]
`)
	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "core-net" || cfg.Side != "b" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Region.BlockCount != 32 || cfg.Region.PollInterval != 250*time.Microsecond {
		t.Fatalf("unexpected region: %+v", cfg.Region)
	}
	if cfg.Region.Size != 16384 || cfg.Region.Path != "" {
		t.Fatalf("region defaults lost: %+v", cfg.Region)
	}
	if cfg.RPC.Contexts != 16 || cfg.RPC.ThreadPool != 2 || cfg.RPC.MailboxDepth != 4 {
		t.Fatalf("unexpected rpc: %+v", cfg.RPC)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Addr != "127.0.0.1:7070" {
		t.Fatalf("admin defaults lost: %+v", cfg.Admin)
	}
	if len(cfg.Admin.CorsOrigins) != 1 || cfg.Admin.CorsOrigins[0] != "http://a" {
		t.Fatalf("unexpected cors origins: %+v", cfg.Admin.CorsOrigins)
	}

	shmCfg, err := cfg.ShmOptions(nil)
	if err != nil || shmCfg.Side != shm.SideB || shmCfg.Node != "core-net" {
		t.Fatalf("shm options: %+v err=%v", shmCfg, err)
	}
	if rpcCfg := cfg.RPCOptions(nil); rpcCfg.Contexts != 16 || rpcCfg.Node != "core-net" {
		t.Fatalf("rpc options: %+v", rpcCfg)
	}
}

func TestLoadNodeConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"side":          `side = "c"`,
		"block count":   "[region]\nblock_count = 48",
		"thread pool":   "[rpc]\nthread_pool = 0",
		"contexts":      "[rpc]\ncontexts = 200",
		"poll interval": "[region]\npoll_interval = \"soon\"",
		"unknown key":   `colour = "blue"`,
		"admin addr":    "[admin]\naddr = \"\"",
	}
	for name, body := range cases {
		if _, err := LoadNodeConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := LoadNodeConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, side := range []string{"a", "b"} {
		path := filepath.Join(t.TempDir(), side+".toml")
		if err := WriteTemplate(path, side, false); err != nil {
			t.Fatalf("write template %s: %v", side, err)
		}
		cfg, err := LoadNodeConfig(path)
		if err != nil {
			t.Fatalf("load template %s: %v", side, err)
		}
		if cfg.Side != side || !strings.HasPrefix(cfg.Name, "core-") {
			t.Fatalf("template %s: %+v", side, cfg)
		}
		if err := WriteTemplate(path, side, false); err == nil {
			t.Fatalf("expected overwrite refusal")
		}
	}
	if _, err := Template("z"); err == nil {
		t.Fatalf("expected unknown side error")
	}
}
