package config

import (
	"github.com/danmuck/ipcmux/internal/logging"
	"github.com/danmuck/ipcmux/internal/rpc"
	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/rs/zerolog"
)

// ShmOptions maps the node onto a shared memory endpoint configuration.
func (c NodeConfig) ShmOptions(logger *zerolog.Logger) (shm.Config, error) {
	side, err := shm.ParseSide(c.Side)
	if err != nil {
		return shm.Config{}, err
	}
	cfg := shm.DefaultConfig()
	cfg.Side = side
	cfg.Node = c.Name
	cfg.Logger = logger
	return cfg, nil
}

func (c NodeConfig) RPCOptions(logger *zerolog.Logger) rpc.Config {
	return rpc.Config{
		Node:         c.Name,
		ThreadPool:   c.RPC.ThreadPool,
		Contexts:     c.RPC.Contexts,
		MailboxDepth: c.RPC.MailboxDepth,
		Logger:       logger,
	}
}

func (c NodeConfig) Logging() logging.Config {
	return logging.RuntimeConfig(c.Log.Level, c.Log.NoColor)
}
