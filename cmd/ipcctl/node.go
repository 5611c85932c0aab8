package main

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/ipcmux/internal/admin"
	"github.com/danmuck/ipcmux/internal/config"
	"github.com/danmuck/ipcmux/internal/groups/diag"
	"github.com/danmuck/ipcmux/internal/rpc"
	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/rs/zerolog"
)

// node is one side of a link: transport, RPC instance and the groups it serves.
type node struct {
	cfg   config.NodeConfig
	log   zerolog.Logger
	tr    *shm.Transport
	rpc   *rpc.RPC
	diag  *diag.Service
	admin *admin.Server
}

// newNode wires a side onto region. Faults are logged and stop the node through stop
// instead of panicking the process. The rpc instance tags its own logs with the node.
func newNode(cfg config.NodeConfig, region *shm.Region, bell shm.Doorbell, logger zerolog.Logger, stop context.CancelCauseFunc) (*node, error) {
	nodeLog := logger.With().Str("node", cfg.Name).Logger()
	shmCfg, err := cfg.ShmOptions(&nodeLog)
	if err != nil {
		return nil, err
	}
	shmCfg.Fault = func(err error) {
		nodeLog.Error().Err(err).Msg("transport fault")
		stop(err)
	}
	tr := shm.NewTransport(region, bell, shmCfg)

	svc := diag.New(cfg.Name, nodeLog)
	svc.TransportStats = tr.Stats
	reg := rpc.NewRegistry()
	if err := reg.Register(svc.Group()); err != nil {
		return nil, err
	}

	rpcCfg := cfg.RPCOptions(&logger)
	rpcCfg.Fault = func(err error) {
		nodeLog.Error().Err(err).Msg("rpc fault")
		stop(err)
	}
	r := rpc.New(tr, reg, rpcCfg)
	svc.Bind(r)

	n := &node{cfg: cfg, log: nodeLog, tr: tr, rpc: r, diag: svc}
	if cfg.Admin.Enabled {
		n.admin = admin.New(admin.Config{
			Node:        cfg.Name,
			Addr:        cfg.Admin.Addr,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Logger:      nodeLog,
		}, r)
		n.admin.TransportStats = tr.Stats
	}
	return n, nil
}

// serveAdmin runs the admin server until ctx is done. It is a no-op when admin is disabled.
func (n *node) serveAdmin(ctx context.Context) error {
	if n.admin == nil {
		return nil
	}
	return n.admin.Serve(ctx)
}

// pingLoop pings the peer count times, or until ctx is done when count is zero.
func (n *node) pingLoop(ctx context.Context, count int, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for seq := uint32(1); count == 0 || int(seq) <= count; seq++ {
		pong, rtt, err := n.diag.Ping(nil, seq)
		if err != nil {
			if errors.Is(err, rpc.ErrClosed) {
				return nil
			}
			return err
		}
		n.log.Info().Uint32("seq", pong.Seq).Str("peer", pong.Node).Dur("rtt", rtt).Msg("pong")
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (n *node) close() {
	if err := n.rpc.Close(); err != nil {
		n.log.Warn().Err(err).Msg("close rpc")
	}
}
