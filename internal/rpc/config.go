package rpc

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures one RPC instance.
type Config struct {
	// Node labels logs and metrics.
	Node string
	// ThreadPool is the number of workers executing events and commands that no local
	// context is waiting for. It is advertised to the peer in INIT.
	ThreadPool int
	// Contexts is the size of the command context pool.
	Contexts int
	// MailboxDepth bounds packets queued for one waiting context.
	MailboxDepth int
	// Fault receives protocol violations that cannot be recovered. The default panics.
	Fault func(error)
	// OnError observes every reported error after the group handler.
	OnError ErrorHandler
	Logger  *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Node:         "ipcmux",
		ThreadPool:   2,
		Contexts:     8,
		MailboxDepth: 4,
	}
}

// WithDefaults fills zero fields from DefaultConfig and clamps limits to what the wire
// format can address.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Node == "" {
		c.Node = d.Node
	}
	if c.ThreadPool <= 0 {
		c.ThreadPool = d.ThreadPool
	}
	if c.ThreadPool > 255 {
		c.ThreadPool = 255
	}
	if c.Contexts <= 0 {
		c.Contexts = d.Contexts
	}
	if c.Contexts > maxContexts {
		c.Contexts = maxContexts
	}
	if c.MailboxDepth <= 0 {
		c.MailboxDepth = d.MailboxDepth
	}
	if c.Fault == nil {
		c.Fault = func(err error) { panic(err) }
	}
	if c.Logger == nil {
		l := log.Logger
		c.Logger = &l
	}
	return c
}
