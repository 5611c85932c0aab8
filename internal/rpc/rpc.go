package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ipcmux/internal/observability"
	"github.com/danmuck/ipcmux/internal/protocol/frame"
	"github.com/danmuck/ipcmux/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RPC is one endpoint of the multiplexer. It owns its context pool, worker pool and
// transport; several instances can run side by side.
type RPC struct {
	id  string
	cfg Config
	log zerolog.Logger
	tr  transport.Transport
	reg *Registry

	groups  []*Group
	pool    *ctxPool
	workers *workerPool

	// remote bounds packets outstanding on the peer's worker pool.
	remote   chan struct{}
	peerInit chan frame.Init
	peer     frame.Init

	initOnce sync.Once
	ready    atomic.Bool
	closed   atomic.Bool
	quit     chan struct{}
}

// Buffer is a transmit buffer. Fill Payload, optionally Truncate it, then pass it to exactly
// one send call or to Free.
type Buffer struct {
	Payload []byte
	tb      transport.Buffer
}

// Truncate shortens the payload to n bytes; unused blocks go back to the pool on send.
func (b *Buffer) Truncate(n int) {
	if n >= 0 && n < len(b.Payload) {
		b.Payload = b.Payload[:n]
	}
}

// Packet is one received command, event or response.
type Packet struct {
	Type  frame.Type
	Group *Group
	ID    uint8
	Data  []byte
	// Task is set for commands; it is the context the command runs on.
	Task *Task

	hdr  frame.Header
	buf  transport.Buffer
	rpc  *RPC
	once sync.Once
	done chan struct{}
}

// DecodingDone hands the underlying buffer back to the transport. Data must not be used
// afterwards. It is safe to call more than once.
func (p *Packet) DecodingDone() {
	p.once.Do(func() {
		if p.rpc.tr.RetainsRx() {
			p.rpc.tr.FreeRx(p.buf)
		}
		if p.done != nil {
			close(p.done)
		}
	})
}

// Respond sends b as the response to this command.
func (p *Packet) Respond(b *Buffer) error {
	return p.rpc.Rsp(p.Task, p.Group, b)
}

// New builds an instance over tr serving the groups in reg.
func New(tr transport.Transport, reg *Registry, cfg Config) *RPC {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	r := &RPC{
		id:       id,
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "rpc").Str("node", cfg.Node).Str("instance", id[:8]).Logger(),
		tr:       tr,
		reg:      reg,
		workers:  newWorkerPool(cfg.ThreadPool),
		peerInit: make(chan frame.Init, 1),
		quit:     make(chan struct{}),
	}
	r.pool = newCtxPool(cfg.Contexts, cfg.MailboxDepth, func(n int) {
		observability.SetContextsInUse(cfg.Node, n)
	})
	return r
}

// Init assigns group ids, brings up the transport, exchanges INIT with the peer and
// verifies both sides registered the same groups. It blocks until the peer's INIT arrives.
func (r *RPC) Init(ctx context.Context) error {
	err := ErrAlreadyInitialized
	r.initOnce.Do(func() {
		err = r.init(ctx)
	})
	return err
}

func (r *RPC) init(ctx context.Context) error {
	r.groups = r.reg.freeze()
	r.workers.start(r.cfg.ThreadPool)
	if err := r.tr.Start(ctx, r.receive); err != nil {
		return fmt.Errorf("rpc: start transport: %w", err)
	}

	local := frame.Init{
		Version:    frame.ProtocolVersion,
		PoolDepth:  uint8(r.cfg.ThreadPool),
		GroupCount: uint8(len(r.groups)),
		Checksum:   r.reg.Checksum(),
	}
	b, err := r.allocRaw(frame.InitPayloadLen)
	if err != nil {
		return err
	}
	_ = frame.EncodeInit(b.Payload, local)
	hdr := frame.Header{Type: frame.TypeINIT, Dst: frame.NoContext, Group: frame.NoGroup}
	if err := r.send(hdr, b); err != nil {
		return fmt.Errorf("rpc: send init: %w", err)
	}

	var peer frame.Init
	select {
	case <-ctx.Done():
		return ctx.Err()
	case peer = <-r.peerInit:
	}
	if peer.Version != local.Version || peer.GroupCount != local.GroupCount || peer.Checksum != local.Checksum {
		err := fmt.Errorf("%w: local groups=%d checksum=%#08x, peer groups=%d checksum=%#08x",
			ErrIncompatiblePeer, local.GroupCount, local.Checksum, peer.GroupCount, peer.Checksum)
		r.log.Error().Err(err).Msg("init mismatch")
		r.cfg.Fault(err)
		return err
	}
	depth := int(peer.PoolDepth)
	if depth == 0 {
		depth = 1
	}
	r.peer = peer
	r.remote = make(chan struct{}, depth)
	r.ready.Store(true)
	r.log.Info().Int("groups", len(r.groups)).Int("peer_pool", depth).Msg("rpc ready")

	for _, g := range r.groups {
		if g.OnBound != nil {
			g.OnBound(g)
		}
	}
	return nil
}

// Alloc lends a transmit buffer with room for n payload bytes. It blocks while the
// transport has no free space.
func (r *RPC) Alloc(n int) (*Buffer, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	return r.allocRaw(n)
}

// Free returns a buffer that will not be sent.
func (r *RPC) Free(b *Buffer) {
	if b != nil {
		r.tr.FreeTx(b.tb)
	}
}

// Close stops the worker pool and the transport. Calls waiting on the peer return ErrClosed.
func (r *RPC) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.quit)
	r.workers.stop()
	return r.tr.Close()
}

func (r *RPC) Ready() bool {
	return r.ready.Load()
}

// Status is a point-in-time view of an instance.
type Status struct {
	Instance       string   `json:"instance"`
	Node           string   `json:"node"`
	Ready          bool     `json:"ready"`
	Groups         []string `json:"groups"`
	Checksum       uint32   `json:"checksum"`
	ContextsInUse  int      `json:"contexts_in_use"`
	Contexts       int      `json:"contexts"`
	ThreadPool     int      `json:"thread_pool"`
	PeerPool       int      `json:"peer_pool"`
	RemoteReserved int      `json:"remote_reserved"`
}

func (r *RPC) Status() Status {
	s := Status{
		Instance:      r.id,
		Node:          r.cfg.Node,
		Ready:         r.ready.Load(),
		Checksum:      r.reg.Checksum(),
		ContextsInUse: r.pool.inUse(),
		Contexts:      r.cfg.Contexts,
		ThreadPool:    r.cfg.ThreadPool,
	}
	for _, g := range r.reg.Groups() {
		s.Groups = append(s.Groups, g.Name)
	}
	if s.Ready {
		s.PeerPool = cap(r.remote)
		s.RemoteReserved = len(r.remote)
	}
	return s
}

func (r *RPC) allocRaw(n int) (*Buffer, error) {
	tb, err := r.tr.Alloc(frame.HeaderLen + n)
	if err != nil {
		return nil, err
	}
	return &Buffer{Payload: tb.Data[frame.HeaderLen : frame.HeaderLen+n], tb: tb}, nil
}

// send stamps hdr on b and transmits it. b is consumed either way.
func (r *RPC) send(hdr frame.Header, b *Buffer) error {
	if b == nil {
		return fmt.Errorf("rpc: nil buffer")
	}
	if err := frame.EncodeHeader(b.tb.Data, hdr); err != nil {
		r.tr.FreeTx(b.tb)
		return err
	}
	if err := r.tr.Send(b.tb, frame.HeaderLen+len(b.Payload)); err != nil {
		r.tr.FreeTx(b.tb)
		return err
	}
	observability.RecordPacket(r.cfg.Node, "tx", hdr.Type.String())
	r.log.Trace().Str("type", hdr.Type.String()).Uint8("id", hdr.ID).Uint8("dst", hdr.Dst).Uint8("group", hdr.Group).Int("len", len(b.Payload)).Msg("packet sent")
	return nil
}

// reserveRemote takes one of the peer's worker slots, blocking while all are in use.
func (r *RPC) reserveRemote() error {
	select {
	case <-r.quit:
		return ErrClosed
	case r.remote <- struct{}{}:
		return nil
	}
}

func (r *RPC) releaseRemote() {
	select {
	case <-r.remote:
	default:
		if r.remote == nil {
			return
		}
		r.log.Warn().Msg("peer released more worker slots than were reserved")
	}
}

func (r *RPC) group(id uint8) *Group {
	if int(id) >= len(r.groups) {
		return nil
	}
	return r.groups[id]
}
