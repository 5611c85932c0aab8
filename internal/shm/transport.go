package shm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ipcmux/internal/observability"
	"github.com/danmuck/ipcmux/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures one shared memory endpoint.
type Config struct {
	Side    Side
	Node    string
	Backoff BackoffConfig
	// Fault receives unrecoverable shared memory errors. The default panics.
	Fault  func(error)
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Side:    SideA,
		Node:    "ipcmux",
		Backoff: DefaultBackoff(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Node == "" {
		c.Node = d.Node
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
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

// Stats is a point-in-time view of an endpoint.
type Stats struct {
	Side       string  `json:"side"`
	BlockCount int     `json:"block_count"`
	BlockSize  int     `json:"block_size"`
	FreeMask   uint64  `json:"free_mask"`
	FreeBlocks int     `json:"free_blocks"`
	AllocWaits uint64  `json:"alloc_waits"`
	TxQueue    Cursors `json:"tx_queue"`
	RxQueue    Cursors `json:"rx_queue"`
}

// Transport is the shared memory implementation of transport.Transport for one side of a
// Region. Received buffers alias the peer's pool and stay valid until FreeRx.
type Transport struct {
	cfg    Config
	log    zerolog.Logger
	layout Layout
	tx, rx *Area
	alloc  *Allocator
	prod   *Producer
	cons   *Consumer
	bell   Doorbell
	recv   transport.ReceiveFunc

	started   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

func NewTransport(region *Region, bell Doorbell, cfg Config) *Transport {
	cfg = cfg.WithDefaults()
	tx, rx := region.Endpoint(cfg.Side)
	t := &Transport{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "shm").Str("side", cfg.Side.String()).Logger(),
		layout: region.Layout(),
		tx:     tx,
		rx:     rx,
		prod:   NewProducer(tx, bell),
		cons:   NewConsumer(rx),
		bell:   bell,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.alloc = NewAllocator(tx, t.fault)
	return t
}

// Start resets the cursors this side owns, runs the handshake and starts the receive loop.
func (t *Transport) Start(ctx context.Context, recv transport.ReceiveFunc) error {
	if recv == nil {
		return fmt.Errorf("shm: nil receive callback")
	}
	t.tx.storeTx(0)
	t.rx.storeRx(0)
	t.log.Debug().Int("block_count", t.layout.BlockCount).Int("block_size", t.layout.BlockSize).Msg("handshake start")
	if err := Handshake(ctx, t.tx, t.rx, t.cfg.Backoff); err != nil {
		return fmt.Errorf("shm: handshake: %w", err)
	}
	t.recv = recv
	t.started.Store(true)
	go t.loop()
	t.log.Info().Msg("transport ready")
	return nil
}

func (t *Transport) Alloc(n int) (transport.Buffer, error) {
	if n > t.layout.MaxMessage() {
		return transport.Buffer{}, fmt.Errorf("%w: %w: %d bytes", transport.ErrTooLarge, ErrCapacity, n)
	}
	i, blocks, err := t.alloc.Alloc(n)
	if err != nil {
		return transport.Buffer{}, err
	}
	data, err := t.alloc.Data(i)
	if err != nil {
		t.fault(err)
		return transport.Buffer{}, err
	}
	observability.RecordBlocksAllocated(t.cfg.Node, blocks)
	return transport.Buffer{Data: data, Slot: int(i)}, nil
}

func (t *Transport) Send(buf transport.Buffer, n int) error {
	if !t.started.Load() {
		return ErrNotStarted
	}
	if t.isClosed() {
		return ErrClosed
	}
	i, err := t.slot(buf)
	if err != nil {
		return err
	}
	if err := t.alloc.Shrink(i, n); err != nil {
		return err
	}
	if err := t.prod.Send(Signal{Kind: SignalDataReady, Block: i}); err != nil {
		t.fault(err)
		return err
	}
	observability.RecordTransportSend(t.cfg.Node, n)
	return nil
}

func (t *Transport) FreeTx(buf transport.Buffer) {
	i, err := t.slot(buf)
	if err != nil {
		t.fault(err)
		return
	}
	t.alloc.Release(i)
}

func (t *Transport) FreeRx(buf transport.Buffer) {
	i, err := t.slot(buf)
	if err != nil {
		t.fault(err)
		return
	}
	if err := t.prod.Send(Signal{Kind: SignalReleased, Block: i}); err != nil {
		t.fault(err)
	}
}

func (t *Transport) RetainsRx() bool {
	return true
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	if t.started.Load() {
		<-t.done
	}
	return nil
}

func (t *Transport) Stats() Stats {
	return Stats{
		Side:       t.cfg.Side.String(),
		BlockCount: t.layout.BlockCount,
		BlockSize:  t.layout.BlockSize,
		FreeMask:   t.alloc.FreeMask(),
		FreeBlocks: t.alloc.FreeBlocks(),
		AllocWaits: t.alloc.Waits(),
		TxQueue:    t.prod.Cursors(),
		RxQueue:    t.cons.Cursors(),
	}
}

func (t *Transport) Layout() Layout {
	return t.layout
}

func (t *Transport) loop() {
	defer close(t.done)
	for {
		if err := t.drain(); err != nil {
			return
		}
		select {
		case <-t.closed:
			return
		case <-t.bell.C():
		}
	}
}

// drain processes every queued signal. Errors are already routed to the fault hook.
func (t *Transport) drain() error {
	for {
		s, ok, err := t.cons.Recv()
		if err != nil {
			t.fault(err)
			return err
		}
		if !ok {
			return nil
		}
		switch s.Kind {
		case SignalReleased:
			t.alloc.Release(s.Block)
			observability.RecordBlocksReleased(t.cfg.Node)
		case SignalDataReady:
			data, err := t.rx.message(s.Block)
			if err != nil {
				t.fault(err)
				return err
			}
			t.recv(transport.Buffer{Data: data, Slot: int(s.Block)})
		}
	}
}

func (t *Transport) slot(buf transport.Buffer) (BlockIndex, error) {
	if buf.Slot < 0 || buf.Slot >= t.layout.BlockCount {
		return 0, fmt.Errorf("%w: slot %d", ErrForeignBuffer, buf.Slot)
	}
	return BlockIndex(buf.Slot), nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *Transport) fault(err error) {
	t.log.Error().Err(err).Msg("shared memory fault")
	observability.RecordTransportFault(t.cfg.Node)
	t.cfg.Fault(err)
}
