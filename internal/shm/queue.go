package shm

import (
	"fmt"
	"sync"
)

// SignalKind tells the receiving side what a queued block index means.
type SignalKind uint8

const (
	// SignalDataReady announces a message at a block in the sender's pool.
	SignalDataReady SignalKind = iota
	// SignalReleased hands a block in the receiver's pool back to its allocator.
	SignalReleased
)

const releaseFlag = 0x80

func (k SignalKind) String() string {
	if k == SignalReleased {
		return "released"
	}
	return "data_ready"
}

// Signal is one queued notification.
type Signal struct {
	Kind  SignalKind
	Block BlockIndex
}

func (s Signal) encode() byte {
	if s.Kind == SignalReleased {
		return releaseFlag | byte(s.Block)
	}
	return byte(s.Block)
}

func decodeSignal(b byte) Signal {
	if b&releaseFlag != 0 {
		return Signal{Kind: SignalReleased, Block: BlockIndex(b &^ releaseFlag)}
	}
	return Signal{Kind: SignalDataReady, Block: BlockIndex(b)}
}

// Cursors is a snapshot of one queue's producer and consumer positions.
type Cursors struct {
	Tx uint32 `json:"tx"`
	Rx uint32 `json:"rx"`
}

// Producer writes signals into the queue of the local transmit area.
type Producer struct {
	mu   sync.Mutex
	area *Area
	bell Doorbell
}

func NewProducer(area *Area, bell Doorbell) *Producer {
	return &Producer{area: area, bell: bell}
}

// Send appends s and rings the doorbell. It never blocks on the consumer; a full queue means
// the peer broke the ownership protocol.
func (p *Producer) Send(s Signal) error {
	capacity := uint32(p.area.layout.QueueCap)
	p.mu.Lock()
	tail := p.area.loadTx()
	head := p.area.loadRx()
	if tail >= capacity || head >= capacity {
		p.mu.Unlock()
		return fmt.Errorf("%w: tx=%d rx=%d cap=%d", ErrQueueCorrupted, tail, head, capacity)
	}
	next := (tail + 1) % capacity
	if next == head {
		p.mu.Unlock()
		return fmt.Errorf("%w: tx=%d rx=%d", ErrQueueOverflow, tail, head)
	}
	*p.area.slot(tail) = s.encode()
	p.area.storeTx(next)
	p.mu.Unlock()

	if p.bell != nil {
		p.bell.Ring()
	}
	return nil
}

func (p *Producer) Cursors() Cursors {
	return Cursors{Tx: p.area.loadTx(), Rx: p.area.loadRx()}
}

// Consumer reads signals from the peer's transmit area. Only one goroutine may consume.
type Consumer struct {
	area *Area
}

func NewConsumer(area *Area) *Consumer {
	return &Consumer{area: area}
}

// Recv pops the oldest signal. ok is false when the queue is empty.
func (c *Consumer) Recv() (Signal, bool, error) {
	capacity := uint32(c.area.layout.QueueCap)
	head := c.area.loadRx()
	tail := c.area.loadTx()
	if head >= capacity || tail >= capacity {
		return Signal{}, false, fmt.Errorf("%w: tx=%d rx=%d cap=%d", ErrQueueCorrupted, tail, head, capacity)
	}
	if head == tail {
		return Signal{}, false, nil
	}
	s := decodeSignal(*c.area.slot(head))
	c.area.storeRx((head + 1) % capacity)
	return s, true, nil
}

func (c *Consumer) Cursors() Cursors {
	return Cursors{Tx: c.area.loadTx(), Rx: c.area.loadRx()}
}
