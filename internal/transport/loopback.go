package transport

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is an in-process transport. Every packet is copied into one receive buffer per
// side, so received data is only valid until the receive callback returns.
type Loopback struct {
	peer    *Loopback
	maxSize int
	inbox   chan []byte
	rxBuf   []byte
	recv    ReceiveFunc

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

var _ Transport = (*Loopback)(nil)

// NewLoopbackPair returns two connected ends carrying packets of up to maxSize bytes.
func NewLoopbackPair(maxSize, depth int) (*Loopback, *Loopback) {
	if depth <= 0 {
		depth = 1
	}
	newEnd := func() *Loopback {
		return &Loopback{
			maxSize: maxSize,
			inbox:   make(chan []byte, depth),
			rxBuf:   make([]byte, maxSize),
			ready:   make(chan struct{}),
			closed:  make(chan struct{}),
			done:    make(chan struct{}),
		}
	}
	a, b := newEnd(), newEnd()
	a.peer, b.peer = b, a
	return a, b
}

// Start waits for the peer to start, mirroring the shared memory handshake.
func (l *Loopback) Start(ctx context.Context, recv ReceiveFunc) error {
	if recv == nil {
		return fmt.Errorf("transport: nil receive callback")
	}
	l.recv = recv
	l.readyOnce.Do(func() { close(l.ready) })
	go l.loop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.peer.ready:
		return nil
	}
}

func (l *Loopback) Alloc(n int) (Buffer, error) {
	if n < 0 || n > l.maxSize {
		return Buffer{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, n, l.maxSize)
	}
	return Buffer{Data: make([]byte, n), Slot: -1}, nil
}

func (l *Loopback) Send(buf Buffer, n int) error {
	if n < 0 || n > len(buf.Data) {
		return fmt.Errorf("%w: send %d of %d bytes", ErrTooLarge, n, len(buf.Data))
	}
	select {
	case <-l.closed:
		return ErrClosed
	case <-l.peer.closed:
		return ErrClosed
	default:
	}
	msg := make([]byte, n)
	copy(msg, buf.Data[:n])
	select {
	case <-l.closed:
		return ErrClosed
	case <-l.peer.closed:
		return ErrClosed
	case l.peer.inbox <- msg:
		return nil
	}
}

func (l *Loopback) FreeTx(Buffer) {}

func (l *Loopback) FreeRx(Buffer) {}

func (l *Loopback) RetainsRx() bool {
	return false
}

func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	select {
	case <-l.ready:
		<-l.done
	default:
	}
	return nil
}

func (l *Loopback) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.closed:
			return
		case msg := <-l.inbox:
			n := copy(l.rxBuf, msg)
			l.recv(Buffer{Data: l.rxBuf[:n], Slot: -1})
		}
	}
}
