// Package transport defines the contract between the RPC multiplexer and the link that
// moves its packets between peers.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed     = errors.New("transport: closed")
	ErrNotStarted = errors.New("transport: not started")
	ErrTooLarge   = errors.New("transport: message too large")
)

// Buffer is a message buffer lent out by a Transport. Data aliases transport owned memory;
// Slot identifies it to the transport that issued it.
type Buffer struct {
	Data []byte
	Slot int
}

// ReceiveFunc is invoked once per complete incoming packet, from the transport's single
// receive goroutine. The buffer stays valid until FreeRx, or until the callback returns
// when the transport does not retain receive buffers.
type ReceiveFunc func(buf Buffer)

// Transport moves packets between two peers.
type Transport interface {
	// Start synchronizes with the peer and begins delivering packets to recv.
	Start(ctx context.Context, recv ReceiveFunc) error
	// Alloc lends a transmit buffer of at least n bytes, blocking while none is free.
	Alloc(n int) (Buffer, error)
	// Send transmits the first n bytes of buf and transfers its ownership to the peer.
	Send(buf Buffer, n int) error
	// FreeTx returns an allocated buffer that will not be sent.
	FreeTx(buf Buffer)
	// FreeRx returns a received buffer once its contents are no longer needed.
	FreeRx(buf Buffer)
	// RetainsRx reports whether received buffers outlive the receive callback.
	RetainsRx() bool
	Close() error
}
