package shm

import (
	"context"
	"time"
)

// Handshake values, written in order by each side.
const (
	HandshakeInit  byte = 0x32
	HandshakeAck   byte = 0x43
	HandshakeReady byte = 0xF6
	HandshakeDone  byte = 0xA8
)

type handshakeStep struct {
	write  byte
	accept [2]byte
}

// Each step accepts the peer at the same value or one step ahead.
var handshakeSteps = [...]handshakeStep{
	{HandshakeInit, [2]byte{HandshakeInit, HandshakeAck}},
	{HandshakeAck, [2]byte{HandshakeAck, HandshakeReady}},
	{HandshakeReady, [2]byte{HandshakeReady, HandshakeDone}},
	{HandshakeDone, [2]byte{HandshakeDone, HandshakeDone}},
}

// Handshake synchronizes with the peer after reset. It polls with the given backoff and has
// no timeout of its own; only ctx ends a stuck handshake.
func Handshake(ctx context.Context, tx, rx *Area, backoff BackoffConfig) error {
	for _, step := range handshakeSteps {
		tx.storeHandshake(step.write)
		if err := awaitPeer(ctx, rx, step.accept, backoff); err != nil {
			return err
		}
	}
	return nil
}

func awaitPeer(ctx context.Context, rx *Area, accept [2]byte, backoff BackoffConfig) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for attempt := 1; ; attempt++ {
		v := rx.loadHandshake()
		if v == accept[0] || v == accept[1] {
			return nil
		}
		timer.Reset(NextBackoffDelay(backoff, attempt, nil))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
