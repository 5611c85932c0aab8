package shm

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/ipcmux/internal/testutil/testlog"
	"github.com/danmuck/ipcmux/internal/transport"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestHandshakeConverges(t *testing.T) {
	testlog.Start(t)
	r := newTestRegion(t)
	txA, rxA := r.Endpoint(SideA)
	txB, rxB := r.Endpoint(SideB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return Handshake(ctx, txA, rxA, DefaultBackoff()) })
	g.Go(func() error {
		// start late so side a waits on a peer still at zero
		time.Sleep(5 * time.Millisecond)
		return Handshake(ctx, txB, rxB, DefaultBackoff())
	})
	require.NoError(t, g.Wait())
	require.Equal(t, HandshakeDone, txA.loadHandshake())
	require.Equal(t, HandshakeDone, txB.loadHandshake())
}

func TestHandshakeToleratesPeerOneStepAhead(t *testing.T) {
	testlog.Start(t)
	r := newTestRegion(t)
	tx, rx := r.Endpoint(SideA)
	peer, _ := r.Endpoint(SideB)
	peer.storeHandshake(HandshakeAck)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Handshake(ctx, tx, rx, DefaultBackoff()) }()

	require.Eventually(t, func() bool { return tx.loadHandshake() == HandshakeReady }, time.Second, time.Millisecond)
	peer.storeHandshake(HandshakeDone)
	require.NoError(t, <-done)
}

func TestHandshakeHonoursContext(t *testing.T) {
	testlog.Start(t)
	tx, rx := newTestRegion(t).Endpoint(SideA)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := Handshake(ctx, tx, rx, DefaultBackoff()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type received struct {
	data []byte
	buf  transport.Buffer
}

type transportPair struct {
	a, b     *Transport
	rxA, rxB chan received
	faults   *faultRecorder
}

// startPair brings up both sides of one region. Received packets are copied and queued
// without being freed so tests control release timing.
func startPair(t *testing.T) *transportPair {
	t.Helper()
	logger := testlog.Start(t)
	r := newTestRegion(t)
	bellA, bellB := NewDoorbellPair()
	faults := &faultRecorder{}
	p := &transportPair{
		rxA:    make(chan received, 64),
		rxB:    make(chan received, 64),
		faults: faults,
	}
	p.a = NewTransport(r, bellA, Config{Side: SideA, Node: "test-a", Fault: faults.record, Logger: &logger})
	p.b = NewTransport(r, bellB, Config{Side: SideB, Node: "test-b", Fault: faults.record, Logger: &logger})

	sink := func(ch chan received) transport.ReceiveFunc {
		return func(buf transport.Buffer) {
			ch <- received{data: bytes.Clone(buf.Data), buf: buf}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.a.Start(ctx, sink(p.rxA)) })
	g.Go(func() error { return p.b.Start(ctx, sink(p.rxB)) })
	require.NoError(t, g.Wait())
	t.Cleanup(func() {
		_ = p.a.Close()
		_ = p.b.Close()
	})
	return p
}

func recvWithin(t *testing.T, ch chan received) received {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
		return received{}
	}
}

func TestTransportRoundTripAllLengths(t *testing.T) {
	p := startPair(t)
	limit := p.a.Layout().MaxMessage()
	for n := 0; n <= limit; n += 7 {
		buf, err := p.a.Alloc(n)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			buf.Data[i] = byte(n + i)
		}
		require.NoError(t, p.a.Send(buf, n))

		m := recvWithin(t, p.rxB)
		require.Len(t, m.data, n)
		for i := 0; i < n; i++ {
			if m.data[i] != byte(n+i) {
				t.Fatalf("len %d byte %d: got=%d want=%d", n, i, m.data[i], byte(n+i))
			}
		}
		p.b.FreeRx(m.buf)
	}
	require.Eventually(t, func() bool { return p.a.Stats().FreeBlocks == 32 }, 2*time.Second, time.Millisecond)
	require.Empty(t, p.faults.all())
}

func TestTransportBothDirectionsConserveBlocks(t *testing.T) {
	p := startPair(t)
	for i := 0; i < 50; i++ {
		for _, dir := range []struct {
			from *Transport
			to   *Transport
			rx   chan received
		}{{p.a, p.b, p.rxB}, {p.b, p.a, p.rxA}} {
			n := (i * 13) % 100
			buf, err := dir.from.Alloc(n)
			require.NoError(t, err)
			require.NoError(t, dir.from.Send(buf, n))
			m := recvWithin(t, dir.rx)
			require.Len(t, m.data, n)
			dir.to.FreeRx(m.buf)
		}
	}
	for _, tr := range []*Transport{p.a, p.b} {
		require.Eventually(t, func() bool {
			s := tr.Stats()
			return s.FreeBlocks == s.BlockCount && s.FreeMask == runBits(0, s.BlockCount)
		}, 2*time.Second, time.Millisecond)
	}
}

func TestTransportReleaseWakesBlockedAllocator(t *testing.T) {
	p := startPair(t)
	limit := p.a.Layout().MaxMessage()
	buf, err := p.a.Alloc(limit)
	require.NoError(t, err)
	require.NoError(t, p.a.Send(buf, limit))
	m := recvWithin(t, p.rxB)
	require.Equal(t, 0, p.a.Stats().FreeBlocks)

	got := make(chan error, 1)
	go func() {
		buf, err := p.a.Alloc(10)
		if err == nil {
			p.a.FreeTx(buf)
		}
		got <- err
	}()
	select {
	case err := <-got:
		t.Fatalf("alloc returned before release: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	p.b.FreeRx(m.buf)
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked allocation never woke")
	}
	require.GreaterOrEqual(t, p.a.Stats().AllocWaits, uint64(1))
}

func TestTransportAllocTooLarge(t *testing.T) {
	p := startPair(t)
	_, err := p.a.Alloc(p.a.Layout().MaxMessage() + 1)
	require.ErrorIs(t, err, transport.ErrTooLarge)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestTransportCorruptCursorFaults(t *testing.T) {
	p := startPair(t)
	// b consumes from a's transmit area
	p.b.rx.storeRx(1000)
	p.a.bell.Ring()

	require.Eventually(t, func() bool {
		for _, err := range p.faults.all() {
			if errors.Is(err, ErrQueueCorrupted) {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}
