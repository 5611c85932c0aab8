package shm

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/ipcmux/internal/testutil/testlog"
)

// testRegionSize yields 32 blocks of 16 bytes per direction.
const testRegionSize = 2 * (80 + 32*16)

func newTestRegion(t *testing.T) *Region {
	t.Helper()
	r, err := NewRegion(NewMemory(testRegionSize), 32)
	if err != nil {
		t.Fatalf("new region: %v", err)
	}
	return r
}

func TestLayoutGeometry(t *testing.T) {
	testlog.Start(t)
	l, err := NewLayout(592, 32)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if l.QueueCap != 65 || l.HandshakeOff != 76 || l.BlocksOff != 80 {
		t.Fatalf("unexpected offsets: %+v", l)
	}
	if l.BlockSize != 16 {
		t.Fatalf("block size got=%d want=16", l.BlockSize)
	}
	if l.HandshakeOff%4 != 0 || l.BlocksOff%4 != 0 {
		t.Fatalf("offsets not word aligned: %+v", l)
	}
	if got := l.MaxMessage(); got != 32*16-BlockHeaderLen {
		t.Fatalf("max message got=%d", got)
	}
	for n, want := range map[int]int{0: 1, 10: 1, 14: 1, 15: 2, 30: 2, 70: 5, 510: 32} {
		if got := l.BlocksFor(n); got != want {
			t.Fatalf("BlocksFor(%d) got=%d want=%d", n, got, want)
		}
	}
}

func TestLayoutRejectsBadGeometry(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		half, blocks int
	}{
		{592, 16},
		{80, 32},
		{80 + 32*4, 32},
		{80 + 32*4096, 32},
	}
	for _, tc := range cases {
		if _, err := NewLayout(tc.half, tc.blocks); !errors.Is(err, ErrInvalidLayout) {
			t.Fatalf("NewLayout(%d, %d): expected ErrInvalidLayout, got %v", tc.half, tc.blocks, err)
		}
	}
}

func TestRegionEndpointsAreMirrored(t *testing.T) {
	testlog.Start(t)
	r := newTestRegion(t)
	txA, rxA := r.Endpoint(SideA)
	txB, rxB := r.Endpoint(SideB)
	if txA != rxB || rxA != txB {
		t.Fatalf("endpoints are not mirrored")
	}
	if txA == rxA {
		t.Fatalf("side a transmits and receives through the same area")
	}
}

func TestAreaMessageRejectsImplausibleSize(t *testing.T) {
	testlog.Start(t)
	r := newTestRegion(t)
	tx, _ := r.Endpoint(SideA)
	if err := tx.writeSize(30, 40); err != nil {
		t.Fatalf("write size: %v", err)
	}
	if _, err := tx.message(30); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
	if _, err := tx.blockRange(31, 2); !errors.Is(err, ErrBlockRange) {
		t.Fatalf("expected ErrBlockRange, got %v", err)
	}
}

func TestParseSide(t *testing.T) {
	testlog.Start(t)
	if s, err := ParseSide("b"); err != nil || s != SideB {
		t.Fatalf("parse b: side=%v err=%v", s, err)
	}
	if _, err := ParseSide("c"); err == nil {
		t.Fatalf("expected error for unknown side")
	}
}

func TestNextBackoffDelayCapsAtMax(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	if got := NextBackoffDelay(cfg, 1, nil); got != 50*time.Microsecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 100*time.Microsecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 20, nil); got != 10*time.Millisecond {
		t.Fatalf("attempt20 got=%v", got)
	}
}
