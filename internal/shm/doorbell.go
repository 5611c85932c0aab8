package shm

import (
	"sync"
	"time"
)

// Doorbell is the cross-core notification primitive. Ring wakes the peer; C delivers the
// peer's rings locally. Rings coalesce, so receivers must drain their queue on every wake.
type Doorbell interface {
	Ring()
	C() <-chan struct{}
}

type chanDoorbell struct {
	local chan struct{}
	peer  chan struct{}
}

// NewDoorbellPair links two in-process doorbells; ringing one wakes the other.
func NewDoorbellPair() (Doorbell, Doorbell) {
	a := make(chan struct{}, 1)
	b := make(chan struct{}, 1)
	return &chanDoorbell{local: a, peer: b}, &chanDoorbell{local: b, peer: a}
}

func (d *chanDoorbell) Ring() {
	select {
	case d.peer <- struct{}{}:
	default:
	}
}

func (d *chanDoorbell) C() <-chan struct{} {
	return d.local
}

// PollDoorbell fires on a fixed interval. It serves file mapped regions shared between
// processes, where no interrupt reaches the peer.
type PollDoorbell struct {
	once   sync.Once
	ticker *time.Ticker
	c      chan struct{}
	stop   chan struct{}
}

func NewPollDoorbell(interval time.Duration) *PollDoorbell {
	if interval <= 0 {
		interval = time.Millisecond
	}
	d := &PollDoorbell{
		ticker: time.NewTicker(interval),
		c:      make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *PollDoorbell) run() {
	for {
		select {
		case <-d.stop:
			return
		case <-d.ticker.C:
			select {
			case d.c <- struct{}{}:
			default:
			}
		}
	}
}

// Ring is a no-op; the peer polls.
func (d *PollDoorbell) Ring() {}

func (d *PollDoorbell) C() <-chan struct{} {
	return d.c
}

func (d *PollDoorbell) Stop() {
	d.once.Do(func() {
		d.ticker.Stop()
		close(d.stop)
	})
}
