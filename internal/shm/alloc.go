package shm

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// Allocator hands out contiguous block runs from one direction's pool. The free mask is
// only ever touched with atomic operations so releases signalled from the receive path never
// contend on a lock with allocating goroutines.
type Allocator struct {
	area   *Area
	layout Layout
	full   uint64
	mask   atomic.Uint64
	wake   chan struct{}
	fault  func(error)

	waits atomic.Uint64
}

// NewAllocator builds an allocator over area with every block free. fault receives misuse
// and corruption errors; it is expected not to return.
func NewAllocator(area *Area, fault func(error)) *Allocator {
	l := area.Layout()
	a := &Allocator{
		area:   area,
		layout: l,
		full:   runBits(0, l.BlockCount),
		wake:   make(chan struct{}, l.BlockCount),
		fault:  fault,
	}
	a.mask.Store(a.full)
	return a
}

// Alloc reserves enough contiguous blocks for n payload bytes and returns the first block
// and the run length. It blocks while no run of that length is free.
func (a *Allocator) Alloc(n int) (BlockIndex, int, error) {
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: negative length %d", ErrCapacity, n)
	}
	blocks := a.layout.BlocksFor(n)
	if blocks == 0 || blocks > a.layout.BlockCount {
		return 0, 0, fmt.Errorf("%w: %d bytes need %d blocks of %d", ErrCapacity, n, blocks, a.layout.BlockCount)
	}
	for {
		start, ok := findRun(a.mask.Load(), blocks)
		if !ok {
			a.waits.Add(1)
			<-a.wake
			continue
		}
		want := runBits(start, blocks)
		old := a.mask.And(^want)
		if old&want != want {
			// Lost a race for part of the run; hand back what this call cleared.
			a.mask.Or(old & want)
			a.signal()
			continue
		}
		if a.mask.Load() != 0 {
			a.signal()
		}
		i := BlockIndex(start)
		if err := a.area.writeSize(i, blocks*a.layout.BlockSize-BlockHeaderLen); err != nil {
			a.fault(err)
			return 0, 0, err
		}
		return i, blocks, nil
	}
}

// Data returns the payload capacity of the run starting at i as reserved by Alloc.
func (a *Allocator) Data(i BlockIndex) ([]byte, error) {
	size, err := a.area.readSize(i)
	if err != nil {
		return nil, err
	}
	blocks, err := a.area.blockRange(i, a.layout.BlocksFor(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return blocks[BlockHeaderLen : BlockHeaderLen+size], nil
}

// Shrink records the final length n of the message at i, returning blocks the message no
// longer needs to the pool before it is signalled.
func (a *Allocator) Shrink(i BlockIndex, n int) error {
	reserved, err := a.reservedBlocks(i)
	if err != nil {
		return err
	}
	needed := a.layout.BlocksFor(n)
	if n < 0 || needed > reserved {
		return fmt.Errorf("%w: %d bytes do not fit %d reserved blocks", ErrCapacity, n, reserved)
	}
	if needed < reserved {
		a.releaseBits(runBits(int(i)+needed, reserved-needed))
	}
	return a.area.writeSize(i, n)
}

// Release frees the run starting at i, sized from its stored prefix.
func (a *Allocator) Release(i BlockIndex) {
	blocks, err := a.reservedBlocks(i)
	if err != nil {
		a.fault(err)
		return
	}
	a.releaseBits(runBits(int(i), blocks))
}

// FreeMask returns a snapshot of the free mask, one bit per block, 1 = free.
func (a *Allocator) FreeMask() uint64 {
	return a.mask.Load()
}

// FreeBlocks returns how many blocks are currently free.
func (a *Allocator) FreeBlocks() int {
	return bits.OnesCount64(a.mask.Load())
}

// Waits returns how many times an allocation had to block for a release.
func (a *Allocator) Waits() uint64 {
	return a.waits.Load()
}

func (a *Allocator) reservedBlocks(i BlockIndex) (int, error) {
	size, err := a.area.readSize(i)
	if err != nil {
		return 0, err
	}
	blocks := a.layout.BlocksFor(size)
	if int(i)+blocks > a.layout.BlockCount {
		return 0, fmt.Errorf("%w: block %d claims %d bytes", ErrCorrupted, i, size)
	}
	return blocks, nil
}

func (a *Allocator) releaseBits(run uint64) {
	old := a.mask.Or(run)
	if old&run != 0 {
		a.fault(fmt.Errorf("%w: mask %#x release %#x", ErrDoubleFree, old, run))
		return
	}
	a.signal()
}

func (a *Allocator) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// findRun returns the lowest start of n consecutive set bits in mask.
func findRun(mask uint64, n int) (int, bool) {
	run := mask
	for i := 1; i < n && run != 0; i++ {
		run &= mask >> uint(i)
	}
	if run == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(run), true
}

func runBits(start, n int) uint64 {
	return (uint64(1)<<uint(n) - 1) << uint(start)
}
