package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// BlockHeaderLen is the size prefix stored at the start of every message block run.
	BlockHeaderLen = 2

	cursorTxOff = 0
	cursorRxOff = 4
	queueOff    = 8
	wordSize    = 4
	maxMessage  = 1<<16 - 1
)

// BlockIndex addresses one block inside a direction's pool.
type BlockIndex uint8

// Layout is the fixed geometry of one direction of a shared region.
type Layout struct {
	Size         int
	BlockCount   int
	BlockSize    int
	QueueCap     int
	HandshakeOff int
	BlocksOff    int
}

// NewLayout derives the geometry of one direction of size halfSize split into blockCount blocks.
func NewLayout(halfSize, blockCount int) (Layout, error) {
	if blockCount != 32 && blockCount != 64 {
		return Layout{}, fmt.Errorf("%w: block count %d (want 32 or 64)", ErrInvalidLayout, blockCount)
	}
	l := Layout{
		Size:       halfSize,
		BlockCount: blockCount,
		QueueCap:   2*blockCount + 1,
	}
	l.HandshakeOff = alignUp(queueOff+l.QueueCap, wordSize)
	l.BlocksOff = alignUp(l.HandshakeOff+wordSize, wordSize)
	if halfSize <= l.BlocksOff {
		return Layout{}, fmt.Errorf("%w: %d bytes leave no block storage", ErrInvalidLayout, halfSize)
	}
	l.BlockSize = (halfSize - l.BlocksOff) / blockCount
	l.BlockSize -= l.BlockSize % wordSize
	if l.BlockSize < 8 {
		return Layout{}, fmt.Errorf("%w: block size %d too small", ErrInvalidLayout, l.BlockSize)
	}
	if l.MaxMessage() > maxMessage {
		return Layout{}, fmt.Errorf("%w: max message %d exceeds size prefix", ErrInvalidLayout, l.MaxMessage())
	}
	return l, nil
}

// MaxMessage is the largest payload one allocation can carry.
func (l Layout) MaxMessage() int {
	return l.BlockCount*l.BlockSize - BlockHeaderLen
}

// BlocksFor returns how many blocks a payload of n bytes occupies.
func (l Layout) BlocksFor(n int) int {
	return (BlockHeaderLen + n + l.BlockSize - 1) / l.BlockSize
}

// Area is one direction of a shared region. All offsets are checked here so callers only
// ever handle block indices.
type Area struct {
	mem    []byte
	layout Layout
}

func newArea(mem []byte, l Layout) (*Area, error) {
	if len(mem) < l.Size {
		return nil, fmt.Errorf("%w: area has %d bytes, layout needs %d", ErrInvalidLayout, len(mem), l.Size)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("%w: area is not word aligned", ErrInvalidLayout)
	}
	return &Area{mem: mem[:l.Size], layout: l}, nil
}

func (a *Area) Layout() Layout {
	return a.layout
}

func (a *Area) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&a.mem[off]))
}

func (a *Area) loadTx() uint32 { return atomic.LoadUint32(a.word(cursorTxOff)) }
func (a *Area) storeTx(v uint32) { atomic.StoreUint32(a.word(cursorTxOff), v) }
func (a *Area) loadRx() uint32 { return atomic.LoadUint32(a.word(cursorRxOff)) }
func (a *Area) storeRx(v uint32) { atomic.StoreUint32(a.word(cursorRxOff), v) }
func (a *Area) slot(i uint32) *byte { return &a.mem[queueOff+int(i)] }

func (a *Area) loadHandshake() byte {
	return byte(atomic.LoadUint32(a.word(a.layout.HandshakeOff)))
}

func (a *Area) storeHandshake(v byte) {
	atomic.StoreUint32(a.word(a.layout.HandshakeOff), uint32(v))
}

// blockRange returns the storage of n blocks starting at i, header included.
func (a *Area) blockRange(i BlockIndex, n int) ([]byte, error) {
	if int(i) >= a.layout.BlockCount || n <= 0 || int(i)+n > a.layout.BlockCount {
		return nil, fmt.Errorf("%w: block %d+%d outside pool of %d", ErrBlockRange, i, n, a.layout.BlockCount)
	}
	start := a.layout.BlocksOff + int(i)*a.layout.BlockSize
	return a.mem[start : start+n*a.layout.BlockSize], nil
}

func (a *Area) readSize(i BlockIndex) (int, error) {
	b, err := a.blockRange(i, 1)
	if err != nil {
		return 0, err
	}
	return int(b[0]) | int(b[1])<<8, nil
}

func (a *Area) writeSize(i BlockIndex, n int) error {
	b, err := a.blockRange(i, 1)
	if err != nil {
		return err
	}
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	return nil
}

// message returns the payload stored at block i, validating the size prefix.
func (a *Area) message(i BlockIndex) ([]byte, error) {
	size, err := a.readSize(i)
	if err != nil {
		return nil, err
	}
	avail := (a.layout.BlockCount-int(i))*a.layout.BlockSize - BlockHeaderLen
	if size > avail {
		return nil, fmt.Errorf("%w: block %d claims %d bytes, %d available", ErrCorrupted, i, size, avail)
	}
	blocks, err := a.blockRange(i, a.layout.BlocksFor(size))
	if err != nil {
		return nil, err
	}
	return blocks[BlockHeaderLen : BlockHeaderLen+size], nil
}

// Side selects which half of a region an endpoint transmits through.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return "b"
	}
	return "a"
}

// ParseSide accepts "a" or "b".
func ParseSide(raw string) (Side, error) {
	switch raw {
	case "a", "A":
		return SideA, nil
	case "b", "B":
		return SideB, nil
	default:
		return SideA, fmt.Errorf("shm: unknown side %q", raw)
	}
}

// Region is a shared memory area split into two symmetric directions.
type Region struct {
	layout Layout
	areas  [2]*Area
}

// NewRegion splits mem into two directions of blockCount blocks each.
func NewRegion(mem []byte, blockCount int) (*Region, error) {
	half := (len(mem) / 2) &^ 7
	l, err := NewLayout(half, blockCount)
	if err != nil {
		return nil, err
	}
	a0, err := newArea(mem[:half], l)
	if err != nil {
		return nil, err
	}
	a1, err := newArea(mem[half:2*half], l)
	if err != nil {
		return nil, err
	}
	return &Region{layout: l, areas: [2]*Area{a0, a1}}, nil
}

func (r *Region) Layout() Layout {
	return r.layout
}

// Endpoint returns the transmit and receive areas for side.
func (r *Region) Endpoint(side Side) (tx, rx *Area) {
	if side == SideB {
		return r.areas[1], r.areas[0]
	}
	return r.areas[0], r.areas[1]
}

func alignUp(v, to int) int {
	return (v + to - 1) &^ (to - 1)
}
