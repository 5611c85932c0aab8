// Package shm implements the shared memory link between two cores or processes.
//
// A Region is split into two directions. Each direction holds a pool of equal-size blocks
// owned by the transmitting side, a small byte queue the transmitter uses to announce
// "data ready at block N" or "your block N is released", and one handshake word.
//
// Ownership of a block run moves to the receiver when its index is queued as data ready
// and back to the transmitter when the receiver queues it as released. The transmitter's
// free mask is the only state touched from both allocating goroutines and the receive loop,
// and it is only ever modified atomically.
//
// Shared memory corruption (a cursor out of range, an implausible size prefix) is never
// repaired; it is reported to the configured fault hook.
package shm
