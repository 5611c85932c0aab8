package shm

import "errors"

var (
	ErrInvalidLayout  = errors.New("shm: invalid layout")
	ErrCapacity       = errors.New("shm: allocation exceeds pool capacity")
	ErrBlockRange     = errors.New("shm: block index out of range")
	ErrCorrupted      = errors.New("shm: shared memory corrupted")
	ErrQueueCorrupted = errors.New("shm: signal queue cursor out of range")
	ErrQueueOverflow  = errors.New("shm: signal queue overflow")
	ErrDoubleFree     = errors.New("shm: block released twice")
	ErrNotStarted     = errors.New("shm: transport not started")
	ErrClosed         = errors.New("shm: transport closed")
	ErrForeignBuffer  = errors.New("shm: buffer does not belong to this transport")
)
