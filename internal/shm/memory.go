package shm

import "unsafe"

// NewMemory returns size bytes of zeroed, 8-byte aligned heap memory suitable for an
// in-process region shared between goroutines.
func NewMemory(size int) []byte {
	if size <= 0 {
		return nil
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}
