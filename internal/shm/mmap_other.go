//go:build !unix

package shm

import "errors"

// MapFile is unavailable without mmap; use NewMemory for in-process regions.
func MapFile(path string, size int) ([]byte, func() error, error) {
	return nil, nil, errors.New("shm: file mapped regions require a unix platform")
}
