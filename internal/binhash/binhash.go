// Package binhash fingerprints the running executable so that crash reports
// and status output can be matched to a build.
package binhash

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/minio/highwayhash"
	"golang.org/x/sync/singleflight"
)

// Sum is a HighwayHash-64 digest.
type Sum [8]byte

func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

var hashKey = [32]byte{}

// File hashes the file at path.
func File(path string) (Sum, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sum{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	hasher, err := highwayhash.New64(hashKey[:])
	if err != nil {
		return Sum{}, fmt.Errorf("failed to create hasher: %w", err)
	}
	if _, err := io.Copy(hasher, bufio.NewReader(f)); err != nil {
		return Sum{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	var s Sum
	copy(s[:], hasher.Sum(nil))
	return s, nil
}

var (
	g  singleflight.Group
	mu struct {
		sync.Mutex
		sum *Sum
	}
)

// Executable returns the hash of the running executable. The file is read at
// most once per process on success; concurrent callers share one read.
func Executable() (Sum, error) {
	mu.Lock()
	cached := mu.sum
	mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	v, err, _ := g.Do("executable", func() (interface{}, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		s, err := File(exe)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		mu.sum = &s
		mu.Unlock()
		return s, nil
	})
	if err != nil {
		return Sum{}, err
	}
	return v.(Sum), nil
}
