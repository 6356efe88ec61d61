// Package idgen mints ride identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"
)

const DefaultPrefix = "RIDE-"

// Allocator hands out prefix+N with N starting at 1. Safe for concurrent use.
type Allocator struct {
	prefix  string
	counter atomic.Int64
}

func New(prefix string) *Allocator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Allocator{prefix: prefix}
}

func (a *Allocator) Next() string {
	return a.prefix + strconv.FormatInt(a.counter.Add(1), 10)
}

// Reset restarts the sequence at 1. Test and demo isolation only.
func (a *Allocator) Reset() { a.counter.Store(0) }
