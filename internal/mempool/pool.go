// Package mempool provides sized buffer pools for the per-frame hot path:
// float32 tensors for model inputs and byte pixel planes for native images.
package mempool

import (
	"sync"
	"sync/atomic"
)

const classStep = 4096

var (
	float32Pools sync.Map // size class -> *sync.Pool
	bytePools    sync.Map // size class -> *sync.Pool

	outstanding atomic.Int64
)

// sizeClass rounds n up to a multiple of classStep.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor(pools *sync.Map, cls int, newBuf func(int) any) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool) //nolint:forcetypeassert
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return newBuf(cls) }})
	return p.(*sync.Pool) //nolint:forcetypeassert
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32.
func GetFloat32(n int) []float32 {
	cls := sizeClass(n)
	p := poolFor(&float32Pools, cls, func(c int) any { return make([]float32, c) })
	buf, ok := p.Get().([]float32)
	if !ok || cap(buf) < cls {
		buf = make([]float32, cls)
	}
	outstanding.Add(1)
	return buf[:n]
}

// PutFloat32 returns a buffer to its pool. A nil slice is ignored.
func PutFloat32(buf []float32) {
	if buf == nil {
		return
	}
	outstanding.Add(-1)
	p := poolFor(&float32Pools, sizeClass(cap(buf)), func(c int) any { return make([]float32, c) })
	p.Put(buf[:cap(buf)]) //nolint:staticcheck
}

// GetBytes returns a zeroed byte buffer of length n. Return it with PutBytes.
func GetBytes(n int) []byte {
	cls := sizeClass(n)
	p := poolFor(&bytePools, cls, func(c int) any { return make([]byte, c) })
	buf, ok := p.Get().([]byte)
	if !ok || cap(buf) < cls {
		buf = make([]byte, cls)
	}
	buf = buf[:n]
	clear(buf)
	outstanding.Add(1)
	return buf
}

// PutBytes returns a buffer to its pool. A nil slice is ignored.
func PutBytes(buf []byte) {
	if buf == nil {
		return
	}
	outstanding.Add(-1)
	p := poolFor(&bytePools, sizeClass(cap(buf)), func(c int) any { return make([]byte, c) })
	p.Put(buf[:cap(buf)]) //nolint:staticcheck
}

// Outstanding reports buffers handed out and not yet returned, across both pools.
func Outstanding() int64 {
	return outstanding.Load()
}
