package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
)

// BufferSize is the byte length of the counter buffer on the wire: one
// little-endian uint32 per key.
const BufferSize = fingerprint.KeySpace * 4

// ErrBufferSize is returned when raw counter data has the wrong length.
var ErrBufferSize = errors.New("counter buffer has wrong size")

// Buffer holds one atomic counter per key.
type Buffer struct {
	counters [fingerprint.KeySpace]atomic.Uint32
}

// NewBuffer returns a zeroed counter buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// BufferFromBytes decodes an 8192-byte little-endian counter buffer.
func BufferFromBytes(data []byte) (*Buffer, error) {
	if len(data) != BufferSize {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrBufferSize, len(data), BufferSize)
	}
	b := NewBuffer()
	for i := range b.counters {
		b.counters[i].Store(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return b, nil
}

// Increment adds one to the counter of key.
func (b *Buffer) Increment(key fingerprint.Key) {
	b.counters[key].Add(1)
}

// Load returns the counter of key.
func (b *Buffer) Load(key fingerprint.Key) uint32 {
	return b.counters[key].Load()
}

// Total returns the sum of all counters.
func (b *Buffer) Total() uint64 {
	var total uint64
	for i := range b.counters {
		total += uint64(b.counters[i].Load())
	}
	return total
}

// Reset zeroes every counter.
func (b *Buffer) Reset() {
	for i := range b.counters {
		b.counters[i].Store(0)
	}
}

// Snapshot copies the counters into a plain array.
func (b *Buffer) Snapshot() *[fingerprint.KeySpace]uint32 {
	var out [fingerprint.KeySpace]uint32
	for i := range b.counters {
		out[i] = b.counters[i].Load()
	}
	return &out
}

// Counts yields the populated counters in key order.
func (b *Buffer) Counts() iter.Seq2[fingerprint.Key, uint32] {
	return fingerprint.DenseCounts(b.Snapshot())
}

// Bytes encodes the counters in their wire form.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, BufferSize)
	for i := range b.counters {
		binary.LittleEndian.PutUint32(out[i*4:], b.counters[i].Load())
	}
	return out
}

// store overwrites the counters with words read back from a device.
func (b *Buffer) store(words []uint32) {
	for i := range b.counters {
		b.counters[i].Store(words[i])
	}
}

// words returns the counters as a plain slice for upload.
func (b *Buffer) words() []uint32 {
	snap := b.Snapshot()
	return snap[:]
}
