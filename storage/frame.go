package storage

import (
	"sync/atomic"
)

// PageSize is the fixed size of a page in bytes, shared by the buffer pool
// and the disk managers.
const PageSize = 4096

// InvalidPageID marks a frame that holds no resident page.
const InvalidPageID = ^uint32(0)

// FrameHeader is one slot of the buffer pool's frame arena. The arena is
// allocated once at pool construction and frames are never reallocated;
// only their contents change as pages move in and out.
//
// The pin count and dirty flag are atomics so observers (GetPinCount, flush
// paths) can read them without taking the content latch. The content latch
// guards the page bytes and is acquired/released only through page guards.
type FrameHeader struct {
	frameID  uint32
	pageID   uint32 // Resident page, or InvalidPageID
	pinCount atomic.Int32
	isDirty  atomic.Bool
	latch    *RWLatch
	data     [PageSize]byte
}

// NewFrameHeader creates an empty frame for the given frame ID
func NewFrameHeader(frameID uint32) *FrameHeader {
	f := &FrameHeader{
		frameID: frameID,
		pageID:  InvalidPageID,
		latch:   NewRWLatch(),
	}
	return f
}

// FrameID returns the frame's arena index
func (f *FrameHeader) FrameID() uint32 {
	return f.frameID
}

// PageID returns the resident page ID, or InvalidPageID.
// Only meaningful while the pool mutex is held; the pool is the sole writer.
func (f *FrameHeader) PageID() uint32 {
	return f.pageID
}

// PinCount returns the current pin count (atomic read)
func (f *FrameHeader) PinCount() int32 {
	return f.pinCount.Load()
}

// Pin increments the pin count and returns the new value
func (f *FrameHeader) Pin() int32 {
	return f.pinCount.Add(1)
}

// Unpin decrements the pin count and returns the new value
func (f *FrameHeader) Unpin() int32 {
	return f.pinCount.Add(-1)
}

// IsDirty returns whether the frame's bytes diverge from the durable copy
func (f *FrameHeader) IsDirty() bool {
	return f.isDirty.Load()
}

// SetDirty sets the dirty flag
func (f *FrameHeader) SetDirty(dirty bool) {
	f.isDirty.Store(dirty)
}

// Data returns the frame's page bytes. Callers must hold the content latch
// in the appropriate mode; the slice must not be retained past the guard.
func (f *FrameHeader) Data() []byte {
	return f.data[:]
}

// Reset clears the frame for reuse: zeroes the bytes, drops the pin count
// and dirty flag, and detaches the resident page.
func (f *FrameHeader) Reset() {
	clear(f.data[:])
	f.pinCount.Store(0)
	f.isDirty.Store(false)
	f.pageID = InvalidPageID
}
