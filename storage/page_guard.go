package storage

import (
	"sync"
)

// Page guards are the only way to reach a resident page's bytes. A guard
// couples a pin (keeping the frame resident) with the frame's content
// latch (shared for readers, exclusive for writers); both are released
// together by Drop, on every path.
//
// Guards are constructed only by the BufferPoolManager. The frame, the
// replacer and the pool mutex a guard references are owned by the pool
// and outlive every guard.

// ReadPageGuard provides scoped, shared, read-only access to one page
type ReadPageGuard struct {
	pageID   uint32
	frame    *FrameHeader
	replacer *LRUKReplacer
	poolMu   *sync.Mutex
	valid    bool
}

// newReadPageGuard latches the frame in shared mode. Called by the pool
// with the pin already taken and the pool mutex released.
func newReadPageGuard(pageID uint32, frame *FrameHeader, replacer *LRUKReplacer, poolMu *sync.Mutex) *ReadPageGuard {
	frame.latch.RLock()
	return &ReadPageGuard{
		pageID:   pageID,
		frame:    frame,
		replacer: replacer,
		poolMu:   poolMu,
		valid:    true,
	}
}

// PageID returns the page ID of the page this guard is protecting
func (g *ReadPageGuard) PageID() uint32 {
	g.ensureValid("ReadPageGuard.PageID")
	return g.pageID
}

// Data returns the page's bytes. The slice is only valid while the guard
// is live and must not be retained or written through.
func (g *ReadPageGuard) Data() []byte {
	g.ensureValid("ReadPageGuard.Data")
	return g.frame.Data()
}

// IsDirty returns whether the page is modified but not yet flushed
func (g *ReadPageGuard) IsDirty() bool {
	g.ensureValid("ReadPageGuard.IsDirty")
	return g.frame.IsDirty()
}

// Valid reports whether the guard still holds a live frame reference
func (g *ReadPageGuard) Valid() bool {
	return g.valid
}

// Drop releases the guard: decrements the pin count, marks the frame
// evictable when the count reaches zero, and releases the shared latch.
// Idempotent; calling Drop on an already dropped or moved-from guard is
// a no-op.
func (g *ReadPageGuard) Drop() {
	if !g.valid {
		return
	}

	// The pin/evictable transition races with a concurrent fetch of the
	// same frame; the pool mutex makes the pair atomic.
	g.poolMu.Lock()
	if g.frame.Unpin() == 0 {
		g.replacer.SetEvictable(g.frame.FrameID(), true)
	}
	g.poolMu.Unlock()

	g.frame.latch.RUnlock()
	g.invalidate()
}

// Move transfers ownership to a fresh guard: the receiver is invalidated
// without releasing the latch, and the pin count is untouched.
func (g *ReadPageGuard) Move() *ReadPageGuard {
	g.ensureValid("ReadPageGuard.Move")
	moved := &ReadPageGuard{
		pageID:   g.pageID,
		frame:    g.frame,
		replacer: g.replacer,
		poolMu:   g.poolMu,
		valid:    true,
	}
	g.invalidate()
	// Harmless: SetEvictable is idempotent and the frame is pinned
	moved.replacer.SetEvictable(moved.frame.FrameID(), false)
	return moved
}

func (g *ReadPageGuard) ensureValid(op string) {
	if !g.valid {
		panic(ErrInvalidGuard(op))
	}
}

func (g *ReadPageGuard) invalidate() {
	g.valid = false
	g.frame = nil
	g.replacer = nil
	g.poolMu = nil
}

// WritePageGuard provides scoped, exclusive, mutable access to one page
type WritePageGuard struct {
	pageID   uint32
	frame    *FrameHeader
	replacer *LRUKReplacer
	poolMu   *sync.Mutex
	valid    bool
}

// newWritePageGuard latches the frame exclusively and marks it dirty:
// write access implies mutation intent, observed or not.
func newWritePageGuard(pageID uint32, frame *FrameHeader, replacer *LRUKReplacer, poolMu *sync.Mutex) *WritePageGuard {
	frame.latch.Lock()
	frame.SetDirty(true)
	return &WritePageGuard{
		pageID:   pageID,
		frame:    frame,
		replacer: replacer,
		poolMu:   poolMu,
		valid:    true,
	}
}

// PageID returns the page ID of the page this guard is protecting
func (g *WritePageGuard) PageID() uint32 {
	g.ensureValid("WritePageGuard.PageID")
	return g.pageID
}

// Data returns the page's bytes for reading
func (g *WritePageGuard) Data() []byte {
	g.ensureValid("WritePageGuard.Data")
	return g.frame.Data()
}

// DataMut returns the page's bytes for mutation. The slice is only valid
// while the guard is live.
func (g *WritePageGuard) DataMut() []byte {
	g.ensureValid("WritePageGuard.DataMut")
	return g.frame.Data()
}

// IsDirty returns whether the page is modified but not yet flushed
func (g *WritePageGuard) IsDirty() bool {
	g.ensureValid("WritePageGuard.IsDirty")
	return g.frame.IsDirty()
}

// Valid reports whether the guard still holds a live frame reference
func (g *WritePageGuard) Valid() bool {
	return g.valid
}

// Drop releases the guard: decrements the pin count, marks the frame
// evictable when the count reaches zero, and releases the exclusive
// latch. Idempotent.
func (g *WritePageGuard) Drop() {
	if !g.valid {
		return
	}

	g.poolMu.Lock()
	if g.frame.Unpin() == 0 {
		g.replacer.SetEvictable(g.frame.FrameID(), true)
	}
	g.poolMu.Unlock()

	g.frame.latch.Unlock()
	g.invalidate()
}

// Move transfers ownership to a fresh guard: the receiver is invalidated
// without releasing the latch, and the pin count is untouched.
func (g *WritePageGuard) Move() *WritePageGuard {
	g.ensureValid("WritePageGuard.Move")
	moved := &WritePageGuard{
		pageID:   g.pageID,
		frame:    g.frame,
		replacer: g.replacer,
		poolMu:   g.poolMu,
		valid:    true,
	}
	g.invalidate()
	// Harmless: SetEvictable is idempotent and the frame is pinned
	moved.replacer.SetEvictable(moved.frame.FrameID(), false)
	return moved
}

func (g *WritePageGuard) ensureValid(op string) {
	if !g.valid {
		panic(ErrInvalidGuard(op))
	}
}

func (g *WritePageGuard) invalidate() {
	g.valid = false
	g.frame = nil
	g.replacer = nil
	g.poolMu = nil
}
