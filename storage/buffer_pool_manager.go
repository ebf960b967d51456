package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BufferPoolManager mediates all access to fixed-size pages between durable
// storage and a fixed arena of in-memory frames.
//
// Two independent levels of mutual exclusion:
//   - bpm.mu protects the page table, the free list and frame-to-page
//     assignment (structural changes to who owns which frame).
//   - each frame's content latch protects that frame's bytes, acquired and
//     released only through page guards.
//
// The replacer has its own internal lock. bpm.mu is never held across a
// frame-latch wait: a caller pins the frame (and marks it non-evictable)
// under bpm.mu, releases bpm.mu, and only then blocks on the content
// latch. The pin keeps the mapping stable in the meantime, so no
// re-validation is needed. Disk waits happen under bpm.mu only on the
// miss and flush paths, never while a frame latch is wanted.
type BufferPoolManager struct {
	mu        sync.Mutex
	numFrames uint32
	frames    []*FrameHeader
	pageTable map[uint32]uint32 // page id -> frame id, resident pages only
	freeList  []uint32
	replacer  *LRUKReplacer
	scheduler *DiskScheduler
	metrics   *Metrics

	// Monotonically increasing page id allocator; ids are never reused
	nextPageID atomic.Uint32

	prefetcher     *Prefetcher
	enablePrefetch bool

	ownedDisk DiskIO // Set when the pool opened the disk manager itself
}

// NewBufferPoolManager creates a pool of numFrames frames over the given
// disk manager, using LRU-K replacement with the given k distance.
func NewBufferPoolManager(numFrames uint32, disk DiskIO, kDist int) (*BufferPoolManager, error) {
	return newBufferPoolManager(numFrames, disk, kDist, CompressionNone)
}

// NewBufferPoolManagerFromConfig opens the configured disk manager and
// builds a pool over it. The pool owns the disk manager and closes it.
func NewBufferPoolManagerFromConfig(config *Config) (*BufferPoolManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var disk DiskIO
	var err error
	if config.UseMmap {
		disk, err = NewMmapDiskManager(config.PageFile)
	} else {
		disk, err = NewDiskManager(config.PageFile)
	}
	if err != nil {
		return nil, err
	}

	compression, err := ParseCompressionType(config.Compression)
	if err != nil {
		disk.Close()
		return nil, err
	}

	bpm, err := newBufferPoolManager(config.PoolSize, disk, config.KDist, compression)
	if err != nil {
		disk.Close()
		return nil, err
	}
	bpm.ownedDisk = disk
	bpm.enablePrefetch = config.EnablePrefetch
	if config.EnablePrefetch {
		bpm.prefetcher = NewPrefetcher(bpm, config.PrefetchWindow)
	}
	return bpm, nil
}

func newBufferPoolManager(numFrames uint32, disk DiskIO, kDist int, compression CompressionType) (*BufferPoolManager, error) {
	if numFrames == 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if kDist < 1 {
		return nil, fmt.Errorf("k distance must be at least 1")
	}

	bpm := &BufferPoolManager{
		numFrames: numFrames,
		frames:    make([]*FrameHeader, numFrames),
		pageTable: make(map[uint32]uint32, numFrames),
		freeList:  make([]uint32, 0, numFrames),
		replacer:  NewLRUKReplacer(numFrames, kDist),
		scheduler: NewDiskScheduler(disk, compression),
		metrics:   NewMetrics(),
	}

	// Allocate the whole frame arena up front; all frames start free
	for i := uint32(0); i < numFrames; i++ {
		bpm.frames[i] = NewFrameHeader(i)
		bpm.freeList = append(bpm.freeList, i)
	}

	return bpm, nil
}

// Size returns the total frame capacity of the pool
func (bpm *BufferPoolManager) Size() uint32 {
	return bpm.numFrames
}

// GetMetrics returns the pool's metrics
func (bpm *BufferPoolManager) GetMetrics() *Metrics {
	return bpm.metrics
}

// NewPage allocates the next page id and grows the disk space to cover
// it. Cannot fail; does not bring the page into memory.
func (bpm *BufferPoolManager) NewPage() uint32 {
	pageID := bpm.nextPageID.Add(1) - 1
	bpm.scheduler.IncreaseSpace(pageID + 1)
	return pageID
}

// DeletePage removes a page from the pool and deallocates it on disk.
//
// Deleting a page that is not memory-resident is not an error: the disk
// deallocation is forwarded and the call succeeds. A resident page that
// is currently pinned cannot be deleted; the call reports failure with
// no side effects.
func (bpm *BufferPoolManager) DeletePage(pageID uint32) bool {
	bpm.mu.Lock()

	frameID, resident := bpm.pageTable[pageID]
	if !resident {
		bpm.mu.Unlock()
		bpm.scheduler.Deallocate(pageID)
		return true
	}

	frame := bpm.frames[frameID]
	if frame.PinCount() > 0 {
		bpm.mu.Unlock()
		return false
	}

	frame.Reset()
	delete(bpm.pageTable, pageID)
	bpm.freeList = append(bpm.freeList, frameID)
	if err := bpm.replacer.Remove(frameID); err != nil {
		// Pin count was zero, so the frame must have been evictable
		panic(err)
	}
	bpm.mu.Unlock()

	bpm.scheduler.Deallocate(pageID)
	return true
}

// CheckedReadPage resolves a page to a frame and returns a shared guard
// over it, or false if every frame is pinned and nothing can be evicted.
func (bpm *BufferPoolManager) CheckedReadPage(pageID uint32) (*ReadPageGuard, bool) {
	if bpm.enablePrefetch {
		bpm.prefetcher.RecordAccess(pageID)
	}

	frame, ok := bpm.acquireFrame(pageID)
	if !ok {
		return nil, false
	}
	return newReadPageGuard(pageID, frame, bpm.replacer, &bpm.mu), true
}

// CheckedWritePage resolves a page to a frame and returns an exclusive
// guard over it, or false if every frame is pinned and nothing can be
// evicted.
func (bpm *BufferPoolManager) CheckedWritePage(pageID uint32) (*WritePageGuard, bool) {
	frame, ok := bpm.acquireFrame(pageID)
	if !ok {
		return nil, false
	}
	return newWritePageGuard(pageID, frame, bpm.replacer, &bpm.mu), true
}

// ReadPage is a wrapper around CheckedReadPage that assumes success.
// It panics if the pool is out of evictable frames; use it only where
// memory availability is independently guaranteed.
func (bpm *BufferPoolManager) ReadPage(pageID uint32) *ReadPageGuard {
	guard, ok := bpm.CheckedReadPage(pageID)
	if !ok {
		panic(ErrNoEvictableFrame(fmt.Sprintf("ReadPage(%d)", pageID)))
	}
	return guard
}

// WritePage is a wrapper around CheckedWritePage that assumes success.
// It panics if the pool is out of evictable frames.
func (bpm *BufferPoolManager) WritePage(pageID uint32) *WritePageGuard {
	guard, ok := bpm.CheckedWritePage(pageID)
	if !ok {
		panic(ErrNoEvictableFrame(fmt.Sprintf("WritePage(%d)", pageID)))
	}
	return guard
}

// acquireFrame resolves a page id to a pinned, non-evictable frame,
// loading the page from disk if it is not resident. Returns false only
// when the page is not resident and no frame can be freed.
//
// On return the frame is pinned and its contents are fully loaded; the
// caller may block on the content latch without holding bpm.mu.
func (bpm *BufferPoolManager) acquireFrame(pageID uint32) (*FrameHeader, bool) {
	start := time.Now()

	bpm.mu.Lock()

	// Fast path: page already resident
	if frameID, ok := bpm.pageTable[pageID]; ok {
		frame := bpm.frames[frameID]
		frame.Pin()
		bpm.touch(frameID)
		bpm.mu.Unlock()

		bpm.metrics.RecordCacheHit()
		bpm.metrics.RecordPageFetchLatency(time.Since(start))
		return frame, true
	}

	bpm.metrics.RecordCacheMiss()

	// Obtain a frame: free list first, then eviction
	var frameID uint32
	if len(bpm.freeList) > 0 {
		frameID = bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
	} else {
		victimID, ok := bpm.replacer.Evict()
		if !ok {
			// Every frame is pinned; nothing to evict
			bpm.mu.Unlock()
			return nil, false
		}
		frameID = victimID

		victim := bpm.frames[frameID]
		if victim.IsDirty() {
			bpm.flushVictimLocked(victim)
		}
		delete(bpm.pageTable, victim.PageID())
		victim.Reset()
		bpm.metrics.RecordPageEviction()
	}

	// Install the mapping and load the page. The read completes before
	// bpm.mu is released, so a concurrent fetch of the same page can
	// never latch a half-loaded frame.
	frame := bpm.frames[frameID]
	frame.pageID = pageID
	bpm.pageTable[pageID] = frameID

	request := NewDiskRequest(false, frame.Data(), pageID)
	bpm.scheduler.Schedule(request)
	if err := <-request.Done; err != nil {
		// I/O failures propagate as hard failures; no retry at this layer
		panic(err)
	}

	frame.Pin()
	bpm.touch(frameID)
	bpm.mu.Unlock()

	bpm.metrics.RecordPageFetchLatency(time.Since(start))
	return frame, true
}

// touch records an access and pins the frame against eviction.
// Frame ids produced by the pool are always in range.
func (bpm *BufferPoolManager) touch(frameID uint32) {
	_ = bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)
}

// flushVictimLocked writes an eviction victim's bytes out and marks it
// clean. Caller holds bpm.mu; the victim has pin count zero, so no guard
// can be mutating the bytes and no latch is needed.
func (bpm *BufferPoolManager) flushVictimLocked(frame *FrameHeader) {
	start := time.Now()

	request := NewDiskRequest(true, frame.Data(), frame.PageID())
	bpm.scheduler.Schedule(request)
	if err := <-request.Done; err != nil {
		panic(err)
	}

	frame.SetDirty(false)
	bpm.metrics.RecordDirtyPageFlush()
	bpm.metrics.RecordPageFlushLatency(time.Since(start))
}

// FlushPage writes a resident page's bytes to disk. Returns false if the
// page is not resident; flushing a clean page is a successful no-op.
//
// The frame may have live guards, so the flush follows the guard
// protocol: pin under bpm.mu, then read the bytes under the shared
// content latch. Concurrent writers are excluded for the duration.
func (bpm *BufferPoolManager) FlushPage(pageID uint32) bool {
	bpm.mu.Lock()
	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		bpm.mu.Unlock()
		return false
	}
	frame := bpm.frames[frameID]
	if !frame.IsDirty() {
		bpm.mu.Unlock()
		return true
	}
	frame.Pin()
	bpm.replacer.SetEvictable(frameID, false)
	bpm.mu.Unlock()

	frame.latch.RLock()
	start := time.Now()
	request := NewDiskRequest(true, frame.Data(), pageID)
	bpm.scheduler.Schedule(request)
	if err := <-request.Done; err != nil {
		panic(err)
	}
	frame.SetDirty(false)
	bpm.metrics.RecordDirtyPageFlush()
	bpm.metrics.RecordPageFlushLatency(time.Since(start))
	frame.latch.RUnlock()

	bpm.mu.Lock()
	if frame.Unpin() == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}
	bpm.mu.Unlock()
	return true
}

// FlushAllPages flushes every resident dirty frame as one batch: dirty
// frames are pinned, their bytes staged one frame at a time, and the
// whole batch goes out through a single vectored disk call.
//
// At most one frame latch is held at any moment. Clients may chain
// guards across pages (hold page A's write guard while acquiring page
// B's); a flusher sitting on several shared latches at once could form
// a cycle with such a client. Staging copies under briefly held latches
// keeps the flusher out of any wait cycle.
func (bpm *BufferPoolManager) FlushAllPages() {
	type flushTarget struct {
		frame   *FrameHeader
		frameID uint32
	}

	bpm.mu.Lock()
	targets := make([]flushTarget, 0, len(bpm.pageTable))
	for _, frameID := range bpm.pageTable {
		frame := bpm.frames[frameID]
		if !frame.IsDirty() {
			continue
		}
		frame.Pin()
		bpm.replacer.SetEvictable(frameID, false)
		targets = append(targets, flushTarget{frame, frameID})
	}
	bpm.mu.Unlock()

	if len(targets) > 0 {
		start := time.Now()

		writes := make([]PageWrite, 0, len(targets))
		for _, tgt := range targets {
			staged := make([]byte, PageSize)
			tgt.frame.latch.RLock()
			copy(staged, tgt.frame.Data())
			// Cleared before the latch drops: any writer that follows
			// re-dirties the frame for the next flush
			tgt.frame.SetDirty(false)
			tgt.frame.latch.RUnlock()

			writes = append(writes, PageWrite{PageID: tgt.frame.PageID(), Data: staged})
			bpm.metrics.RecordDirtyPageFlush()
		}
		if err := bpm.scheduler.WritePagesV(writes); err != nil {
			panic(err)
		}

		bpm.metrics.RecordPageFlushLatency(time.Since(start))
	}

	bpm.mu.Lock()
	for _, tgt := range targets {
		if tgt.frame.Unpin() == 0 {
			bpm.replacer.SetEvictable(tgt.frameID, true)
		}
	}
	bpm.mu.Unlock()
}

// GetPinCount returns a resident page's pin count, or false if the page
// is not in memory. Reflects true atomic state even under concurrent
// pinning; intended as an observability and testing probe.
func (bpm *BufferPoolManager) GetPinCount(pageID uint32) (int32, bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return 0, false
	}
	return bpm.frames[frameID].PinCount(), true
}

// Close flushes all dirty pages, stops the disk scheduler, and closes
// the disk manager if the pool opened it.
func (bpm *BufferPoolManager) Close() error {
	bpm.FlushAllPages()
	bpm.scheduler.Shutdown()
	if bpm.ownedDisk != nil {
		return bpm.ownedDisk.Close()
	}
	return nil
}
