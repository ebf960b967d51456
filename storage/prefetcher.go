package storage

import (
	"sync"
	"time"
)

// Prefetcher detects strided access patterns and reads ahead so that
// upcoming pages are already resident when the caller asks for them.
//
// Prefetched pages are fetched and dropped immediately: they sit in the
// pool with a cold access history and zero pins, so they stay cheap to
// evict if the prediction was wrong.
type Prefetcher struct {
	bpm *BufferPoolManager

	mu             sync.Mutex
	lastPageID     uint32
	stride         int32
	runLength      int
	lastAccessTime time.Time

	window uint32 // Pages to read ahead once a run is detected
}

const (
	// Consecutive same-stride accesses before prefetching kicks in
	prefetchDetectionThreshold = 3
	// A gap this long resets the detected pattern
	prefetchPatternTimeout = time.Second
)

// NewPrefetcher creates a prefetcher over the given pool
func NewPrefetcher(bpm *BufferPoolManager, window uint32) *Prefetcher {
	if window == 0 {
		window = 4
	}
	return &Prefetcher{
		bpm:    bpm,
		window: window,
	}
}

// RecordAccess feeds one page access into pattern detection and triggers
// a background read-ahead when a stable stride has been established.
func (p *Prefetcher) RecordAccess(pageID uint32) {
	p.mu.Lock()

	now := time.Now()
	if p.runLength == 0 || now.Sub(p.lastAccessTime) > prefetchPatternTimeout {
		p.lastPageID = pageID
		p.stride = 0
		p.runLength = 1
		p.lastAccessTime = now
		p.mu.Unlock()
		return
	}

	currentStride := int32(pageID) - int32(p.lastPageID)
	p.lastPageID = pageID
	p.lastAccessTime = now

	switch {
	case currentStride == 0:
		// Repeated access to the same page carries no direction
	case p.stride == 0:
		p.stride = currentStride
		p.runLength = 2
	case currentStride == p.stride:
		p.runLength++
	default:
		p.stride = currentStride
		p.runLength = 2
	}

	trigger := p.stride != 0 && p.runLength >= prefetchDetectionThreshold
	stride := p.stride
	p.mu.Unlock()

	if trigger {
		go p.readAhead(pageID, stride)
	}
}

// readAhead fetches the next window of pages along the stride. Stops at
// the allocation boundary or when the pool has no frame to spare.
func (p *Prefetcher) readAhead(fromPage uint32, stride int32) {
	allocated := p.bpm.nextPageID.Load()

	for i := uint32(1); i <= p.window; i++ {
		next := int64(fromPage) + int64(stride)*int64(i)
		if next < 0 || next >= int64(allocated) {
			return
		}
		pageID := uint32(next)

		if p.bpm.IsPageInPool(pageID) {
			continue
		}
		if !p.bpm.prefetchPage(pageID) {
			// Pool is under pin pressure; back off entirely
			return
		}
		p.bpm.metrics.RecordPagePrefetch()
	}
}

// IsPageInPool reports whether a page is currently resident. Used to
// skip redundant prefetches; the answer can go stale immediately.
func (bpm *BufferPoolManager) IsPageInPool(pageID uint32) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	_, ok := bpm.pageTable[pageID]
	return ok
}

// prefetchPage brings a page into the pool and releases it at once,
// bypassing the prefetcher's own access hook. Returns false when no
// frame could be obtained.
func (bpm *BufferPoolManager) prefetchPage(pageID uint32) bool {
	frame, ok := bpm.acquireFrame(pageID)
	if !ok {
		return false
	}
	guard := newReadPageGuard(pageID, frame, bpm.replacer, &bpm.mu)
	guard.Drop()
	return true
}
