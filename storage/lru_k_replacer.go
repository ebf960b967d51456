package storage

import (
	"container/list"
	"sync"
)

// lruKNode tracks the access history of one frame.
// history holds up to k logical timestamps, most recent first.
type lruKNode struct {
	history   []uint64
	evictable bool
}

// kthTimestamp returns the timestamp of the k-th most recent access.
// Only meaningful once the node has accumulated k accesses.
func (n *lruKNode) kthTimestamp() uint64 {
	return n.history[len(n.history)-1]
}

// LRUKReplacer implements the LRU-K replacement policy.
//
// Frames are partitioned into two eviction classes:
//   - Cold: fewer than k recorded accesses. FIFO by first-access time;
//     accesses 2..k-1 do not reorder the frame. Evicted first, oldest
//     admitted first.
//   - Warm: k or more accesses, ordered by backward k-distance (elapsed
//     logical time since the k-th most recent access). The list is kept
//     sorted on every update with an insertion-sort re-link, so the frame
//     with the largest backward k-distance is always at the back.
//
// The cold/warm split protects hot pages from scan pollution: a frame
// touched once under high churn is evicted before any frame that has
// demonstrated k references.
type LRUKReplacer struct {
	mu       sync.Mutex
	k        int
	capacity uint32
	nodes    map[uint32]*lruKNode

	// Cold class: front = most recently admitted, back = oldest admitted
	cold    *list.List
	coldLoc map[uint32]*list.Element

	// Warm class: descending by k-th most recent timestamp, so the back
	// holds the largest backward k-distance
	warm    *list.List
	warmLoc map[uint32]*list.Element

	clock    uint64 // Logical clock, advanced once per recorded access
	evictCnt uint32 // Frames currently marked evictable
}

// NewLRUKReplacer creates an LRU-K replacer for capacity frames.
// k must be at least 1; k == 1 degenerates to plain LRU.
func NewLRUKReplacer(capacity uint32, k int) *LRUKReplacer {
	if k < 1 {
		k = 1
	}
	return &LRUKReplacer{
		k:        k,
		capacity: capacity,
		nodes:    make(map[uint32]*lruKNode),
		cold:     list.New(),
		coldLoc:  make(map[uint32]*list.Element),
		warm:     list.New(),
		warmLoc:  make(map[uint32]*list.Element),
	}
}

// RecordAccess appends the current logical timestamp to the frame's history
// and re-files the frame into the correct class and position. The logical
// clock advances once per call.
//
// Returns ErrCodeFrameOutOfRange if frameID is beyond the configured
// capacity.
func (r *LRUKReplacer) RecordAccess(frameID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID >= r.capacity {
		return ErrFrameOutOfRange("RecordAccess", frameID, r.capacity)
	}

	node, exists := r.nodes[frameID]
	switch {
	case !exists:
		// First access: admit into the cold class. With k == 1 a single
		// access already fills the history, straight to warm.
		node = &lruKNode{history: []uint64{r.clock}}
		r.nodes[frameID] = node
		if r.k == 1 {
			r.warmInsert(frameID, node.kthTimestamp())
		} else {
			r.coldLoc[frameID] = r.cold.PushFront(frameID)
		}

	case len(node.history) < r.k-1:
		// Still cold after this access. No reorder: the cold class is
		// FIFO by first-access time, not LRU.
		node.history = append([]uint64{r.clock}, node.history...)

	case len(node.history) == r.k-1:
		// k-th access: graduate from cold to warm
		node.history = append([]uint64{r.clock}, node.history...)
		r.cold.Remove(r.coldLoc[frameID])
		delete(r.coldLoc, frameID)
		r.warmInsert(frameID, node.kthTimestamp())

	default:
		// Already warm: slide the history window and re-link
		node.history = append([]uint64{r.clock}, node.history[:r.k-1]...)
		r.warmRelink(frameID, node.kthTimestamp())
	}

	r.clock++
	return nil
}

// warmInsert places a newly promoted frame into the warm list, keeping it
// sorted descending by k-th most recent timestamp.
func (r *LRUKReplacer) warmInsert(frameID uint32, kth uint64) {
	for e := r.warm.Front(); e != nil; e = e.Next() {
		if kth > r.nodes[e.Value.(uint32)].kthTimestamp() {
			r.warmLoc[frameID] = r.warm.InsertBefore(frameID, e)
			return
		}
	}
	r.warmLoc[frameID] = r.warm.PushBack(frameID)
}

// warmRelink moves an already warm frame toward the front after its k-th
// timestamp advanced. An insertion-sort style walk, not a full re-sort:
// the frame only ever moves toward the front on access.
func (r *LRUKReplacer) warmRelink(frameID uint32, kth uint64) {
	e := r.warmLoc[frameID]
	prev := e.Prev()
	r.warm.Remove(e)
	for prev != nil && r.nodes[prev.Value.(uint32)].kthTimestamp() < kth {
		prev = prev.Prev()
	}
	if prev == nil {
		r.warmLoc[frameID] = r.warm.PushFront(frameID)
	} else {
		r.warmLoc[frameID] = r.warm.InsertAfter(frameID, prev)
	}
}

// SetEvictable marks a frame as eligible or ineligible for eviction.
// Idempotent; a no-op for an unknown frame ID.
func (r *LRUKReplacer) SetEvictable(frameID uint32, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, exists := r.nodes[frameID]
	if !exists {
		return
	}
	if node.evictable && !evictable {
		r.evictCnt--
	}
	if !node.evictable && evictable {
		r.evictCnt++
	}
	node.evictable = evictable
}

// Evict selects a victim frame, removes its bookkeeping entirely, and
// returns its ID. Cold frames are scanned first (oldest admitted first),
// then warm frames (largest backward k-distance first), skipping frames
// not marked evictable. Returns false if no evictable frame exists.
func (r *LRUKReplacer) Evict() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for e := r.cold.Back(); e != nil; e = e.Prev() {
		frameID := e.Value.(uint32)
		if !r.nodes[frameID].evictable {
			continue
		}
		r.cold.Remove(e)
		delete(r.coldLoc, frameID)
		delete(r.nodes, frameID)
		r.evictCnt--
		return frameID, true
	}

	for e := r.warm.Back(); e != nil; e = e.Prev() {
		frameID := e.Value.(uint32)
		if !r.nodes[frameID].evictable {
			continue
		}
		r.warm.Remove(e)
		delete(r.warmLoc, frameID)
		delete(r.nodes, frameID)
		r.evictCnt--
		return frameID, true
	}

	return 0, false
}

// Remove erases a frame's tracking state outright, regardless of its
// position. Used when the resident page is deleted.
//
// Returns ErrCodePagePinned if the frame is not marked evictable: removing
// a pinned frame is a contract violation, not an expected runtime case.
func (r *LRUKReplacer) Remove(frameID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, exists := r.nodes[frameID]
	if !exists {
		return nil
	}
	if !node.evictable {
		return ErrFramePinned("Remove", frameID)
	}

	if len(node.history) < r.k {
		r.cold.Remove(r.coldLoc[frameID])
		delete(r.coldLoc, frameID)
	} else {
		r.warm.Remove(r.warmLoc[frameID])
		delete(r.warmLoc, frameID)
	}

	r.evictCnt--
	delete(r.nodes, frameID)
	return nil
}

// Size returns the number of frames currently marked evictable
func (r *LRUKReplacer) Size() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictCnt
}
