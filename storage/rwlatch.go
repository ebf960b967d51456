package storage

import (
	"runtime"
	"sync/atomic"
)

// RWLatch is the per-frame readers-writer latch. All state lives in one
// 64-bit word updated with compare-and-swap; contended paths spin with
// exponential backoff instead of parking in the kernel. Frame latches
// are held for microsecond-scale critical sections, the regime where
// spinning pays off.
//
// A waiting writer blocks new readers, so writers cannot starve behind
// a stream of overlapping read guards.
//
// Layout of the state word:
//
//	Bits 0-30: Reader count (max 2^31-1 concurrent readers)
//	Bit 31: Writer flag (1 = writer active or pending)
//	Bits 32-63: Writers waiting
const (
	readerMask        uint64 = 0x7FFFFFFF         // Bits 0-30: reader count
	writerFlag        uint64 = 0x80000000         // Bit 31: writer active
	writerWaitingMask uint64 = 0xFFFFFFFF00000000 // Bits 32-63: writers waiting
	writerWaitingInc  uint64 = 0x100000000        // Increment for writer waiting
)

// RWLatch provides lock-free reader-writer synchronization
type RWLatch struct {
	state uint64 // Atomic state: [waiters:32][writer:1][readers:31]
}

// NewRWLatch creates an unlocked latch
func NewRWLatch() *RWLatch {
	return &RWLatch{state: 0}
}

// RLock acquires the latch in shared mode. Any number of readers can
// hold it together; a waiting or active writer makes new readers spin.
func (rw *RWLatch) RLock() {
	backoff := 1
	for {
		state := atomic.LoadUint64(&rw.state)

		// Writer active or announced: back off before looking again
		if state&writerFlag != 0 || state&writerWaitingMask != 0 {
			rw.spin(backoff)
			backoff = rw.increaseBackoff(backoff)
			continue
		}

		newState := state + 1
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			return
		}

		// Lost the CAS race
		rw.spin(backoff)
		backoff = rw.increaseBackoff(backoff)
	}
}

// RUnlock releases a shared hold
func (rw *RWLatch) RUnlock() {
	for {
		state := atomic.LoadUint64(&rw.state)

		if state&readerMask == 0 {
			panic("RWLatch: RUnlock called without corresponding RLock")
		}

		newState := state - 1
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			return
		}

		// Lost the CAS race; no backoff needed on the release path
		runtime.Gosched()
	}
}

// Lock acquires the latch exclusively: one writer, no readers.
func (rw *RWLatch) Lock() {
	backoff := 1

	// Announce intent first; from here on no new reader gets in
	for {
		state := atomic.LoadUint64(&rw.state)

		if state&writerFlag != 0 {
			rw.spin(backoff)
			backoff = rw.increaseBackoff(backoff)
			continue
		}

		newState := (state + writerWaitingInc) | writerFlag
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			break
		}

		rw.spin(backoff)
		backoff = rw.increaseBackoff(backoff)
	}

	// Then wait for the readers already inside to drain
	backoff = 1
	for {
		state := atomic.LoadUint64(&rw.state)

		if state&readerMask == 0 {
			return
		}

		rw.spin(backoff)
		backoff = rw.increaseBackoff(backoff)
	}
}

// Unlock releases an exclusive hold
func (rw *RWLatch) Unlock() {
	for {
		state := atomic.LoadUint64(&rw.state)

		if state&writerFlag == 0 {
			panic("RWLatch: Unlock called without corresponding Lock")
		}

		// Clear the writer flag and retire this writer's waiting slot
		newState := (state &^ writerFlag) - writerWaitingInc
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			return
		}

		runtime.Gosched()
	}
}

// TryRLock attempts a shared acquisition without blocking
func (rw *RWLatch) TryRLock() bool {
	state := atomic.LoadUint64(&rw.state)

	if state&writerFlag != 0 || state&writerWaitingMask != 0 {
		return false
	}

	newState := state + 1
	return atomic.CompareAndSwapUint64(&rw.state, state, newState)
}

// TryLock attempts an exclusive acquisition without blocking
func (rw *RWLatch) TryLock() bool {
	state := atomic.LoadUint64(&rw.state)

	if state&writerFlag != 0 || state&readerMask != 0 {
		return false
	}

	newState := state | writerFlag | writerWaitingInc
	return atomic.CompareAndSwapUint64(&rw.state, state, newState)
}

// GetReaderCount returns the current number of active readers (for testing)
func (rw *RWLatch) GetReaderCount() uint32 {
	state := atomic.LoadUint64(&rw.state)
	return uint32(state & readerMask)
}

// IsWriterActive returns true if a writer currently holds the latch (for testing)
func (rw *RWLatch) IsWriterActive() bool {
	state := atomic.LoadUint64(&rw.state)
	return state&writerFlag != 0
}

// GetWriterWaitingCount returns the number of writers waiting (for testing)
func (rw *RWLatch) GetWriterWaitingCount() uint32 {
	state := atomic.LoadUint64(&rw.state)
	return uint32((state & writerWaitingMask) >> 32)
}

// spin performs a busy-wait with exponential backoff
func (rw *RWLatch) spin(iterations int) {
	for i := 0; i < iterations; i++ {
		runtime.Gosched() // Yield to other goroutines
	}
}

// increaseBackoff increases the backoff duration exponentially
// with a maximum cap to prevent excessive spinning
func (rw *RWLatch) increaseBackoff(current int) int {
	next := current * 2
	if next > 1024 {
		return 1024 // Cap at 1024 iterations
	}
	return next
}
