package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardTestPool(t *testing.T) *BufferPoolManager {
	t.Helper()

	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	bpm, err := NewBufferPoolManager(4, dm, 2)
	require.NoError(t, err)
	t.Cleanup(func() { bpm.scheduler.Shutdown() })
	return bpm
}

func TestGuardDropIsIdempotent(t *testing.T) {
	bpm := newGuardTestPool(t)
	pageID := bpm.NewPage()

	guard := bpm.ReadPage(pageID)
	require.True(t, guard.Valid())

	guard.Drop()
	assert.False(t, guard.Valid())

	// Second and third drops are no-ops, not double releases
	guard.Drop()
	guard.Drop()

	pins, resident := bpm.GetPinCount(pageID)
	require.True(t, resident)
	assert.Equal(t, int32(0), pins)

	// The frame is releasable exactly once: a writer can take it
	wg := bpm.WritePage(pageID)
	wg.Drop()
}

func TestDroppedGuardPanicsOnUse(t *testing.T) {
	bpm := newGuardTestPool(t)
	pageID := bpm.NewPage()

	rg := bpm.ReadPage(pageID)
	rg.Drop()

	assert.PanicsWithError(t,
		ErrInvalidGuard("ReadPageGuard.Data").Error(),
		func() { rg.Data() })
	assert.PanicsWithError(t,
		ErrInvalidGuard("ReadPageGuard.PageID").Error(),
		func() { rg.PageID() })

	wg := bpm.WritePage(pageID)
	wg.Drop()

	assert.PanicsWithError(t,
		ErrInvalidGuard("WritePageGuard.DataMut").Error(),
		func() { wg.DataMut() })
}

func TestGuardMoveTransfersOwnership(t *testing.T) {
	bpm := newGuardTestPool(t)
	pageID := bpm.NewPage()

	original := bpm.WritePage(pageID)
	copy(original.DataMut(), []byte("moved"))

	moved := original.Move()
	assert.False(t, original.Valid())
	require.True(t, moved.Valid())

	// Move must not touch the pin count
	pins, _ := bpm.GetPinCount(pageID)
	assert.Equal(t, int32(1), pins)

	// The moved-from guard is inert; the new guard still owns the latch
	original.Drop()
	assert.Equal(t, []byte("moved"), moved.Data()[:5])

	moved.Drop()
	pins, _ = bpm.GetPinCount(pageID)
	assert.Equal(t, int32(0), pins)
}

func TestReadGuardsAreShared(t *testing.T) {
	bpm := newGuardTestPool(t)
	pageID := bpm.NewPage()

	g1 := bpm.ReadPage(pageID)
	g2 := bpm.ReadPage(pageID)

	// Both guards observe the page concurrently
	assert.Equal(t, g1.Data()[0], g2.Data()[0])

	g1.Drop()
	g2.Drop()
}

func TestWriteGuardExcludesReaders(t *testing.T) {
	bpm := newGuardTestPool(t)
	pageID := bpm.NewPage()

	wg := bpm.WritePage(pageID)
	wg.DataMut()[0] = 0x42

	acquired := make(chan byte)
	go func() {
		rg := bpm.ReadPage(pageID)
		acquired <- rg.Data()[0]
		rg.Drop()
	}()

	// The reader must block until the writer drops
	select {
	case <-acquired:
		t.Fatal("Reader acquired the page while a write guard was live")
	case <-time.After(50 * time.Millisecond):
	}

	wg.Drop()

	select {
	case value := <-acquired:
		assert.Equal(t, byte(0x42), value, "reader must see the writer's bytes")
	case <-time.After(2 * time.Second):
		t.Fatal("Reader never acquired the page after the writer dropped")
	}
}

func TestWriteGuardMarksDirty(t *testing.T) {
	bpm := newGuardTestPool(t)
	pageID := bpm.NewPage()

	rg := bpm.ReadPage(pageID)
	assert.False(t, rg.IsDirty(), "freshly loaded page must be clean")
	rg.Drop()

	// Taking a write guard marks the page dirty, mutation or not
	wg := bpm.WritePage(pageID)
	assert.True(t, wg.IsDirty())
	wg.Drop()
}

func TestDropRacesWithFetch(t *testing.T) {
	bpm := newGuardTestPool(t)

	// More pages than frames so drops constantly race with evicting
	// fetches of the same pages.
	pages := make([]uint32, 8)
	for i := range pages {
		pages[i] = bpm.NewPage()
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pageID := pages[(seed+i)%len(pages)]
				if guard, ok := bpm.CheckedReadPage(pageID); ok {
					_ = guard.Data()[0]
					guard.Drop()
				}
			}
		}(w)
	}
	wg.Wait()

	// Every pin must have been released
	for _, pageID := range pages {
		if pins, resident := bpm.GetPinCount(pageID); resident {
			assert.Equal(t, int32(0), pins, "page %d leaked a pin", pageID)
		}
	}
}
