package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DiskIO is the interface the buffer pool requires from a disk manager.
//
// IncreaseSpace never fails: the pool assumes unbounded backing storage.
// Deallocate is best-effort; no compaction is guaranteed.
type DiskIO interface {
	// ReadPage reads a page's bytes into buf (exactly PageSize bytes)
	ReadPage(pageID uint32, buf []byte) error

	// WritePage writes a page's bytes to durable storage
	WritePage(pageID uint32, data []byte) error

	// WritePagesV writes multiple pages in a single batch operation
	WritePagesV(writes []PageWrite) error

	// IncreaseSpace guarantees capacity for pageCount pages
	IncreaseSpace(pageCount uint32)

	// Deallocate reclaims the space of a deleted page (best-effort)
	Deallocate(pageID uint32)

	Close() error
}

// PageWrite represents a single page write operation
type PageWrite struct {
	PageID uint32
	Data   []byte
}

// DiskManager stores pages in a single file at PageSize offsets
type DiskManager struct {
	file     *os.File
	fileSize int64
	mutex    sync.Mutex
}

// NewDiskManager creates a disk manager backed by the given file
func NewDiskManager(fileName string) (*DiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file %s: %w", fileName, err)
	}

	return &DiskManager{
		file:     file,
		fileSize: info.Size(),
	}, nil
}

// ReadPage reads a page from disk into buf. Pages inside the allocated
// space that were never written read back as zeroes.
func (dm *DiskManager) ReadPage(pageID uint32, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("page buffer must be exactly %d bytes, got %d", PageSize, len(buf))
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	n, err := dm.file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return ErrDiskOperation("ReadPage", fmt.Errorf("failed to read page %d: %w", pageID, err))
	}
	// Short read past EOF: the tail of the page is zero
	clear(buf[n:])

	return nil
}

// WritePage writes a page to disk at its PageSize offset and syncs
func (dm *DiskManager) WritePage(pageID uint32, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return ErrDiskOperation("WritePage", fmt.Errorf("failed to write page %d: %w", pageID, err))
	}
	if offset+PageSize > dm.fileSize {
		dm.fileSize = offset + PageSize
	}

	return dm.file.Sync() // Ensure data is written to disk
}

// WritePagesV writes multiple pages in a single batch operation.
// More efficient than writing pages one-at-a-time: a single fsync
// amortizes the sync cost across the batch.
func (dm *DiskManager) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data))
		}

		offset := int64(pw.PageID) * PageSize
		if _, err := dm.file.WriteAt(pw.Data, offset); err != nil {
			return ErrDiskOperation("WritePagesV", fmt.Errorf("failed to write page %d: %w", pw.PageID, err))
		}
		if offset+PageSize > dm.fileSize {
			dm.fileSize = offset + PageSize
		}
	}

	return dm.file.Sync()
}

// IncreaseSpace grows the file so that pageCount pages are addressable.
// Growth failure is fatal: the pool assumes storage never runs out, and
// every later read of the new page would fail otherwise.
func (dm *DiskManager) IncreaseSpace(pageCount uint32) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	required := int64(pageCount) * PageSize
	if required <= dm.fileSize {
		return
	}
	if err := dm.file.Truncate(required); err != nil {
		panic(ErrDiskOperation("IncreaseSpace", fmt.Errorf("failed to grow file to %d bytes: %w", required, err)))
	}
	dm.fileSize = required
}

// Deallocate punches a hole over the deleted page so the filesystem can
// reclaim the blocks. Best-effort: not all filesystems support hole
// punching, and the page id itself is never reused.
func (dm *DiskManager) Deallocate(pageID uint32) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return
	}
	_ = unix.Fallocate(int(dm.file.Fd()),
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
		offset, PageSize)
}

// FileSize returns the current size of the backing file
func (dm *DiskManager) FileSize() int64 {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	return dm.fileSize
}

// Close closes the disk manager and its underlying file
func (dm *DiskManager) Close() error {
	if dm.file != nil {
		return dm.file.Close()
	}
	return nil
}
