package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapDiskManager provides zero-syscall page access using memory-mapped files
type MmapDiskManager struct {
	file      *os.File
	mmapData  []byte
	fileSize  int64
	mutex     sync.RWMutex
	growMutex sync.Mutex // Serializes file growth and remapping
}

const (
	// Initial file size: 64MB (16K pages * 4KB)
	InitialFileSize = 64 * 1024 * 1024
	// Grow by 64MB when we run out of space
	FileGrowSize = 64 * 1024 * 1024
)

// NewMmapDiskManager creates a new memory-mapped disk manager
func NewMmapDiskManager(fileName string) (*MmapDiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	fileSize := fileInfo.Size()

	// If file is new or too small, grow it to initial size
	if fileSize < InitialFileSize {
		if err = file.Truncate(InitialFileSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to grow file: %w", err)
		}
		fileSize = InitialFileSize
	}

	dm := &MmapDiskManager{
		file:     file,
		fileSize: fileSize,
	}

	if err = dm.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	return dm, nil
}

// createMapping creates or recreates the memory mapping
func (dm *MmapDiskManager) createMapping() error {
	data, err := unix.Mmap(int(dm.file.Fd()), 0, int(dm.fileSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	dm.mmapData = data

	// Page access through the pool is effectively random
	_ = unix.Madvise(dm.mmapData, unix.MADV_RANDOM)

	return nil
}

// ReadPage copies a page out of the memory-mapped region into buf
func (dm *MmapDiskManager) ReadPage(pageID uint32, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("page buffer must be exactly %d bytes, got %d", PageSize, len(buf))
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return ErrPageOutOfBounds("ReadPage", pageID, dm.fileSize)
	}

	copy(buf, dm.mmapData[offset:offset+PageSize])
	return nil
}

// WritePage copies a page into the memory-mapped region and syncs it
func (dm *MmapDiskManager) WritePage(pageID uint32, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return ErrPageOutOfBounds("WritePage", pageID, dm.fileSize)
	}

	copy(dm.mmapData[offset:offset+PageSize], data)
	return dm.syncRange(offset)
}

// WritePagesV writes multiple pages, then syncs each written range
func (dm *MmapDiskManager) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data))
		}

		offset := int64(pw.PageID) * PageSize
		if offset+PageSize > dm.fileSize {
			return ErrPageOutOfBounds("WritePagesV", pw.PageID, dm.fileSize)
		}
		copy(dm.mmapData[offset:offset+PageSize], pw.Data)
	}

	for _, pw := range writes {
		if err := dm.syncRange(int64(pw.PageID) * PageSize); err != nil {
			return err
		}
	}
	return nil
}

// syncRange msyncs one page worth of the mapping. Caller holds dm.mutex.
func (dm *MmapDiskManager) syncRange(offset int64) error {
	if err := unix.Msync(dm.mmapData[offset:offset+PageSize], unix.MS_SYNC); err != nil {
		return ErrDiskOperation("Msync", err)
	}
	return nil
}

// IncreaseSpace grows the file and remaps if pageCount pages do not fit.
// Growth failure is fatal, matching the pool's unbounded-storage assumption.
func (dm *MmapDiskManager) IncreaseSpace(pageCount uint32) {
	required := int64(pageCount) * PageSize

	dm.mutex.RLock()
	fits := required <= dm.fileSize
	dm.mutex.RUnlock()
	if fits {
		return
	}

	if err := dm.growFile(required); err != nil {
		panic(ErrDiskOperation("IncreaseSpace", err))
	}
}

// growFile expands the file and recreates the mapping
func (dm *MmapDiskManager) growFile(required int64) error {
	dm.growMutex.Lock()
	defer dm.growMutex.Unlock()

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if required <= dm.fileSize {
		// Another caller grew the file while we waited
		return nil
	}

	// Unmap current mapping
	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return fmt.Errorf("failed to unmap: %w", err)
		}
		dm.mmapData = nil
	}

	// Grow in FileGrowSize increments
	newSize := dm.fileSize
	for newSize < required {
		newSize += FileGrowSize
	}
	if err := dm.file.Truncate(newSize); err != nil {
		// Try to recreate the old mapping before reporting
		dm.createMapping()
		return fmt.Errorf("failed to grow file: %w", err)
	}
	dm.fileSize = newSize

	return dm.createMapping()
}

// Deallocate releases the deleted page's blocks back to the filesystem.
// Best-effort: errors are ignored, the page id is never reused anyway.
func (dm *MmapDiskManager) Deallocate(pageID uint32) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return
	}
	_ = unix.Fallocate(int(dm.file.Fd()),
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
		offset, PageSize)
}

// Flush msyncs the entire mapping
func (dm *MmapDiskManager) Flush() error {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	if dm.mmapData == nil {
		return nil
	}
	if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
		return ErrDiskOperation("Flush", err)
	}
	return dm.file.Sync()
}

// FileSize returns the current file size
func (dm *MmapDiskManager) FileSize() int64 {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return dm.fileSize
}

// Close unmaps memory and closes the file
func (dm *MmapDiskManager) Close() error {
	dm.Flush()

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return fmt.Errorf("failed to unmap: %w", err)
		}
		dm.mmapData = nil
	}

	if dm.file != nil {
		return dm.file.Close()
	}
	return nil
}
