package storage

import (
	"sync"
)

// DiskRequest represents one asynchronous page read or write.
//
// Data is the caller's page buffer (exactly PageSize bytes): the read
// target or the write source. Done receives exactly one completion once
// the operation is durably performed; the caller awaits it.
type DiskRequest struct {
	IsWrite bool
	Data    []byte
	PageID  uint32
	Done    chan error
}

// NewDiskRequest builds a request with its completion channel
func NewDiskRequest(isWrite bool, data []byte, pageID uint32) *DiskRequest {
	return &DiskRequest{
		IsWrite: isWrite,
		Data:    data,
		PageID:  pageID,
		Done:    make(chan error, 1),
	}
}

// DiskScheduler dispatches page I/O to a DiskIO through a request queue
// drained by background workers. From the caller's point of view all I/O
// is synchronous-by-waiting: Schedule then receive from Done.
//
// When compression is configured, page images are encoded on the way out
// and decoded on the way in; the frames in memory always hold raw bytes.
type DiskScheduler struct {
	disk        DiskIO
	compression CompressionType
	requests    chan *DiskRequest
	workers     sync.WaitGroup
}

const (
	diskQueueDepth = 64
	diskWorkers    = 4
)

// NewDiskScheduler creates a scheduler and starts its workers
func NewDiskScheduler(disk DiskIO, compression CompressionType) *DiskScheduler {
	ds := &DiskScheduler{
		disk:        disk,
		compression: compression,
		requests:    make(chan *DiskRequest, diskQueueDepth),
	}

	for i := 0; i < diskWorkers; i++ {
		ds.workers.Add(1)
		go ds.worker()
	}

	return ds
}

// Schedule enqueues a request. Completion is signalled on request.Done.
func (ds *DiskScheduler) Schedule(request *DiskRequest) {
	ds.requests <- request
}

// WritePagesV writes a batch of pages through a single vectored disk
// call, encoding page images first when compression is enabled. Bypasses
// the request queue: the batch is synchronous by nature.
func (ds *DiskScheduler) WritePagesV(writes []PageWrite) error {
	if ds.compression == CompressionNone {
		return ds.disk.WritePagesV(writes)
	}

	encoded := make([]PageWrite, len(writes))
	for i, pw := range writes {
		image, err := EncodePageImage(pw.Data, ds.compression)
		if err != nil {
			return err
		}
		encoded[i] = PageWrite{PageID: pw.PageID, Data: image}
	}
	return ds.disk.WritePagesV(encoded)
}

// IncreaseSpace guarantees disk capacity for pageCount pages (never fails)
func (ds *DiskScheduler) IncreaseSpace(pageCount uint32) {
	ds.disk.IncreaseSpace(pageCount)
}

// Deallocate reclaims a deleted page's space (best-effort)
func (ds *DiskScheduler) Deallocate(pageID uint32) {
	ds.disk.Deallocate(pageID)
}

// Shutdown drains in-flight requests and stops the workers.
// No Schedule call may race with or follow Shutdown.
func (ds *DiskScheduler) Shutdown() {
	close(ds.requests)
	ds.workers.Wait()
}

func (ds *DiskScheduler) worker() {
	defer ds.workers.Done()
	for request := range ds.requests {
		request.Done <- ds.process(request)
	}
}

func (ds *DiskScheduler) process(request *DiskRequest) error {
	if request.IsWrite {
		if ds.compression != CompressionNone {
			image, err := EncodePageImage(request.Data, ds.compression)
			if err != nil {
				return err
			}
			return ds.disk.WritePage(request.PageID, image)
		}
		return ds.disk.WritePage(request.PageID, request.Data)
	}

	if ds.compression != CompressionNone {
		image := make([]byte, PageSize)
		if err := ds.disk.ReadPage(request.PageID, image); err != nil {
			return err
		}
		data, err := DecodePageImage(image)
		if err != nil {
			return err
		}
		copy(request.Data, data)
		return nil
	}
	return ds.disk.ReadPage(request.PageID, request.Data)
}
