package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

// Page image layout for compressed pages:
// [0-1]: Magic number (0xC0DE for compressed pages)
// [2]: Compression type (1=LZ4, 2=Snappy)
// [3]: Reserved
// [4-5]: Uncompressed size
// [6-7]: Compressed size
// [8-11]: Checksum of uncompressed bytes (CRC32)
// [12+]: Compressed data, zero-padded to PageSize
//
// A page that does not compress well enough to fit the header is stored
// raw, without a header, occupying the full slot. DecodePageImage relies
// on the magic plus the CRC to tell the two apart.

const (
	CompressedPageMagic  = 0xC0DE
	CompressedHeaderSize = 12
	// Minimum bytes the payload must shrink below the slot for the
	// compressed form to be used at all
	MinCompressionGain = 64
)

// EncodePageImage builds the PageSize on-disk image for a page, compressing
// with the given algorithm when it pays off. The returned slice is always
// exactly PageSize bytes.
func EncodePageImage(data []byte, compressionType CompressionType) ([]byte, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	var compressed []byte
	var err error

	switch compressionType {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		var n int
		n, err = lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		compressed = buf[:n]

	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	// Not worth it: store the raw page without a header
	if len(compressed) == 0 || CompressedHeaderSize+len(compressed) > PageSize-MinCompressionGain {
		return data, nil
	}

	image := make([]byte, PageSize)
	binary.LittleEndian.PutUint16(image[0:2], CompressedPageMagic)
	image[2] = byte(compressionType)
	binary.LittleEndian.PutUint16(image[4:6], uint16(len(data)))
	binary.LittleEndian.PutUint16(image[6:8], uint16(len(compressed)))
	binary.LittleEndian.PutUint32(image[8:12], crc32.ChecksumIEEE(data))
	copy(image[CompressedHeaderSize:], compressed)
	return image, nil
}

// DecodePageImage turns a PageSize on-disk image back into page bytes,
// decompressing and verifying the checksum when the image carries the
// compressed-page header. Raw images are returned as-is.
func DecodePageImage(image []byte) ([]byte, error) {
	if len(image) != PageSize {
		return nil, fmt.Errorf("page image must be exactly %d bytes, got %d", PageSize, len(image))
	}

	if binary.LittleEndian.Uint16(image[0:2]) != CompressedPageMagic {
		return image, nil
	}

	compressionType := CompressionType(image[2])
	uncompressedSize := binary.LittleEndian.Uint16(image[4:6])
	compressedSize := binary.LittleEndian.Uint16(image[6:8])
	checksum := binary.LittleEndian.Uint32(image[8:12])

	if compressionType != CompressionLZ4 && compressionType != CompressionSnappy {
		// A raw page can start with the magic bytes by coincidence
		return image, nil
	}
	if int(compressedSize) > PageSize-CompressedHeaderSize || int(uncompressedSize) != PageSize {
		return image, nil
	}

	payload := image[CompressedHeaderSize : CompressedHeaderSize+int(compressedSize)]

	var decompressed []byte
	switch compressionType {
	case CompressionLZ4:
		decompressed = make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, decompressed)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		if n != int(uncompressedSize) {
			return nil, fmt.Errorf("LZ4 decompression size mismatch: got %d, expected %d", n, uncompressedSize)
		}

	case CompressionSnappy:
		var err error
		decompressed, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		if len(decompressed) != int(uncompressedSize) {
			return nil, fmt.Errorf("snappy decompression size mismatch: got %d, expected %d", len(decompressed), uncompressedSize)
		}
	}

	if sum := crc32.ChecksumIEEE(decompressed); sum != checksum {
		return nil, ErrPageCorrupted("DecodePageImage", sum, checksum)
	}

	return decompressed, nil
}

// ParseCompressionType maps a config string to a CompressionType
func ParseCompressionType(name string) (CompressionType, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression type %q", name)
	}
}
