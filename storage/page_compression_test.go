package storage

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressiblePage() []byte {
	// Repetitive content compresses well under both algorithms
	return bytes.Repeat([]byte("0123456789abcdef"), PageSize/16)
}

func incompressiblePage() []byte {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, PageSize)
	rng.Read(data)
	return data
}

func TestEncodePageImageRoundTrip(t *testing.T) {
	for _, compression := range []CompressionType{CompressionLZ4, CompressionSnappy} {
		data := compressiblePage()

		image, err := EncodePageImage(data, compression)
		require.NoError(t, err)
		require.Len(t, image, PageSize)

		// The image must carry the compressed-page header
		assert.Equal(t, uint16(CompressedPageMagic), uint16(image[0])|uint16(image[1])<<8)

		decoded, err := DecodePageImage(image)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	}
}

func TestEncodePageImageNone(t *testing.T) {
	data := compressiblePage()

	image, err := EncodePageImage(data, CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, data, image, "no-compression encoding must be the identity")
}

func TestEncodePageImageFallsBackToRaw(t *testing.T) {
	data := incompressiblePage()

	image, err := EncodePageImage(data, CompressionLZ4)
	require.NoError(t, err)
	assert.Equal(t, data, image, "incompressible page must be stored raw")

	decoded, err := DecodePageImage(image)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestEncodePageImageRejectsBadSize(t *testing.T) {
	_, err := EncodePageImage(make([]byte, 100), CompressionLZ4)
	assert.Error(t, err)

	_, err = DecodePageImage(make([]byte, 100))
	assert.Error(t, err)
}

func TestDecodePageImageChecksumMismatch(t *testing.T) {
	image, err := EncodePageImage(compressiblePage(), CompressionSnappy)
	require.NoError(t, err)

	// Flip a payload byte: decompression may still succeed, the CRC must not
	image[CompressedHeaderSize+3] ^= 0xFF

	_, err = DecodePageImage(image)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodePageCorrupted),
		"checksum failures must carry ErrCodePageCorrupted, got %v", err)
}

func TestDecodePageImageRawWithMagicPrefix(t *testing.T) {
	// A raw page that happens to start with the magic but has an invalid
	// compression type byte must be passed through untouched.
	data := make([]byte, PageSize)
	data[0] = byte(CompressedPageMagic & 0xFF)
	data[1] = byte(CompressedPageMagic >> 8)
	data[2] = 0x7F
	copy(data[12:], []byte("ordinary page content"))

	decoded, err := DecodePageImage(data)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestParseCompressionType(t *testing.T) {
	cases := map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"lz4":    CompressionLZ4,
		"snappy": CompressionSnappy,
	}
	for name, want := range cases {
		got, err := ParseCompressionType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseCompressionType("zstd")
	assert.Error(t, err)
}
