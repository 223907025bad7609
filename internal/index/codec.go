package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// MagicNumber identifies index files (ASCII: "RAGI")
	MagicNumber = 0x52414749
	// FormatVersion is the current file format version
	FormatVersion = 1

	MetricInnerProduct = 1
)

var ErrCorruptIndex = errors.New("corrupt index file")

// fileHeader is the fixed 24-byte header in front of the vector data.
// The file ends with a CRC32 of header and data.
type fileHeader struct {
	Magic     uint32
	Version   uint32
	Metric    uint8
	Padding   [3]byte
	Dimension uint32
	Count     uint64
}

var headerSize = binary.Size(fileHeader{})

// WriteTo encodes the index in little-endian order
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	crc := crc32.NewIEEE()
	cw := &countingWriter{w: io.MultiWriter(w, crc)}

	hdr := fileHeader{
		Magic:     MagicNumber,
		Version:   FormatVersion,
		Metric:    MetricInnerProduct,
		Dimension: uint32(f.dim),
		Count:     uint64(f.Len()),
	}
	if err := binary.Write(cw, binary.LittleEndian, hdr); err != nil {
		return cw.n, fmt.Errorf("failed to write index header: %w", err)
	}
	if len(f.data) > 0 {
		if err := binary.Write(cw, binary.LittleEndian, f.data); err != nil {
			return cw.n, fmt.Errorf("failed to write index vectors: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, crc.Sum32()); err != nil {
		return cw.n, fmt.Errorf("failed to write index checksum: %w", err)
	}
	return cw.n + 4, nil
}

// ReadFlat decodes an index written by WriteTo
func ReadFlat(r io.Reader) (*Flat, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(buf) < headerSize+4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptIndex, len(buf))
	}

	var hdr fileHeader
	if err := binary.Read(bytes.NewReader(buf[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if hdr.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptIndex, hdr.Magic)
	}
	if hdr.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, hdr.Version)
	}
	if hdr.Metric != MetricInnerProduct {
		return nil, fmt.Errorf("%w: unknown metric %d", ErrCorruptIndex, hdr.Metric)
	}

	if hdr.Dimension == 0 && hdr.Count > 0 {
		return nil, fmt.Errorf("%w: %d vectors of dimension 0", ErrCorruptIndex, hdr.Count)
	}
	// counts must fit the payload before they are multiplied
	payload := uint64(len(buf) - headerSize - 4)
	if hdr.Dimension > 0 && hdr.Count > payload/4/uint64(hdr.Dimension) {
		return nil, fmt.Errorf("%w: header claims %d vectors of dimension %d, payload has %d bytes",
			ErrCorruptIndex, hdr.Count, hdr.Dimension, payload)
	}
	values := uint64(hdr.Dimension) * hdr.Count
	if values*4 != payload {
		return nil, fmt.Errorf("%w: expected %d bytes for %d vectors of dimension %d, got %d",
			ErrCorruptIndex, uint64(headerSize)+values*4+4, hdr.Count, hdr.Dimension, len(buf))
	}

	body := buf[:len(buf)-4]
	sum := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}

	f := &Flat{dim: int(hdr.Dimension), data: make([]float32, values)}
	if err := binary.Read(bytes.NewReader(body[headerSize:]), binary.LittleEndian, f.data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	return f, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
