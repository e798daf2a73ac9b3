// Package stripedfile implements the virtual striped view over a backing
// file used to download large resources in parallel from multiple
// sources: stripe i owns the i-th equal slice of every blockSize
// super-block.
package stripedfile

import (
	"fmt"
	"os"
)

// Cursor is a stripe-relative position: the super-block index and the
// byte offset within this stripe's slice of that block.
type Cursor struct {
	Block  int64
	Offset int64
}

// StripedFile is a read/write view over one stripe of an underlying file.
type StripedFile struct {
	file        *os.File
	blockSize   int64
	stripeCount int64
	stripeIndex int64
	stripeSize  int64

	readCursor  Cursor
	writeCursor Cursor
}

// Open constructs a StripedFile view over f. stripeSize is blockSize
// divided by stripeCount, truncated toward zero: when blockSize isn't an
// exact multiple of stripeCount, the last few bytes of every block belong
// to none of the stripes and are never written.
func Open(f *os.File, blockSize int64, stripeCount int64, stripeIndex int64) (*StripedFile, error) {
	if stripeCount <= 0 || stripeIndex < 0 || stripeIndex >= stripeCount {
		return nil, fmt.Errorf("stripedfile: invalid stripe %d of %d", stripeIndex, stripeCount)
	}
	if blockSize <= 0 || blockSize/stripeCount <= 0 {
		return nil, fmt.Errorf("stripedfile: blockSize %d too small for %d stripes", blockSize, stripeCount)
	}
	return &StripedFile{
		file:        f,
		blockSize:   blockSize,
		stripeCount: stripeCount,
		stripeIndex: stripeIndex,
		stripeSize:  blockSize / stripeCount,
	}, nil
}

// absolute maps a stripe-relative cursor to an absolute backing-file
// offset: block*blockSize + stripeIndex*stripeSize + offset.
func (s *StripedFile) absolute(c Cursor) int64 {
	return c.Block*s.blockSize + s.stripeIndex*s.stripeSize + c.Offset
}

// advance moves a cursor forward by n bytes within this stripe, rolling
// into the next super-block once the current stripe slice is exhausted.
func (s *StripedFile) advance(c Cursor, n int64) Cursor {
	c.Offset += n
	for c.Offset >= s.stripeSize {
		c.Offset -= s.stripeSize
		c.Block++
	}
	return c
}

// SeekRead repositions the read cursor.
func (s *StripedFile) SeekRead(block, offset int64) {
	s.readCursor = Cursor{Block: block, Offset: offset}
}

// SeekWrite repositions the write cursor. Seeking past the current end of
// file is legal; Write pre-allocates up to the new position rather than
// relying on OS sparse-file support.
func (s *StripedFile) SeekWrite(block, offset int64) {
	s.writeCursor = Cursor{Block: block, Offset: offset}
}

// ReadCursor returns the current read cursor.
func (s *StripedFile) ReadCursor() Cursor { return s.readCursor }

// WriteCursor returns the current write cursor.
func (s *StripedFile) WriteCursor() Cursor { return s.writeCursor }

// Read fills p with bytes belonging to this stripe, starting at the
// current read cursor, crossing super-block boundaries as needed.
func (s *StripedFile) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		want := int64(len(p) - total)
		remaining := s.stripeSize - s.readCursor.Offset
		if want > remaining {
			want = remaining
		}
		off := s.absolute(s.readCursor)
		n, err := s.file.ReadAt(p[total:int64(total)+want], off)
		total += n
		s.readCursor = s.advance(s.readCursor, int64(n))
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// Write writes p to this stripe's slice of the backing file starting at
// the current write cursor, pre-allocating the file up to the highest
// byte written so behavior never depends on sparse-file support.
func (s *StripedFile) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		want := int64(len(p) - total)
		remaining := s.stripeSize - s.writeCursor.Offset
		if want > remaining {
			want = remaining
		}
		off := s.absolute(s.writeCursor)
		if err := s.preallocate(off + want); err != nil {
			return total, err
		}
		n, err := s.file.WriteAt(p[total:int64(total)+want], off)
		total += n
		s.writeCursor = s.advance(s.writeCursor, int64(n))
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *StripedFile) preallocate(upTo int64) error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < upTo {
		return s.file.Truncate(upTo)
	}
	return nil
}
