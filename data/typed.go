package data

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Numeric lists the fixed-size element types supported by ReadTyped and WriteTyped.
type Numeric interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// RawReader reads bytes without any interpretation. Implementations return
// fewer bytes than requested only at the end of the data and report io.EOF
// never, so a zero count signals the end.
type RawReader interface {
	ReadRaw(p []byte) (int, error)
}

// OrderedReader is a RawReader that knows the byte order of its stored data.
type OrderedReader interface {
	RawReader
	ByteOrder() binary.ByteOrder
}

// ReadTyped fills dst with elements decoded in the byte order of r and returns
// the number of complete elements read. Trailing bytes of a partial element are
// consumed but not decoded.
func ReadTyped[T Numeric](r OrderedReader, dst []T) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	var zero T
	size := binary.Size(zero)
	raw := make([]byte, size*len(dst))

	n, err := readFull(r, raw)
	if err != nil {
		return 0, err
	}

	count := n / size
	if count == 0 {
		return 0, nil
	}
	if _, err := binary.Decode(raw[:count*size], r.ByteOrder(), dst[:count]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return count, nil
}

// WriteTyped encodes src in the given byte order and writes it to w.
// It returns the number of elements written.
func WriteTyped[T Numeric](w io.Writer, order binary.ByteOrder, src []T) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}

	var zero T
	size := binary.Size(zero)

	raw, err := binary.Append(make([]byte, 0, size*len(src)), order, src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	n, err := w.Write(raw)
	return n / size, err
}

func readFull(r RawReader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.ReadRaw(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
