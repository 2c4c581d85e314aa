package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loomchat/loom/internal/bridge"
)

// ByteRange is a resolved, inclusive byte range within a blob of known size.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value for a blob of the
// given total size.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange resolves a Range request header against a blob of the given
// size. A missing header yields (nil, nil). Only a single bytes range is
// supported; anything malformed or out of bounds fails with
// ErrRangeNotSatisfiable so the handler can answer 416 instead of crashing.
func ParseRange(header string, size int64) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: unsupported unit in %q", bridge.ErrRangeNotSatisfiable, header)
	}
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple ranges not supported", bridge.ErrRangeNotSatisfiable)
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: malformed range %q", bridge.ErrRangeNotSatisfiable, header)
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	// Suffix form: bytes=-N means the final N bytes.
	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, fmt.Errorf("%w: malformed suffix range %q", bridge.ErrRangeNotSatisfiable, header)
		}
		if size == 0 {
			return nil, fmt.Errorf("%w: empty blob", bridge.ErrRangeNotSatisfiable)
		}
		start := size - suffix
		if start < 0 {
			start = 0
		}
		return &ByteRange{Start: start, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: malformed range start %q", bridge.ErrRangeNotSatisfiable, header)
	}
	if start >= size {
		return nil, fmt.Errorf("%w: start %d beyond size %d", bridge.ErrRangeNotSatisfiable, start, size)
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: malformed range end %q", bridge.ErrRangeNotSatisfiable, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return &ByteRange{Start: start, End: end}, nil
}
