package stream

import (
	"errors"
	"strconv"
	"strings"
)

var errBadRange = errors.New("unsatisfiable range")

// byteRange is an inclusive window of plaintext bytes.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 { return r.end - r.start + 1 }

// parseRange understands a single "bytes=" range in its three forms:
// start-end, start- and -suffix. A range touching bytes at or past size is
// unsatisfiable, as is anything with more than one range.
func parseRange(header string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return byteRange{}, errBadRange
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return byteRange{}, errBadRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if size <= 0 {
		return byteRange{}, errBadRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, errBadRange
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errBadRange
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start || end >= size {
			return byteRange{}, errBadRange
		}
	}
	return byteRange{start: start, end: end}, nil
}
