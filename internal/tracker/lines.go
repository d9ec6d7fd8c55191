package tracker

import "bytes"

const (
	// maxLineBytes bounds the incomplete line kept between polls
	maxLineBytes  = 1024 * 1024
	readChunkSize = 64 * 1024
)

// lineSplitter cuts a byte stream into lines terminated by "\n", "\r\n" or
// a bare "\r". Bytes after the last terminator are kept until a later chunk
// completes the line.
type lineSplitter struct {
	pending   []byte
	pendingCR bool // last chunk ended in '\r'; a leading '\n' belongs to it
	maxLine   int
}

func newLineSplitter() *lineSplitter {
	return &lineSplitter{maxLine: maxLineBytes}
}

// Feed splits chunk and calls emit for every completed line, in order.
// The slice passed to emit is only valid during the call.
// It reports whether an oversized pending line was flushed.
func (s *lineSplitter) Feed(chunk []byte, emit func([]byte) error) (bool, error) {
	start := 0
	if s.pendingCR && len(chunk) > 0 {
		if chunk[0] == '\n' {
			start = 1
		}
		s.pendingCR = false
	}

	for start < len(chunk) {
		i := bytes.IndexAny(chunk[start:], "\r\n")
		if i < 0 {
			break
		}
		end := start + i

		line := chunk[start:end]
		if len(s.pending) > 0 {
			s.pending = append(s.pending, line...)
			line = s.pending
		}
		if err := emit(line); err != nil {
			return false, err
		}
		s.pending = s.pending[:0]

		next := end + 1
		if chunk[end] == '\r' {
			if next < len(chunk) {
				if chunk[next] == '\n' {
					next++
				}
			} else {
				s.pendingCR = true
			}
		}
		start = next
	}

	if start < len(chunk) {
		s.pending = append(s.pending, chunk[start:]...)
	}

	if len(s.pending) > s.maxLine {
		err := emit(s.pending)
		s.pending = s.pending[:0]
		return true, err
	}
	return false, nil
}

// Pending returns the number of buffered bytes of the incomplete line
func (s *lineSplitter) Pending() int {
	return len(s.pending)
}

// Reset drops any incomplete line
func (s *lineSplitter) Reset() {
	s.pending = s.pending[:0]
	s.pendingCR = false
}
