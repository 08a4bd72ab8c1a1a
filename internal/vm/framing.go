package vm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ctagard/vmdebug-mcp/internal/logflags"
)

// ErrMalformedFrame is returned when a brace-balanced frame is not valid JSON.
var ErrMalformedFrame = errors.New("malformed JSON frame")

// FrameReader splits a byte stream into complete JSON objects. The VM sends
// objects back to back with no framing, so boundaries come from brace depth
// outside of string literals.
type FrameReader struct {
	r   *bufio.Reader
	buf []byte
}

// NewFrameReader returns a FrameReader reading from r.
func NewFrameReader(r io.Reader) *FrameReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameReader{r: br}
}

// Next returns the next complete JSON object. It returns io.EOF when the
// stream ends between objects and io.ErrUnexpectedEOF when it ends inside
// one. The returned slice is owned by the caller.
func (f *FrameReader) Next() (json.RawMessage, error) {
	f.buf = f.buf[:0]

	var (
		inQuote   bool
		escaped   bool
		depth     int
		rewritten bool
	)

	for {
		c, err := f.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if depth == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if depth == 0 && c != '{' {
			// Whitespace or noise between objects.
			continue
		}

		if inQuote && c == '\n' {
			// The VM sometimes emits raw newlines in exception text.
			f.buf = append(f.buf, '\\', 'n')
			rewritten = true
			escaped = false
			continue
		}

		f.buf = append(f.buf, c)

		if inQuote {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}

		switch c {
		case '"':
			inQuote = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return f.complete(rewritten)
			}
		}
	}
}

func (f *FrameReader) complete(rewritten bool) (json.RawMessage, error) {
	frame := make(json.RawMessage, len(f.buf))
	copy(frame, f.buf)

	if rewritten {
		logflags.WireLogger().Warnf("bad json from vm (raw newline in string): %s", frame)
	}
	if !json.Valid(frame) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, frame)
	}
	return frame, nil
}
