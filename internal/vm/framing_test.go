package vm

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) ([]string, error) {
	t.Helper()
	r := NewFrameReader(strings.NewReader(input))
	var out []string
	for {
		frame, err := r.Next()
		if err != nil {
			return out, err
		}
		out = append(out, string(frame))
	}
}

func TestFrameReaderSplitsObjects(t *testing.T) {
	objects := []string{
		`{"id":1,"result":{"isolateIds":[7114]}}`,
		`{"event":"paused","params":{"reason":"breakpoint","isolateId":7114}}`,
		`{"text":"braces { inside } strings"}`,
		`{"text":"escaped \"quote\" and {brace"}`,
		`{"text":"backslash at end \\","n":{"a":{"b":{}}}}`,
		`{}`,
	}

	got, err := readAll(t, strings.Join(objects, ""))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, objects, got)

	got, err = readAll(t, strings.Join(objects, "\r\n "))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, objects, got)
}

func TestFrameReaderRewritesNewlineInString(t *testing.T) {
	got, err := readAll(t, "{\"exception\":\"line one\nline two\"}{\"id\":2}")
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 2)
	assert.Equal(t, `{"exception":"line one\nline two"}`, got[0])
	assert.Equal(t, `{"id":2}`, got[1])
}

func TestFrameReaderEndOfStream(t *testing.T) {
	got, err := readAll(t, `{"id":1}{"id":2,"result":{`)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{`{"id":1}`}, got)

	got, err = readAll(t, "")
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, got)
}

func TestFrameReaderMalformed(t *testing.T) {
	_, err := readAll(t, `{"id":}`)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
