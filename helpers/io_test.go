package helpers

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteAll(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	content := []byte("12345678901234567890")
	tw := &throttleWriter{w: buf, n: 7}
	assert.NoError(t, WriteAll(tw, content))
	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, 3, tw.calls)

	failing := &throttleWriter{w: buf, n: 7, failAfter: 1}
	err := WriteAll(failing, content)
	assert.EqualError(t, err, "broken pipe")
}

type throttleWriter struct {
	w         io.Writer
	n         int
	calls     int
	failAfter int
}

func (tw *throttleWriter) Write(p []byte) (n int, err error) {
	tw.calls++
	if tw.failAfter != 0 && tw.calls > tw.failAfter {
		return 0, fmt.Errorf("broken pipe")
	}
	limit := len(p)
	if limit > tw.n {
		limit = tw.n
	}
	return tw.w.Write(p[:limit])
}
