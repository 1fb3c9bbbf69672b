package cli

import (
	"strings"
	"testing"

	"github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRString(t *testing.T) {
	t.Parallel()
	s, err := QRString("tcp://192.168.1.5:8080")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	require.Greater(t, len(lines), 20)
	width := len([]rune(lines[0]))
	for i, line := range lines {
		assert.Equal(t, width, len([]rune(line)), "line=%d", i)
	}
	assert.Equal(t, len(lines)*2, width, "square, two runes per module")
	assert.Contains(t, s, "██")
	assert.Contains(t, s, "  ")

	_, err = QRString(strings.Repeat("x", 4000))
	assert.Error(t, err)
}

func TestReadLines(t *testing.T) {
	t.Parallel()
	var got []string
	ReadLines(strings.NewReader("1\n\n  status \r\nq"), func(line string) { got = append(got, line) })
	assert.Equal(t, []string{"1", "status", "q"}, got)
}

func TestCompleter(t *testing.T) {
	t.Parallel()
	c := Completer([]prompt.Suggest{{Text: "status"}, {Text: "clients"}, {Text: "qr"}})
	buf := prompt.NewBuffer()
	buf.InsertText("st", false, true)
	got := c(*buf.Document())
	require.Len(t, got, 1)
	assert.Equal(t, "status", got[0].Text)
}
