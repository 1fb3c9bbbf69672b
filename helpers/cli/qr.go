package cli

import (
	"strings"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
)

// QRString renders text as QR code for terminal, two characters per module.
// Dark modules are spaces so code reads on dark background.
func QRString(text string) (string, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", errors.Annotatef(err, "qrcode text=%s", text)
	}
	bitmap := q.Bitmap()
	var b strings.Builder
	b.Grow(len(bitmap) * (len(bitmap)*2*3 + 1))
	for _, row := range bitmap {
		for _, dark := range row {
			if dark {
				b.WriteString("  ")
			} else {
				b.WriteString("██")
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func trimLine(s string) string { return strings.TrimSpace(s) }
