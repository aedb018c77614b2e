package ticket

import (
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the default rendered edge length in pixels.
const QRSize = 300

// QRPNG renders an encoded ticket token as a scannable PNG. Error
// correction is set high: tickets get printed, folded and re-scanned
// from phone screens under bad venue lighting.
func QRPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = QRSize
	}
	png, err := qrcode.Encode(token, qrcode.High, size)
	if err != nil {
		return nil, errors.Wrap(err, "encoding ticket QR")
	}
	return png, nil
}
