package render

import (
	"encoding/base64"
	"fmt"
	"html/template"

	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the side of generated QR images in pixels
const QRSize = 256

// QRDataURI encodes content as a PNG QR code inside a data: URI for an <img src>
func QRDataURI(content string) (template.URL, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, QRSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}
