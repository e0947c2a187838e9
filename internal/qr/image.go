package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderPNG rasterizes a token into a QR image and returns it base64-encoded.
// Purely a presentation concern: the authorization core only cares about the
// token string, the image exists so it can be printed or emailed.
func RenderPNG(token string, size int) (string, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(token, qrcode.High, size)
	if err != nil {
		return "", fmt.Errorf("render qr image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
