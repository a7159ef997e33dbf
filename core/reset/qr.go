package reset

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrSize 是二维码图片的边长（像素）
const qrSize = 200

// RenderQR encodes link as a PNG QR code and returns the image base64
// encoded, ready for a data: URI.
func RenderQR(link string) (string, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

func qrMailHTML(qrBase64 string) string {
	return `<p>Scan this QR code to get your 6-digit verification code:</p>` +
		`<center><img src="data:image/png;base64,` + qrBase64 + `" width="200"></center>` +
		`<p><small>QR valid for 2 minutes.</small></p>`
}
