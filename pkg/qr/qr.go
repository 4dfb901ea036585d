package qr

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 512

// Encode renders a payment request as a PNG QR code. Lightning invoices are
// uppercased first: alphanumeric-mode QR encoding produces a considerably
// smaller code for bech32 strings.
func Encode(paymentRequest string) ([]byte, error) {
	return qrcode.Encode(strings.ToUpper(paymentRequest), qrcode.Medium, imageSize)
}
