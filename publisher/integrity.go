package publisher

import (
	"encoding/base64"
	"encoding/hex"
)

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func bytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
