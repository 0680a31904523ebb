package schema

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeText converts archive text to a Go string. Older archives ship
// Latin-1, newer ones UTF-8; valid UTF-8 is taken as-is and anything else is
// decoded as Latin-1, which accepts every byte value.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return DecodeLatin1(b)
}

// DecodeLatin1 decodes ISO-8859-1 bytes. Pure ASCII input is returned without
// going through the decoder.
func DecodeLatin1(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// ISO-8859-1 maps all 256 byte values; this is unreachable in practice.
		return string(b)
	}
	return string(out)
}
