package extractor

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText turns raw upload bytes into NFC-normalized UTF-8. UTF-16 is
// recognised by its byte order mark; anything else that is not valid UTF-8
// is read as Windows-1252, which is what most legacy editors produce.
func decodeText(raw []byte) (string, error) {
	var (
		out []byte
		err error
	)

	switch {
	case bytes.HasPrefix(raw, utf8BOM):
		out = raw[len(utf8BOM):]
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		out, err = xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder().Bytes(raw)
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		out, err = xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(raw)
	case utf8.Valid(raw):
		out = raw
	default:
		out, err = charmap.Windows1252.NewDecoder().Bytes(raw)
	}
	if err != nil {
		return "", err
	}

	return norm.NFC.String(string(out)), nil
}
