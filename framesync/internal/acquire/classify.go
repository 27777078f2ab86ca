package acquire

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// Source kinds.
const (
	KindImage = "image"
	KindHTML  = "html"
)

var imageMagic = []struct {
	prefix      []byte
	contentType string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
}

// sniffImage returns the image content type implied by magic bytes, or "".
func sniffImage(body []byte) string {
	for _, m := range imageMagic {
		if bytes.HasPrefix(body, m.prefix) {
			return m.contentType
		}
	}
	if len(body) >= 12 && bytes.Equal(body[0:4], []byte("RIFF")) && bytes.Equal(body[8:12], []byte("WEBP")) {
		return "image/webp"
	}
	return ""
}

// IsHTML reports whether a response must be rendered rather than stored
// as-is. Image magic bytes win over any declared content type. Otherwise a
// text/html content type or a body whose first non-whitespace byte is '<'
// marks it as HTML, which covers servers that omit the header.
func IsHTML(contentType string, body []byte) bool {
	if sniffImage(body) != "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		return true
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n\f\v")
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// deviceTypes are the image formats the display accepts.
var deviceTypes = map[string]bool{"image/jpeg": true, "image/png": true}

// imageContentType returns the content type a non-HTML body is stored
// under. Only bodies whose magic bytes identify a JPEG or PNG qualify; an
// error page served as JSON or text, or an image in another format, is
// rejected so the previous artifact stays in place.
func imageContentType(declared string, body []byte) (string, error) {
	sniffed := sniffImage(body)
	if deviceTypes[sniffed] {
		return sniffed, nil
	}
	if sniffed != "" {
		return "", fmt.Errorf("unsupported image type %q, want jpeg or png", sniffed)
	}
	ct := strings.TrimSpace(declared)
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return "", fmt.Errorf("unexpected content type %q, body is not a jpeg or png image", ct)
}
