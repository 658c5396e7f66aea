package reqmsg

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// maxInflated bounds how much a compressed body may expand for logging.
const maxInflated = 4 << 20

// DecodeBody turns raw body bytes into something readable in a log line:
// parsed JSON when the bytes are JSON, otherwise text. Non-UTF-8 text is
// converted using the declared charset or a detected one. Decoding never
// fails; undecodable bytes come out as replacement characters.
func DecodeBody(b []byte, contentType, contentEncoding string) any {
	if len(b) == 0 {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip") {
		if plain, ok := gunzip(b); ok {
			b = plain
		}
	}

	var v any
	if err := sonic.Unmarshal(b, &v); err == nil {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	if text, ok := transcode(b, declaredCharset(contentType)); ok {
		return text
	}
	if text, ok := transcode(b, detectCharset(b)); ok {
		return text
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func gunzip(b []byte) ([]byte, bool) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxInflated))
	if err != nil {
		return nil, false
	}
	return out, true
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func detectCharset(b []byte) string {
	res, err := chardet.NewTextDetector().DetectBest(b)
	if err != nil || res == nil {
		return ""
	}
	return res.Charset
}

func transcode(b []byte, charset string) (string, bool) {
	if charset == "" {
		return "", false
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}
