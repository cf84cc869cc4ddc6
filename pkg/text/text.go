/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package text

import (
	"io"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const (
	UTF8 = "UTF-8"
)

var (
	expectedCharsets = []string{UTF8, "GB-18030"}
	decoderMap       = make(map[string]encoding.Encoding)
)

func init() {
	decoderMap["GB-18030"] = simplifiedchinese.GB18030
	// alias
	decoderMap["GB18030"] = simplifiedchinese.GB18030
	decoderMap["GBK"] = simplifiedchinese.GB18030
	decoderMap["GB2312"] = simplifiedchinese.GB18030
	decoderMap["ISO-8859-1"] = charmap.ISO8859_1
	decoderMap["LATIN1"] = charmap.ISO8859_1
	decoderMap["WINDOWS-1252"] = charmap.Windows1252
}

// DetectCharset detects charset from bytes
func DetectCharset(bs []byte) string {
	if charsetResults, err := chardet.NewTextDetector().DetectAll(bs); err == nil {
		for _, expected := range expectedCharsets {
			for _, result := range charsetResults {
				if result.Charset == expected {
					return result.Charset
				}
			}
		}
	}

	return UTF8
}

// GetEncoding returns nil for UTF-8 and unknown charsets.
func GetEncoding(charset string) encoding.Encoding {
	return decoderMap[strings.ToUpper(charset)]
}

// NewDecodingReader converts r from charset to UTF-8. r is returned as is when no decoder is needed.
func NewDecodingReader(r io.Reader, charset string) io.Reader {
	enc := GetEncoding(charset)
	if enc == nil {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// Decode converts bs from charset to a UTF-8 string.
func Decode(bs []byte, charset string) (string, error) {
	enc := GetEncoding(charset)
	if enc == nil {
		return string(bs), nil
	}
	out, err := enc.NewDecoder().Bytes(bs)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
