package document

import (
	"bytes"
	"io"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeText 把输入转换为 UTF-8：优先按 BOM，其次校验 UTF-8，最后尝试常见编码
func decodeText(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	if hasBOM(data) {
		dec := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
		if res, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), dec)); err == nil && utf8.Valid(res) {
			return string(res)
		}
	}

	if utf8.Valid(data) {
		return string(data)
	}

	candidates := []encoding.Encoding{
		simplifiedchinese.GB18030,
		traditionalchinese.Big5,
		japanese.ShiftJIS,
		japanese.EUCJP,
		korean.EUCKR,
		charmap.Windows1252,
	}
	for _, enc := range candidates {
		res, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
		if err == nil && utf8.Valid(res) && reasonableText(string(res)) {
			return string(res)
		}
	}
	return string(data)
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}

// reasonableText 可打印字符超过 90% 才认为解码正确
func reasonableText(text string) bool {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if r != utf8.RuneError && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			printable++
		}
	}
	return total > 0 && float64(printable)/float64(total) > 0.9
}
