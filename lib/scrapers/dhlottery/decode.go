package dhlottery

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
)

// decodeBody normalizes a response body to UTF-8. The site mostly
// serves UTF-8 but some of the older JSP pages still come back EUC-KR.
func decodeBody(body []byte) []byte {
	if utf8.Valid(body) {
		return body
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
