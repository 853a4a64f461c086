package provider

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Canonicalize renders every field except exclude as key=value pairs sorted
// by key and joined with "&". Multi-valued fields use their first value.
func Canonicalize(values url.Values, exclude string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == exclude {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}
	return b.String()
}

// SignMD5 is the lowercase hex MD5 of the canonical form with secret appended.
func SignMD5(values url.Values, exclude, secret string) string {
	sum := md5.Sum([]byte(Canonicalize(values, exclude) + secret))
	return hex.EncodeToString(sum[:])
}

// VerifyMD5 recomputes the digest and compares it in constant time,
// ignoring hex case.
func VerifyMD5(values url.Values, exclude, secret, supplied string) bool {
	expected := SignMD5(values, exclude, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(supplied))) == 1
}
