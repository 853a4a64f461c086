package response

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintPolicy says how a protocol's response fingerprint relates to
// the cached payload.
type FingerprintPolicy int

const (
	// FingerprintNone means the protocol signs nothing.
	FingerprintNone FingerprintPolicy = iota
	// FingerprintCached means the fingerprint is part of the cached bytes.
	FingerprintCached
	// FingerprintFresh means the cached bytes are unsigned and every serve,
	// replays included, seals them with a new fingerprint.
	FingerprintFresh
)

func (p FingerprintPolicy) String() string {
	switch p {
	case FingerprintCached:
		return "cached"
	case FingerprintFresh:
		return "fresh"
	default:
		return "none"
	}
}

// MD5Fingerprint is the lowercase hex MD5 of parts concatenated with secret.
func MD5Fingerprint(parts []string, secret string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "") + secret))
	return hex.EncodeToString(sum[:])
}

// HMACFingerprint is the lowercase hex HMAC-SHA256 of parts joined by "|".
func HMACFingerprint(parts []string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
