package steam

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// Steam Guard codes use a 26-character alphabet instead of RFC 6238 digits.
const guardCodeChars = "23456789BCDFGHJKMNPQRTVWXY"

const guardCodeLength = 5

// GenerateAuthCode derives the Steam Guard code for the given shared secret
// at time t. The secret is the base64 string issued when mobile auth is set
// up; codes rotate every 30 seconds.
func GenerateAuthCode(sharedSecret string, t time.Time) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		return "", fmt.Errorf("decode shared secret: %w", err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.Unix()/30))

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	start := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[start:start+4]) & 0x7fffffff

	out := make([]byte, guardCodeLength)
	for i := range out {
		out[i] = guardCodeChars[code%uint32(len(guardCodeChars))]
		code /= uint32(len(guardCodeChars))
	}
	return string(out), nil
}
