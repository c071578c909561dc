package steam

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const guardCodeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"

// GenerateAuthCode returns the 5 character Steam Guard code for sharedSecret
// at time t.
func GenerateAuthCode(sharedSecret string, t time.Time) (string, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sharedSecret))
	if err != nil {
		return "", fmt.Errorf("decode shared secret: %w", err)
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(t.Unix()/30))
	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	out := make([]byte, 5)
	for i := range out {
		out[i] = guardCodeAlphabet[code%uint32(len(guardCodeAlphabet))]
		code /= uint32(len(guardCodeAlphabet))
	}
	return string(out), nil
}
