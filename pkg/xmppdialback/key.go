package xmppdialback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateKey derives the dialback key for a stream.
//
// XEP-0185  3:
// key = HMAC-SHA256( SHA256(Secret), { Receiving Server, ' ', Originating Server, ' ', Stream ID } )
// with the SHA256 of the secret and the result both hex encoded.
func GenerateKey(secret, receiving, originating, streamID string) string {
	secretHash := sha256.Sum256([]byte(secret))
	mac := hmac.New(sha256.New, []byte(hex.EncodeToString(secretHash[:])))
	mac.Write([]byte(receiving + " " + originating + " " + streamID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyKey tells whether key is the one GenerateKey would produce. The
// comparison is constant time.
func VerifyKey(key, secret, receiving, originating, streamID string) bool {
	expected := GenerateKey(secret, receiving, originating, streamID)
	return hmac.Equal([]byte(key), []byte(expected))
}
