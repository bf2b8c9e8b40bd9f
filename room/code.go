package room

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
	"strings"
)

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6

	// MaxRoomCodeLength bounds user-supplied room ids
	MaxRoomCodeLength = 8

	// RoomCodeChars are the characters used for generating room codes (excluding ambiguous chars)
	RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateRoomCode creates a random room code
func GenerateRoomCode() string {
	code := make([]byte, RoomCodeLength)
	for i := range RoomCodeLength {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(RoomCodeChars))))
		if err != nil {
			// fallback to math/rand if crypto fails
			code[i] = RoomCodeChars[rand.Intn(len(RoomCodeChars))]
			continue
		}
		code[i] = RoomCodeChars[n.Int64()]
	}
	return string(code)
}

// plausibleRoomID reports whether id could name a room at all.
func plausibleRoomID(id string) bool {
	return id != "" && len(id) <= MaxRoomCodeLength
}

// NormalizeRoomID upper-cases and trims a user-supplied room code.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
