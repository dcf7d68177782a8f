package domain

import (
	"crypto/rand"
	"strings"
)

// codeAlphabet skips 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const SessionCodeLength = 6

// NewSessionCode returns a short human-shareable session code.
func NewSessionCode(length int) SessionID {
	if length <= 0 {
		length = SessionCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	var b strings.Builder
	b.Grow(length)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return SessionID(b.String())
}

// ValidSessionCode reports whether code looks like one of ours.
func ValidSessionCode(code SessionID) bool {
	if len(code) != SessionCodeLength {
		return false
	}
	for _, r := range string(code) {
		if !strings.ContainsRune(codeAlphabet, r) {
			return false
		}
	}
	return true
}
