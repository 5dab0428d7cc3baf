// SPDX-License-Identifier: MIT

package model

import (
	"crypto/rand"
	"regexp"
	"strings"
)

// joinCodeAlphabet is A-Z plus digits; codes are 6 characters and unique
// among non-ENDED sessions (the registry enforces uniqueness).
const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const JoinCodeLength = 6

var (
	joinCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	nicknameRe = regexp.MustCompile(`^[A-Za-z0-9 _.\-]{3,20}$`)
)

// NewJoinCode generates a random 6-character join code.
func NewJoinCode() string {
	buf := make([]byte, JoinCodeLength)
	// crypto/rand never fails on supported platforms
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf)
}

// ValidJoinCode reports whether code has the canonical join-code shape.
// Codes are matched case-insensitively; callers normalize with this helper.
func ValidJoinCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, joinCodeRe.MatchString(code)
}

// ValidNickname reports whether the nickname matches the allowed pattern
// (3-20 chars, letters/digits/space/underscore/dot/dash). Profanity is
// checked separately.
func ValidNickname(nick string) bool {
	return nicknameRe.MatchString(strings.TrimSpace(nick))
}

// NormalizeNickname is the canonical form used for per-session uniqueness.
func NormalizeNickname(nick string) string {
	return strings.ToLower(strings.TrimSpace(nick))
}
