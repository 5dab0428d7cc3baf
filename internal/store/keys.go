// SPDX-License-Identifier: MIT

package store

import "fmt"

// Ephemeral key layout. TTLs: session state 8h, participant session 5m
// (refreshed on activity), rate-limit keys their window length.

func SessionStateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

func ParticipantKey(participantID string) string {
	return fmt.Sprintf("participant:%s:session", participantID)
}

func LeaderboardKey(sessionID string) string {
	return fmt.Sprintf("leaderboard:%s", sessionID)
}

func LeaderboardSeqKey(sessionID string) string {
	return fmt.Sprintf("leaderboard:%s:seq", sessionID)
}

func AnsweredSetKey(sessionID, questionID string) string {
	return fmt.Sprintf("answered:%s:%s", sessionID, questionID)
}

func JoinCodeKey(code string) string {
	return fmt.Sprintf("joincode:%s", code)
}

func TokenKey(token string) string {
	return fmt.Sprintf("token:%s", token)
}

func BannedIPKey(sessionID string) string {
	return fmt.Sprintf("session:%s:banned_ips", sessionID)
}

func SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

func RateLimitKey(scope, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, identifier)
}
