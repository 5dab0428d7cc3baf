// SPDX-License-Identifier: MIT

package model

import "time"

// Role identifies the privilege level of a connected client.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleController  Role = "controller"
	RoleBigscreen   Role = "bigscreen"
	RoleTester      Role = "tester"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleParticipant, RoleController, RoleBigscreen, RoleTester:
		return true
	}
	return false
}

// FocusStats aggregates advisory focus-loss events for one participant.
type FocusStats struct {
	Count           int   `json:"count"`
	TotalLostTimeMs int64 `json:"totalLostTimeMs"`
}

// Participant is a playing client within one session. The record survives
// disconnects; IsActive tracks the live socket.
type Participant struct {
	ParticipantID string     `json:"participantId"`
	SessionID     string     `json:"sessionId"`
	Nickname      string     `json:"nickname"`
	SocketID      string     `json:"socketId,omitempty"`
	IPAddress     string     `json:"ipAddress"`
	Token         string     `json:"token"`
	IsActive      bool       `json:"isActive"`
	IsEliminated  bool       `json:"isEliminated"`
	IsBanned      bool       `json:"isBanned"`
	TotalScore    int        `json:"totalScore"`
	TotalTimeMs   int64      `json:"totalTimeMs"`
	StreakCount   int        `json:"streakCount"`
	FocusLost     FocusStats `json:"focusLost"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LastConnected time.Time  `json:"lastConnectedAt"`
}
