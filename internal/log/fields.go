// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldParticipantID = "participant_id"
	FieldQuestionID    = "question_id"
	FieldConnectionID  = "connection_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJoinCode      = "join_code"
	FieldRole          = "role"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldReason    = "reason"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldRemoteAddr = "remote_addr"
)
