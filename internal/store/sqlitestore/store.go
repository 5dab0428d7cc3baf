// SPDX-License-Identifier: MIT

package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/store"
)

const schemaVersion = 1

// Store implements store.Durable using SQLite.
type Store struct {
	DB *sql.DB
}

// New opens the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := Open(dbPath, DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("durable store: migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		join_code TEXT NOT NULL,
		quiz_id TEXT NOT NULL,
		host_id TEXT NOT NULL,
		state TEXT NOT NULL,
		current_question_index INTEGER NOT NULL,
		current_question_id TEXT,
		question_start_ms INTEGER,
		timer_end_ms INTEGER,
		participant_count INTEGER NOT NULL,
		allow_late_joiners INTEGER NOT NULL,
		exam_settings_json TEXT NOT NULL,
		voided_questions_json TEXT,
		created_at_ms INTEGER NOT NULL,
		ended_at_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_join_code ON sessions(join_code, state);

	CREATE TABLE IF NOT EXISTS participants (
		participant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		ip_address TEXT,
		token TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		is_eliminated INTEGER NOT NULL,
		is_banned INTEGER NOT NULL,
		total_score INTEGER NOT NULL,
		total_time_ms INTEGER NOT NULL,
		streak_count INTEGER NOT NULL,
		focus_lost_count INTEGER NOT NULL DEFAULT 0,
		focus_lost_ms INTEGER NOT NULL DEFAULT 0,
		joined_at_ms INTEGER NOT NULL,
		last_connected_ms INTEGER NOT NULL,
		PRIMARY KEY (session_id, participant_id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		answer_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		selected_options_json TEXT,
		answer_text TEXT,
		answer_number REAL,
		client_ts_ms INTEGER NOT NULL,
		server_received_ms INTEGER NOT NULL,
		response_time_ms INTEGER NOT NULL,
		is_correct INTEGER NOT NULL,
		points_earned INTEGER NOT NULL,
		speed_bonus INTEGER NOT NULL,
		streak_bonus INTEGER NOT NULL,
		PRIMARY KEY (session_id, participant_id, question_id)
	);

	CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(session_id, question_id);

	CREATE TABLE IF NOT EXISTS quizzes (
		quiz_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		questions_json TEXT NOT NULL
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Sessions ---

func (s *Store) PutSession(ctx context.Context, sess *model.Session) error {
	examJSON, _ := json.Marshal(sess.ExamSettings)
	voidedJSON, _ := json.Marshal(sess.VoidedQuestions)

	query := `
	INSERT INTO sessions (
		session_id, join_code, quiz_id, host_id, state, current_question_index,
		current_question_id, question_start_ms, timer_end_ms, participant_count,
		allow_late_joiners, exam_settings_json, voided_questions_json,
		created_at_ms, ended_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		join_code = excluded.join_code,
		state = excluded.state,
		current_question_index = excluded.current_question_index,
		current_question_id = excluded.current_question_id,
		question_start_ms = excluded.question_start_ms,
		timer_end_ms = excluded.timer_end_ms,
		participant_count = excluded.participant_count,
		allow_late_joiners = excluded.allow_late_joiners,
		exam_settings_json = excluded.exam_settings_json,
		voided_questions_json = excluded.voided_questions_json,
		ended_at_ms = excluded.ended_at_ms
	`

	_, err := s.DB.ExecContext(ctx, query,
		sess.SessionID, sess.JoinCode, sess.QuizID, sess.HostID, string(sess.State),
		sess.CurrentQuestionIndex, nullStr(sess.CurrentQuestionID),
		nullInt(sess.QuestionStartTime), nullInt(sess.TimerEndTime),
		sess.ParticipantCount, boolInt(sess.AllowLateJoiners),
		string(examJSON), string(voidedJSON),
		sess.CreatedAt.UnixMilli(), timePtrMs(sess.EndedAt),
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT session_id, join_code, quiz_id, host_id, state, current_question_index,
		       current_question_id, question_start_ms, timer_end_ms, participant_count,
		       allow_late_joiners, exam_settings_json, voided_questions_json,
		       created_at_ms, ended_at_ms
		FROM sessions WHERE session_id = ?`, sessionID)

	var sess model.Session
	var state string
	var questionID sql.NullString
	var startMs, endMs, endedAtMs sql.NullInt64
	var lateJoin int
	var examJSON, voidedJSON sql.NullString
	var createdMs int64

	err := row.Scan(
		&sess.SessionID, &sess.JoinCode, &sess.QuizID, &sess.HostID, &state,
		&sess.CurrentQuestionIndex, &questionID, &startMs, &endMs,
		&sess.ParticipantCount, &lateJoin, &examJSON, &voidedJSON,
		&createdMs, &endedAtMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sess.State = model.SessionState(state)
	sess.CurrentQuestionID = questionID.String
	sess.QuestionStartTime = startMs.Int64
	sess.TimerEndTime = endMs.Int64
	sess.AllowLateJoiners = lateJoin != 0
	sess.CreatedAt = time.UnixMilli(createdMs)
	if endedAtMs.Valid {
		t := time.UnixMilli(endedAtMs.Int64)
		sess.EndedAt = &t
	}
	if examJSON.Valid {
		_ = json.Unmarshal([]byte(examJSON.String), &sess.ExamSettings)
	}
	if voidedJSON.Valid {
		_ = json.Unmarshal([]byte(voidedJSON.String), &sess.VoidedQuestions)
	}
	return &sess, nil
}

// --- Participants ---

func (s *Store) PutParticipant(ctx context.Context, p *model.Participant) error {
	query := `
	INSERT INTO participants (
		participant_id, session_id, nickname, ip_address, token,
		is_active, is_eliminated, is_banned, total_score, total_time_ms,
		streak_count, focus_lost_count, focus_lost_ms, joined_at_ms, last_connected_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, participant_id) DO UPDATE SET
		nickname = excluded.nickname,
		ip_address = excluded.ip_address,
		token = excluded.token,
		is_active = excluded.is_active,
		is_eliminated = excluded.is_eliminated,
		is_banned = excluded.is_banned,
		total_score = excluded.total_score,
		total_time_ms = excluded.total_time_ms,
		streak_count = excluded.streak_count,
		focus_lost_count = excluded.focus_lost_count,
		focus_lost_ms = excluded.focus_lost_ms,
		last_connected_ms = excluded.last_connected_ms
	`

	_, err := s.DB.ExecContext(ctx, query,
		p.ParticipantID, p.SessionID, p.Nickname, p.IPAddress, p.Token,
		boolInt(p.IsActive), boolInt(p.IsEliminated), boolInt(p.IsBanned),
		p.TotalScore, p.TotalTimeMs, p.StreakCount,
		p.FocusLost.Count, p.FocusLost.TotalLostTimeMs,
		p.JoinedAt.UnixMilli(), p.LastConnected.UnixMilli(),
	)
	return err
}

func (s *Store) GetParticipant(ctx context.Context, sessionID, participantID string) (*model.Participant, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT participant_id, session_id, nickname, ip_address, token,
		       is_active, is_eliminated, is_banned, total_score, total_time_ms,
		       streak_count, focus_lost_count, focus_lost_ms, joined_at_ms, last_connected_ms
		FROM participants WHERE session_id = ? AND participant_id = ?`, sessionID, participantID)
	return scanParticipant(row)
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT participant_id, session_id, nickname, ip_address, token,
		       is_active, is_eliminated, is_banned, total_score, total_time_ms,
		       streak_count, focus_lost_count, focus_lost_ms, joined_at_ms, last_connected_ms
		FROM participants WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanParticipant(scanner interface{ Scan(dest ...any) error }) (*model.Participant, error) {
	var p model.Participant
	var active, eliminated, banned int
	var joinedMs, lastMs int64
	var ip sql.NullString

	err := scanner.Scan(
		&p.ParticipantID, &p.SessionID, &p.Nickname, &ip, &p.Token,
		&active, &eliminated, &banned, &p.TotalScore, &p.TotalTimeMs,
		&p.StreakCount, &p.FocusLost.Count, &p.FocusLost.TotalLostTimeMs,
		&joinedMs, &lastMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	p.IPAddress = ip.String
	p.IsActive = active != 0
	p.IsEliminated = eliminated != 0
	p.IsBanned = banned != 0
	p.JoinedAt = time.UnixMilli(joinedMs)
	p.LastConnected = time.UnixMilli(lastMs)
	return &p, nil
}

// --- Answers ---

func (s *Store) UpsertAnswer(ctx context.Context, a *model.Answer) error {
	optionsJSON, _ := json.Marshal(a.SelectedOptionIDs)

	query := `
	INSERT INTO answers (
		answer_id, session_id, participant_id, question_id, selected_options_json,
		answer_text, answer_number, client_ts_ms, server_received_ms,
		response_time_ms, is_correct, points_earned, speed_bonus, streak_bonus
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, participant_id, question_id) DO UPDATE SET
		selected_options_json = excluded.selected_options_json,
		answer_text = excluded.answer_text,
		answer_number = excluded.answer_number,
		server_received_ms = excluded.server_received_ms,
		response_time_ms = excluded.response_time_ms,
		is_correct = excluded.is_correct,
		points_earned = excluded.points_earned,
		speed_bonus = excluded.speed_bonus,
		streak_bonus = excluded.streak_bonus
	`

	var num sql.NullFloat64
	if a.AnswerNumber != nil {
		num = sql.NullFloat64{Float64: *a.AnswerNumber, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, query,
		a.AnswerID, a.SessionID, a.ParticipantID, a.QuestionID, string(optionsJSON),
		nullStr(a.AnswerText), num, a.ClientTimestamp, a.ServerReceivedAt,
		a.ResponseTimeMs, boolInt(a.IsCorrect), a.PointsEarned, a.SpeedBonus, a.StreakBonus,
	)
	return err
}

func (s *Store) GetAnswer(ctx context.Context, sessionID, participantID, questionID string) (*model.Answer, error) {
	row := s.DB.QueryRowContext(ctx, answerSelect+` WHERE session_id = ? AND participant_id = ? AND question_id = ?`,
		sessionID, participantID, questionID)
	return scanAnswer(row)
}

func (s *Store) ListAnswers(ctx context.Context, sessionID, questionID string) ([]*model.Answer, error) {
	rows, err := s.DB.QueryContext(ctx, answerSelect+` WHERE session_id = ? AND question_id = ?`,
		sessionID, questionID)
	if err != nil {
		return nil, err
	}
	return collectAnswers(rows)
}

func (s *Store) ListParticipantAnswers(ctx context.Context, sessionID, participantID string) ([]*model.Answer, error) {
	rows, err := s.DB.QueryContext(ctx, answerSelect+` WHERE session_id = ? AND participant_id = ?`,
		sessionID, participantID)
	if err != nil {
		return nil, err
	}
	return collectAnswers(rows)
}

const answerSelect = `
	SELECT answer_id, session_id, participant_id, question_id, selected_options_json,
	       answer_text, answer_number, client_ts_ms, server_received_ms,
	       response_time_ms, is_correct, points_earned, speed_bonus, streak_bonus
	FROM answers`

func collectAnswers(rows *sql.Rows) ([]*model.Answer, error) {
	defer func() { _ = rows.Close() }()

	var out []*model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnswer(scanner interface{ Scan(dest ...any) error }) (*model.Answer, error) {
	var a model.Answer
	var optionsJSON, text sql.NullString
	var num sql.NullFloat64
	var correct int

	err := scanner.Scan(
		&a.AnswerID, &a.SessionID, &a.ParticipantID, &a.QuestionID, &optionsJSON,
		&text, &num, &a.ClientTimestamp, &a.ServerReceivedAt,
		&a.ResponseTimeMs, &correct, &a.PointsEarned, &a.SpeedBonus, &a.StreakBonus,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if optionsJSON.Valid {
		_ = json.Unmarshal([]byte(optionsJSON.String), &a.SelectedOptionIDs)
	}
	a.AnswerText = text.String
	if num.Valid {
		a.AnswerNumber = &num.Float64
	}
	a.IsCorrect = correct != 0
	return &a, nil
}

// --- Quizzes ---

func (s *Store) PutQuiz(ctx context.Context, q *model.Quiz) error {
	questionsJSON, err := json.Marshal(q.Questions)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO quizzes (quiz_id, title, questions_json) VALUES (?, ?, ?)
		ON CONFLICT(quiz_id) DO UPDATE SET title = excluded.title, questions_json = excluded.questions_json`,
		q.QuizID, q.Title, string(questionsJSON))
	return err
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT quiz_id, title, questions_json FROM quizzes WHERE quiz_id = ?`, quizID)

	var q model.Quiz
	var questionsJSON string
	if err := row.Scan(&q.QuizID, &q.Title, &questionsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(questionsJSON), &q.Questions); err != nil {
		return nil, fmt.Errorf("quiz %s: corrupt questions payload: %w", quizID, err)
	}
	return &q, nil
}

// --- Helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func timePtrMs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
