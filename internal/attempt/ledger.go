package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internaldb "examhall/internal/db"
)

var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptCompleted = errors.New("attempt already completed")
	ErrDuplicateAnswer  = errors.New("question already answered in this attempt")
	ErrInvalidScore     = errors.New("score must be between zero and total questions")
)

type Attempt struct {
	ID             int64      `json:"id"`
	StudentID      int64      `json:"student_id"`
	ExamID         int64      `json:"exam_id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Score          *int       `json:"score,omitempty"`
	TotalQuestions *int       `json:"total_questions,omitempty"`
}

func (a Attempt) Completed() bool { return a.CompletedAt != nil }

func (a Attempt) Status() string {
	if a.Completed() {
		return "completed"
	}
	return "in_progress"
}

type Answer struct {
	AttemptID        int64 `json:"attempt_id"`
	QuestionID       int64 `json:"question_id"`
	SelectedOptionID int64 `json:"selected_option_id"`
}

// HistoryItem is a completed attempt joined with its exam title.
type HistoryItem struct {
	AttemptID      int64     `json:"attempt_id"`
	ExamID         int64     `json:"exam_id"`
	ExamTitle      string    `json:"exam_title"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger is the durable record of attempts and their answers. A Ledger
// returned by InTx runs every call inside that transaction.
type Ledger struct {
	db  *sql.DB
	q   dbtx
	now func() time.Time
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, q: db, now: func() time.Time { return time.Now().UTC() }}
}

// InTx runs fn against a transaction-bound ledger and commits when fn returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(tx *Ledger) error) error {
	if l.db == nil {
		return fn(l)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Ledger{q: tx, now: l.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (l *Ledger) BeginAttempt(ctx context.Context, studentID, examID int64) (*Attempt, error) {
	a := Attempt{StudentID: studentID, ExamID: examID, StartedAt: l.now()}
	if err := l.q.QueryRowContext(ctx, `
		INSERT INTO exam_attempts (user_id, exam_id, started_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, studentID, examID, a.StartedAt).Scan(&a.ID); err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	slog.Info("attempt started", "attempt_id", a.ID, "student_id", studentID, "exam_id", examID)
	return &a, nil
}

func (l *Ledger) Get(ctx context.Context, attemptID int64) (*Attempt, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT id, user_id, exam_id, started_at, completed_at, score, total_questions
		FROM exam_attempts
		WHERE id = $1
	`, attemptID)

	var (
		a           Attempt
		completedAt sql.NullTime
		score       sql.NullInt64
		total       sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.StudentID, &a.ExamID, &a.StartedAt, &completedAt, &score, &total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		a.Score = &v
	}
	if total.Valid {
		v := int(total.Int64)
		a.TotalQuestions = &v
	}
	return &a, nil
}

// RecordAnswer stores one answer. An attempt holds at most one answer per
// question and accepts none once completed.
func (l *Ledger) RecordAnswer(ctx context.Context, attemptID, questionID, optionID int64) error {
	res, err := l.q.ExecContext(ctx, `
		INSERT INTO student_answers (exam_attempt_id, question_id, selected_option_id)
		SELECT id, CAST($2 AS BIGINT), CAST($3 AS BIGINT)
		FROM exam_attempts
		WHERE id = $1 AND completed_at IS NULL
	`, attemptID, questionID, optionID)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return ErrDuplicateAnswer
		}
		return fmt.Errorf("insert answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert answer rows: %w", err)
	}
	if n == 0 {
		if _, err := l.Get(ctx, attemptID); err != nil {
			return err
		}
		return ErrAttemptCompleted
	}
	return nil
}

// CompleteAttempt writes the score and completion time exactly once. Any later
// call, concurrent or not, gets ErrAttemptCompleted and leaves the row as the
// first caller wrote it.
func (l *Ledger) CompleteAttempt(ctx context.Context, attemptID int64, score, totalQuestions int) (*Attempt, error) {
	if totalQuestions < 0 || score < 0 || score > totalQuestions {
		return nil, ErrInvalidScore
	}

	completedAt := l.now()
	res, err := l.q.ExecContext(ctx, `
		UPDATE exam_attempts
		SET completed_at = $1, score = $2, total_questions = $3
		WHERE id = $4 AND completed_at IS NULL
	`, completedAt, score, totalQuestions, attemptID)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("complete attempt rows: %w", err)
	}
	if n == 0 {
		if _, err := l.Get(ctx, attemptID); err != nil {
			return nil, err
		}
		slog.Warn("duplicate completion refused", "attempt_id", attemptID)
		return nil, ErrAttemptCompleted
	}

	a, err := l.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	slog.Info("attempt completed", "attempt_id", attemptID, "score", score, "total_questions", totalQuestions)
	return a, nil
}

func (l *Ledger) Answers(ctx context.Context, attemptID int64) ([]Answer, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT exam_attempt_id, question_id, selected_option_id
		FROM student_answers
		WHERE exam_attempt_id = $1
		ORDER BY question_id
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedOptionID); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListCompleted returns a student's finished attempts, most recent first.
func (l *Ledger) ListCompleted(ctx context.Context, studentID int64) ([]HistoryItem, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT a.id, a.exam_id, e.title, a.score, a.total_questions, a.started_at, a.completed_at
		FROM exam_attempts a
		JOIN exams e ON e.id = a.exam_id
		WHERE a.user_id = $1 AND a.completed_at IS NOT NULL
		ORDER BY a.completed_at DESC, a.id DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryItem, 0)
	for rows.Next() {
		var h HistoryItem
		if err := rows.Scan(&h.AttemptID, &h.ExamID, &h.ExamTitle, &h.Score, &h.TotalQuestions, &h.StartedAt, &h.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (l *Ledger) CountCompleted(ctx context.Context) (int, error) {
	var n int
	if err := l.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_attempts WHERE completed_at IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completed attempts: %w", err)
	}
	return n, nil
}
