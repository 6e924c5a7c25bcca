package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Store struct {
	db *sql.DB
}

type Filter struct {
	Grade   string
	Subject string
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetExam(ctx context.Context, id int64) (*Exam, error) {
	return getExam(ctx, s.db, id)
}

func getExam(ctx context.Context, q queryable, id int64) (*Exam, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, description, total_questions, duration_minutes, is_published, grade, subject, created_at
		FROM exams
		WHERE id = $1
	`, id)

	var (
		e              Exam
		grade, subject sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.TotalQuestions, &e.DurationMinutes, &e.IsPublished, &grade, &subject, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("query exam: %w", err)
	}
	e.Grade = grade.String
	e.Subject = subject.String
	return &e, nil
}

// GetQuestions returns the exam's questions in display order, each with its
// options in display order.
func (s *Store) GetQuestions(ctx context.Context, examID int64) ([]Question, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.position, q.text, o.id, o.position, o.option_text, o.is_correct
		FROM questions q
		LEFT JOIN answer_options o ON o.question_id = q.id
		WHERE q.exam_id = $1
		ORDER BY q.position, q.id, o.position, o.id
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var drafts []Question
	for rows.Next() {
		var (
			qID      int64
			qPos     int
			qText    string
			oID      sql.NullInt64
			oPos     sql.NullInt64
			oText    sql.NullString
			oCorrect sql.NullBool
		)
		if err := rows.Scan(&qID, &qPos, &qText, &oID, &oPos, &oText, &oCorrect); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if n := len(drafts); n == 0 || drafts[n-1].ID != qID {
			drafts = append(drafts, Question{ID: qID, ExamID: examID, Position: qPos, Text: qText, Options: []Option{}})
		}
		if oID.Valid {
			cur := &drafts[len(drafts)-1]
			cur.Options = append(cur.Options, Option{
				ID:         oID.Int64,
				QuestionID: qID,
				Position:   int(oPos.Int64),
				Text:       oText.String,
				IsCorrect:  oCorrect.Bool,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	out := make([]Question, 0, len(drafts))
	for _, d := range drafts {
		q, err := NewQuestion(d.ID, d.ExamID, d.Position, d.Text, d.Options)
		if err != nil {
			return nil, fmt.Errorf("exam %d: %w", examID, err)
		}
		out = append(out, q)
	}
	return out, nil
}

// ListPublishedExams returns published exams, newest first. An exam without a
// grade or subject matches any filter value.
func (s *Store) ListPublishedExams(ctx context.Context, f Filter) ([]ExamSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, total_questions, duration_minutes
		FROM exams
		WHERE is_published = $1
		  AND ($2 = '' OR grade IS NULL OR grade = $2)
		  AND ($3 = '' OR subject IS NULL OR subject = $3)
		ORDER BY created_at DESC, id DESC
	`, true, strings.TrimSpace(f.Grade), strings.TrimSpace(f.Subject))
	if err != nil {
		return nil, fmt.Errorf("query published exams: %w", err)
	}
	defer rows.Close()

	out := make([]ExamSummary, 0)
	for rows.Next() {
		var e ExamSummary
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.TotalQuestions, &e.DurationMinutes); err != nil {
			return nil, fmt.Errorf("scan published exam: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published exams: %w", err)
	}
	return out, nil
}

// ListExams returns every exam regardless of publication, newest first.
func (s *Store) ListExams(ctx context.Context) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, total_questions, duration_minutes, is_published, grade, subject, created_at
		FROM exams
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		var (
			e              Exam
			grade, subject sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.TotalQuestions, &e.DurationMinutes, &e.IsPublished, &grade, &subject, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		e.Grade = grade.String
		e.Subject = subject.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *Store) CountQuestions(ctx context.Context, examID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

// CreateExam stores the draft with all of its questions and options in one
// transaction. total_questions is taken from the draft.
func (s *Store) CreateExam(ctx context.Context, d ExamDraft) (*Exam, error) {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exam := Exam{
		Title:           d.Title,
		Description:     d.Description,
		TotalQuestions:  len(d.Questions),
		DurationMinutes: d.DurationMinutes,
		IsPublished:     d.Publish,
		Grade:           d.Grade,
		Subject:         d.Subject,
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO exams (title, description, total_questions, duration_minutes, is_published, grade, subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, exam.Title, exam.Description, exam.TotalQuestions, exam.DurationMinutes, exam.IsPublished,
		nullableString(exam.Grade), nullableString(exam.Subject), exam.CreatedAt).Scan(&exam.ID); err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}

	for i, q := range d.Questions {
		var questionID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO questions (exam_id, position, text)
			VALUES ($1, $2, $3)
			RETURNING id
		`, exam.ID, i+1, q.Text).Scan(&questionID); err != nil {
			return nil, fmt.Errorf("insert question %d: %w", i+1, err)
		}
		for j, o := range q.Options {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO answer_options (question_id, position, option_text, is_correct)
				VALUES ($1, $2, $3, $4)
			`, questionID, j+1, o.Text, o.IsCorrect); err != nil {
				return nil, fmt.Errorf("insert option %d of question %d: %w", j+1, i+1, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit exam: %w", err)
	}

	slog.Info("exam created", "exam_id", exam.ID, "questions", exam.TotalQuestions, "published", exam.IsPublished)
	return &exam, nil
}

func nullableString(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
