package report

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"examhall/internal/exam"
	"examhall/internal/question"
)

type attemptCounter interface {
	CountCompleted(ctx context.Context) (int, error)
}

type examLookup interface {
	GetExam(ctx context.Context, id int64) (*question.Exam, error)
}

type Service struct {
	db             *sql.DB
	attempts       attemptCounter
	exams          examLookup
	passPercentage int
}

type Stats struct {
	TotalExams    int `json:"total_exams"`
	TotalStudents int `json:"total_students"`
	TotalAttempts int `json:"total_attempts"`
}

// ExamSummary aggregates completed attempts. Percentages are whole numbers.
type ExamSummary struct {
	ExamID            int64  `json:"exam_id"`
	Title             string `json:"title"`
	Participants      int    `json:"participants"`
	Attempts          int    `json:"attempts"`
	AveragePercentage int    `json:"average_percentage"`
	HighestPercentage int    `json:"highest_percentage"`
	LowestPercentage  int    `json:"lowest_percentage"`
	Passed            int    `json:"passed"`
}

// ResultRow is one completed attempt of an exam.
type ResultRow struct {
	AttemptID   int64
	StudentID   int64
	FullName    string
	Email       string
	Score       int
	Total       int
	StartedAt   time.Time
	CompletedAt time.Time
}

func NewService(db *sql.DB, attempts attemptCounter, exams examLookup, passPercentage int) *Service {
	if passPercentage <= 0 || passPercentage > 100 {
		passPercentage = exam.DefaultPassPercentage
	}
	return &Service{db: db, attempts: attempts, exams: exams, passPercentage: passPercentage}
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams`).Scan(&st.TotalExams); err != nil {
		return nil, fmt.Errorf("count exams: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'student'`).Scan(&st.TotalStudents); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}
	n, err := s.attempts.CountCompleted(ctx)
	if err != nil {
		return nil, err
	}
	st.TotalAttempts = n
	return &st, nil
}

func (s *Service) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Results(ctx, examID)
	if err != nil {
		return nil, err
	}

	sum := &ExamSummary{ExamID: e.ID, Title: e.Title, Attempts: len(rows)}
	if len(rows) == 0 {
		return sum, nil
	}
	students := make(map[int64]struct{}, len(rows))
	total := 0
	sum.LowestPercentage = 100
	for _, r := range rows {
		students[r.StudentID] = struct{}{}
		p := exam.Percentage(r.Score, r.Total)
		total += p
		sum.HighestPercentage = max(sum.HighestPercentage, p)
		sum.LowestPercentage = min(sum.LowestPercentage, p)
		if exam.Passed(p, s.passPercentage) {
			sum.Passed++
		}
	}
	sum.Participants = len(students)
	sum.AveragePercentage = exam.Percentage(total, len(rows)*100)
	return sum, nil
}

// Results lists completed attempts of an exam, best score first.
func (s *Service) Results(ctx context.Context, examID int64) ([]ResultRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, u.id, u.full_name, u.email, a.score, a.total_questions, a.started_at, a.completed_at
		FROM exam_attempts a
		JOIN users u ON u.id = a.user_id
		WHERE a.exam_id = $1 AND a.completed_at IS NOT NULL
		ORDER BY a.score DESC, a.completed_at ASC, a.id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]ResultRow, 0)
	for rows.Next() {
		var r ResultRow
		if err := rows.Scan(&r.AttemptID, &r.StudentID, &r.FullName, &r.Email, &r.Score, &r.Total, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var exportHeader = []string{"Attempt", "Student", "Email", "Score", "Total", "Percentage", "Passed", "Started", "Completed"}

// ExportResults renders Results as an xlsx workbook with one row per attempt.
func (s *Service) ExportResults(ctx context.Context, examID int64) ([]byte, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Results(ctx, examID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := "Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, r := range rows {
		p := exam.Percentage(r.Score, r.Total)
		passed := "no"
		if exam.Passed(p, s.passPercentage) {
			passed = "yes"
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("row %d cell: %w", i+2, err)
		}
		values := []any{
			r.AttemptID, r.FullName, r.Email, r.Score, r.Total, p, passed,
			r.StartedAt.UTC().Format(time.RFC3339), r.CompletedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := layoutResults(f, sheet, e.Title); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func layoutResults(f *excelize.File, sheet, title string) error {
	for _, w := range []struct {
		from, to string
		width    float64
	}{
		{"B", "C", 28},
		{"H", "I", 22},
	} {
		if err := f.SetColWidth(sheet, w.from, w.to, w.width); err != nil {
			return fmt.Errorf("set column width %s:%s: %w", w.from, w.to, err)
		}
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: title, Creator: "examhall"}); err != nil {
		return fmt.Errorf("set doc props: %w", err)
	}
	return nil
}
