package question

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	internaldb "examhall/internal/db"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	conn, err := internaldb.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn), conn
}

func sampleDraft(title string, questions int) ExamDraft {
	d := ExamDraft{Title: title, Description: "desc", DurationMinutes: 10, Publish: true}
	for i := 0; i < questions; i++ {
		d.Questions = append(d.Questions, QuestionDraft{
			Text: "question",
			Options: []OptionDraft{
				{Text: "a", IsCorrect: true},
				{Text: "b"},
				{Text: "c"},
				{Text: "d"},
			},
		})
	}
	return d
}

func TestCreateExamAndGetQuestions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	exam, err := s.CreateExam(ctx, sampleDraft("  Math  ", 3))
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if exam.Title != "Math" || exam.TotalQuestions != 3 || !exam.IsPublished {
		t.Fatalf("unexpected exam: %+v", exam)
	}

	got, err := s.GetExam(ctx, exam.ID)
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if got.DurationMinutes != 10 || got.Description != "desc" {
		t.Fatalf("unexpected stored exam: %+v", got)
	}

	qs, err := s.GetQuestions(ctx, exam.ID)
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	for i, q := range qs {
		if q.Position != i+1 {
			t.Fatalf("question %d position=%d", i, q.Position)
		}
		if len(q.Options) != 4 {
			t.Fatalf("question %d expected 4 options, got %d", i, len(q.Options))
		}
		correct, err := q.CorrectOption()
		if err != nil {
			t.Fatalf("correct option: %v", err)
		}
		if correct.Text != "a" || correct.Position != 1 {
			t.Fatalf("unexpected correct option: %+v", correct)
		}
	}

	n, err := s.CountQuestions(ctx, exam.ID)
	if err != nil || n != 3 {
		t.Fatalf("count questions = %d, %v", n, err)
	}
}

func TestGetExamNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.GetExam(context.Background(), 404); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
	if _, err := s.GetQuestions(context.Background(), 404); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound from GetQuestions, got %v", err)
	}
}

func TestCreateExamRejectsInvalidDraftAtomically(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	d := sampleDraft("Broken", 2)
	d.Questions[1].Options[1].IsCorrect = true

	_, err := s.CreateExam(ctx, d)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, ErrInvalidExam) {
		t.Fatalf("validation error should unwrap to ErrInvalidExam")
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams`).Scan(&n); err != nil {
		t.Fatalf("count exams: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no exam rows after rejected draft, got %d", n)
	}
}

func TestGetQuestionsRejectsCorruptAnswerKey(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	exam, err := s.CreateExam(ctx, sampleDraft("Corrupt", 1))
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE answer_options SET is_correct = $1`, true); err != nil {
		t.Fatalf("corrupt options: %v", err)
	}

	if _, err := s.GetQuestions(ctx, exam.ID); !errors.Is(err, ErrInvalidAnswerKey) {
		t.Fatalf("expected ErrInvalidAnswerKey, got %v", err)
	}
}

func TestListPublishedExamsFiltersAndOrders(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hidden := sampleDraft("Hidden", 1)
	hidden.Publish = false
	if _, err := s.CreateExam(ctx, hidden); err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	general, err := s.CreateExam(ctx, sampleDraft("General", 1))
	if err != nil {
		t.Fatalf("create general: %v", err)
	}
	scoped := sampleDraft("Grade 4 Math", 2)
	scoped.Grade = "primary-4"
	scoped.Subject = "math"
	scopedExam, err := s.CreateExam(ctx, scoped)
	if err != nil {
		t.Fatalf("create scoped: %v", err)
	}

	all, err := s.ListPublishedExams(ctx, Filter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].ID != scopedExam.ID || all[1].ID != general.ID {
		t.Fatalf("unexpected unfiltered list: %+v", all)
	}

	other, err := s.ListPublishedExams(ctx, Filter{Grade: "prep-1", Subject: "math"})
	if err != nil {
		t.Fatalf("list other grade: %v", err)
	}
	if len(other) != 1 || other[0].ID != general.ID {
		t.Fatalf("expected only the unscoped exam, got %+v", other)
	}

	match, err := s.ListPublishedExams(ctx, Filter{Grade: "primary-4", Subject: "math"})
	if err != nil {
		t.Fatalf("list matching: %v", err)
	}
	if len(match) != 2 {
		t.Fatalf("expected both exams for matching profile, got %+v", match)
	}

	admin, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("list exams: %v", err)
	}
	if len(admin) != 3 {
		t.Fatalf("admin list should include unpublished exams, got %d", len(admin))
	}
}
