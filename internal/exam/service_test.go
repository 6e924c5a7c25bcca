package exam

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"examhall/internal/attempt"
	internaldb "examhall/internal/db"
	"examhall/internal/question"
)

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveSubmission(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[outcome]++
}

func (o *countingObserver) get(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

type fixture struct {
	db       *sql.DB
	store    *question.Store
	svc      *Service
	observer *countingObserver
	student  int64
	other    int64
	exam     *question.Exam
	qs       []question.Question
}

func newFixture(t *testing.T, questions int) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := internaldb.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, store: question.NewStore(db), observer: &countingObserver{}}
	f.student = seedUser(t, db, "student@example.com")
	f.other = seedUser(t, db, "other@example.com")

	d := question.ExamDraft{Title: "Math", DurationMinutes: 15, Publish: true}
	for i := 0; i < questions; i++ {
		d.Questions = append(d.Questions, question.QuestionDraft{
			Text: "q",
			Options: []question.OptionDraft{
				{Text: "right", IsCorrect: true},
				{Text: "wrong 1"},
				{Text: "wrong 2"},
				{Text: "wrong 3"},
			},
		})
	}
	if f.exam, err = f.store.CreateExam(ctx, d); err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if f.qs, err = f.store.GetQuestions(ctx, f.exam.ID); err != nil {
		t.Fatalf("get questions: %v", err)
	}
	f.svc = NewService(f.store, attempt.NewLedger(db), Config{Observer: f.observer})
	return f
}

func seedUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	var id int64
	if err := db.QueryRow(`
		INSERT INTO users (email, password_hash, full_name, role, created_at)
		VALUES ($1, 'x', 'Student', 'student', $2)
		RETURNING id
	`, email, time.Now().UTC()).Scan(&id); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func (f *fixture) right(i int) (int64, int64) { return f.qs[i].ID, f.qs[i].Options[0].ID }
func (f *fixture) wrong(i int) (int64, int64) { return f.qs[i].ID, f.qs[i].Options[2].ID }

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestSubmitThreeQuestionScenario(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, f.student, f.exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.DurationSeconds != 15*60 || !started.ExpiresAt.Equal(started.StartedAt.Add(15*time.Minute)) {
		t.Fatalf("unexpected timing: %+v", started)
	}

	q1, o1 := f.right(0)
	q2, o2 := f.wrong(1)
	sub, err := f.svc.SubmitAttempt(ctx, f.student, started.AttemptID, map[int64]int64{q1: o1, q2: o2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Score != 1 || sub.TotalQuestions != 3 || sub.Percentage != 33 || sub.Passed {
		t.Fatalf("expected {1,3} 33%% failed, got %+v", sub)
	}
	if sub.AlreadySubmitted {
		t.Fatalf("first submit must not be flagged as resubmitted")
	}

	if n := countRows(t, f.db, `SELECT COUNT(*) FROM exam_attempts WHERE id = $1 AND completed_at IS NOT NULL`, started.AttemptID); n != 1 {
		t.Fatalf("expected attempt completed once, got %d", n)
	}
	if n := countRows(t, f.db, `SELECT COUNT(*) FROM student_answers WHERE exam_attempt_id = $1`, started.AttemptID); n != 2 {
		t.Fatalf("expected 2 stored answers, got %d", n)
	}

	res, err := f.svc.GetResult(ctx, f.student, false, started.AttemptID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if res.Exam.Title != "Math" || res.Score != 1 || res.TotalQuestions != 3 || res.Percentage != 33 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Items) != 3 || res.Items[2].Reason != ReasonUnanswered {
		t.Fatalf("expected review items, got %+v", res.Items)
	}
	if f.observer.get(OutcomeScored) != 1 {
		t.Fatalf("expected one scored submission")
	}
}

func TestSubmitTwiceCompletesOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, f.student, f.exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	q1, o1 := f.right(0)
	q2, o2 := f.right(1)
	q2w, o2w := f.wrong(1)

	var wg sync.WaitGroup
	results := make([]*Submission, 2)
	errs := make([]error, 2)
	answers := []map[int64]int64{{q1: o1, q2: o2}, {q1: o1, q2w: o2w}}
	for i := range answers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.SubmitAttempt(ctx, f.student, started.AttemptID, answers[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if results[0].Score != results[1].Score {
		t.Fatalf("both callers must see the same final score, got %d and %d", results[0].Score, results[1].Score)
	}
	if results[0].AlreadySubmitted == results[1].AlreadySubmitted {
		t.Fatalf("exactly one submit must be the original, got %v and %v", results[0].AlreadySubmitted, results[1].AlreadySubmitted)
	}
	if n := countRows(t, f.db, `SELECT COUNT(*) FROM student_answers WHERE exam_attempt_id = $1`, started.AttemptID); n != 2 {
		t.Fatalf("expected answers from one submission only, got %d", n)
	}
	if f.observer.get(OutcomeScored) != 1 || f.observer.get(OutcomeResubmitted) != 1 {
		t.Fatalf("unexpected outcomes: %+v", f.observer.counts)
	}
}

// phantomBank appends an option the database does not know about, so storing
// an answer that picks it fails inside the transaction.
type phantomBank struct {
	*question.Store
	phantom int64
}

func (b *phantomBank) GetQuestions(ctx context.Context, examID int64) ([]question.Question, error) {
	qs, err := b.Store.GetQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	last := &qs[len(qs)-1]
	last.Options = append(last.Options, question.Option{ID: b.phantom, QuestionID: last.ID, Position: 99, Text: "ghost"})
	return qs, nil
}

func TestFailedSubmitLeavesNoPartialRows(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	const phantom = 987654
	svc := NewService(&phantomBank{Store: f.store, phantom: phantom}, attempt.NewLedger(f.db), Config{Observer: f.observer})

	started, err := svc.StartAttempt(ctx, f.student, f.exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	q1, o1 := f.right(0)
	q2, o2 := f.right(1)
	q3 := f.qs[2].ID

	if _, err := svc.SubmitAttempt(ctx, f.student, started.AttemptID, map[int64]int64{q1: o1, q2: o2, q3: phantom}); err == nil {
		t.Fatalf("expected storage failure")
	}
	if n := countRows(t, f.db, `SELECT COUNT(*) FROM student_answers WHERE exam_attempt_id = $1`, started.AttemptID); n != 0 {
		t.Fatalf("expected rollback to remove answers, got %d", n)
	}
	if n := countRows(t, f.db, `SELECT COUNT(*) FROM exam_attempts WHERE id = $1 AND completed_at IS NULL`, started.AttemptID); n != 1 {
		t.Fatalf("expected attempt still in progress")
	}
	if f.observer.get(OutcomeFailed) != 1 {
		t.Fatalf("expected failed outcome to be observed")
	}

	q3r, o3r := f.right(2)
	sub, err := svc.SubmitAttempt(ctx, f.student, started.AttemptID, map[int64]int64{q1: o1, q2: o2, q3r: o3r})
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if sub.Score != 3 {
		t.Fatalf("expected retry to score 3, got %d", sub.Score)
	}
}

func TestSubmitRejectsForeignAnswers(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, f.student, f.exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	q1, _ := f.right(0)
	_, o2 := f.right(1)

	if _, err := f.svc.SubmitAttempt(ctx, f.student, started.AttemptID, map[int64]int64{q1: o2}); !errors.Is(err, ErrOptionNotInQuestion) {
		t.Fatalf("expected ErrOptionNotInQuestion, got %v", err)
	}
	if _, err := f.svc.SubmitAttempt(ctx, f.student, started.AttemptID, map[int64]int64{424242: 1}); !errors.Is(err, ErrQuestionNotInExam) {
		t.Fatalf("expected ErrQuestionNotInExam, got %v", err)
	}
	if _, err := f.svc.SubmitAttempt(ctx, f.other, started.AttemptID, nil); !errors.Is(err, ErrAttemptForbidden) {
		t.Fatalf("expected ErrAttemptForbidden, got %v", err)
	}
}

func TestEmptySubmissionScoresZero(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	sub, err := f.svc.SubmitExam(ctx, f.student, f.exam.ID, nil)
	if err != nil {
		t.Fatalf("submit exam: %v", err)
	}
	if sub.Score != 0 || sub.TotalQuestions != 4 {
		t.Fatalf("expected {0,4}, got {%d,%d}", sub.Score, sub.TotalQuestions)
	}
}

func TestUnpublishedExamIsNotFound(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	if _, err := f.db.Exec(`UPDATE exams SET is_published = $1 WHERE id = $2`, false, f.exam.ID); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if _, err := f.svc.GetPaper(ctx, f.exam.ID); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound for paper, got %v", err)
	}
	if _, err := f.svc.StartAttempt(ctx, f.student, f.exam.ID); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound for start, got %v", err)
	}
	if _, err := f.svc.GetPaper(ctx, 9999); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound for missing exam, got %v", err)
	}
}

func TestGetResultVisibility(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, f.student, f.exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.GetResult(ctx, f.student, false, started.AttemptID); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected in-progress attempt to have no result, got %v", err)
	}
	if _, err := f.svc.SubmitAttempt(ctx, f.student, started.AttemptID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.GetResult(ctx, f.other, false, started.AttemptID); !errors.Is(err, ErrAttemptForbidden) {
		t.Fatalf("expected ErrAttemptForbidden for other student, got %v", err)
	}
	if _, err := f.svc.GetResult(ctx, f.other, true, started.AttemptID); err != nil {
		t.Fatalf("admin must see any result: %v", err)
	}
	if _, err := f.svc.GetResult(ctx, f.student, false, 777); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound for missing attempt, got %v", err)
	}
}

func TestHistoryAverage(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	q1, o1 := f.right(0)
	q2, o2 := f.right(1)
	if _, err := f.svc.SubmitExam(ctx, f.student, f.exam.ID, map[int64]int64{q1: o1, q2: o2}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if _, err := f.svc.SubmitExam(ctx, f.student, f.exam.ID, map[int64]int64{q1: o1}); err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if _, err := f.svc.StartAttempt(ctx, f.student, f.exam.ID); err != nil {
		t.Fatalf("start unfinished: %v", err)
	}

	h, err := f.svc.History(ctx, f.student)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Attempts) != 2 {
		t.Fatalf("expected 2 completed attempts, got %d", len(h.Attempts))
	}
	if h.AveragePercentage != 75 {
		t.Fatalf("expected average 75, got %d", h.AveragePercentage)
	}

	empty, err := f.svc.History(ctx, f.other)
	if err != nil || len(empty.Attempts) != 0 || empty.AveragePercentage != 0 {
		t.Fatalf("expected empty history, got %+v, %v", empty, err)
	}
}
