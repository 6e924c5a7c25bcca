package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"examhall/internal/attempt"
	"examhall/internal/question"
)

var (
	ErrExamNotFound        = question.ErrExamNotFound
	ErrAttemptNotFound     = attempt.ErrAttemptNotFound
	ErrAttemptForbidden    = errors.New("attempt belongs to another student")
	ErrResultNotFound      = errors.New("result not found")
	ErrQuestionNotInExam   = errors.New("question does not belong to exam")
	ErrOptionNotInQuestion = errors.New("option does not belong to question")
)

const (
	OutcomeScored      = "scored"
	OutcomeResubmitted = "resubmitted"
	OutcomeFailed      = "failed"
)

// Bank is the read side of the question store.
type Bank interface {
	GetExam(ctx context.Context, id int64) (*question.Exam, error)
	GetQuestions(ctx context.Context, examID int64) ([]question.Question, error)
	ListPublishedExams(ctx context.Context, f question.Filter) ([]question.ExamSummary, error)
}

type ProfileFilter interface {
	ExamFilter(ctx context.Context, userID int64) (question.Filter, error)
}

type SubmissionObserver interface {
	ObserveSubmission(outcome string)
}

type Config struct {
	PassPercentage int
	Profiles       ProfileFilter
	Observer       SubmissionObserver
}

type Service struct {
	bank           Bank
	ledger         *attempt.Ledger
	profiles       ProfileFilter
	observer       SubmissionObserver
	passPercentage int
}

func NewService(bank Bank, ledger *attempt.Ledger, cfg Config) *Service {
	if cfg.PassPercentage <= 0 || cfg.PassPercentage > 100 {
		cfg.PassPercentage = DefaultPassPercentage
	}
	return &Service{
		bank:           bank,
		ledger:         ledger,
		profiles:       cfg.Profiles,
		observer:       cfg.Observer,
		passPercentage: cfg.PassPercentage,
	}
}

// Paper is the student-facing exam: questions in order, no answer key.
type Paper struct {
	Exam      question.Exam       `json:"exam"`
	Questions []question.Question `json:"questions"`
}

type StartedAttempt struct {
	AttemptID       int64     `json:"attempt_id"`
	ExamID          int64     `json:"exam_id"`
	StartedAt       time.Time `json:"started_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

type Submission struct {
	AttemptID        int64        `json:"attempt_id"`
	ExamID           int64        `json:"exam_id"`
	Score            int          `json:"score"`
	TotalQuestions   int          `json:"total"`
	Percentage       int          `json:"percentage"`
	Passed           bool         `json:"passed"`
	CompletedAt      time.Time    `json:"completed_at"`
	AlreadySubmitted bool         `json:"already_submitted"`
	Items            []ItemResult `json:"items,omitempty"`
}

type ExamRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type AttemptResult struct {
	AttemptID      int64        `json:"attempt_id"`
	Exam           ExamRef      `json:"exam"`
	Score          int          `json:"score"`
	TotalQuestions int          `json:"total"`
	Percentage     int          `json:"percentage"`
	Passed         bool         `json:"passed"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    time.Time    `json:"completed_at"`
	Items          []ItemResult `json:"items"`
}

type HistoryEntry struct {
	attempt.HistoryItem
	Percentage int  `json:"percentage"`
	Passed     bool `json:"passed"`
}

type History struct {
	Attempts          []HistoryEntry `json:"attempts"`
	AveragePercentage int            `json:"average_percentage"`
}

func (s *Service) ListExams(ctx context.Context, studentID int64) ([]question.ExamSummary, error) {
	var f question.Filter
	if s.profiles != nil {
		var err error
		if f, err = s.profiles.ExamFilter(ctx, studentID); err != nil {
			return nil, fmt.Errorf("load exam filter: %w", err)
		}
	}
	return s.bank.ListPublishedExams(ctx, f)
}

// GetPaper returns a published exam with its questions. Unpublished exams
// are reported as missing.
func (s *Service) GetPaper(ctx context.Context, examID int64) (*Paper, error) {
	e, err := s.publishedExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	qs, err := s.bank.GetQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	return &Paper{Exam: *e, Questions: qs}, nil
}

func (s *Service) StartAttempt(ctx context.Context, studentID, examID int64) (*StartedAttempt, error) {
	e, err := s.publishedExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	a, err := s.ledger.BeginAttempt(ctx, studentID, examID)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(e.DurationMinutes) * time.Minute
	return &StartedAttempt{
		AttemptID:       a.ID,
		ExamID:          examID,
		StartedAt:       a.StartedAt,
		ExpiresAt:       a.StartedAt.Add(duration),
		DurationSeconds: int(duration / time.Second),
	}, nil
}

// SubmitAttempt scores answers (question id to option id) and completes the
// attempt in one transaction. Submitting a completed attempt again returns
// the stored result with AlreadySubmitted set.
func (s *Service) SubmitAttempt(ctx context.Context, studentID, attemptID int64, answers map[int64]int64) (*Submission, error) {
	a, err := s.ledger.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}

	key, err := s.answerKey(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}

	if a.Completed() {
		return s.resubmitted(ctx, a, key)
	}

	if err := validateAnswers(key, answers); err != nil {
		return nil, err
	}
	result := Score(key, answers)

	qIDs := make([]int64, 0, len(answers))
	for qID := range answers {
		qIDs = append(qIDs, qID)
	}
	sort.Slice(qIDs, func(i, j int) bool { return qIDs[i] < qIDs[j] })

	var completed *attempt.Attempt
	err = s.ledger.InTx(ctx, func(tx *attempt.Ledger) error {
		for _, qID := range qIDs {
			if err := tx.RecordAnswer(ctx, attemptID, qID, answers[qID]); err != nil {
				return err
			}
		}
		var err error
		completed, err = tx.CompleteAttempt(ctx, attemptID, result.Score, result.TotalQuestions)
		return err
	})
	if err != nil {
		if errors.Is(err, attempt.ErrAttemptCompleted) || errors.Is(err, attempt.ErrDuplicateAnswer) {
			cur, gerr := s.ledger.Get(ctx, attemptID)
			if gerr == nil && cur.Completed() {
				return s.resubmitted(ctx, cur, key)
			}
		}
		s.observe(OutcomeFailed)
		slog.Error("submit attempt failed", "attempt_id", attemptID, "error", err)
		return nil, err
	}

	s.observe(OutcomeScored)
	p := Percentage(result.Score, result.TotalQuestions)
	return &Submission{
		AttemptID:      attemptID,
		ExamID:         a.ExamID,
		Score:          result.Score,
		TotalQuestions: result.TotalQuestions,
		Percentage:     p,
		Passed:         Passed(p, s.passPercentage),
		CompletedAt:    *completed.CompletedAt,
		Items:          result.Items,
	}, nil
}

// SubmitExam begins and submits an attempt in one call.
func (s *Service) SubmitExam(ctx context.Context, studentID, examID int64, answers map[int64]int64) (*Submission, error) {
	if _, err := s.publishedExam(ctx, examID); err != nil {
		return nil, err
	}
	key, err := s.answerKey(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := validateAnswers(key, answers); err != nil {
		return nil, err
	}
	a, err := s.ledger.BeginAttempt(ctx, studentID, examID)
	if err != nil {
		return nil, err
	}
	return s.SubmitAttempt(ctx, studentID, a.ID, answers)
}

// GetResult is visible to the attempt's owner and to admins.
func (s *Service) GetResult(ctx context.Context, userID int64, isAdmin bool, attemptID int64) (*AttemptResult, error) {
	a, err := s.ledger.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, attempt.ErrAttemptNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	if !isAdmin && a.StudentID != userID {
		return nil, ErrAttemptForbidden
	}
	if !a.Completed() {
		return nil, ErrResultNotFound
	}

	e, err := s.bank.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	items, err := s.review(ctx, a)
	if err != nil {
		return nil, err
	}

	score, total := *a.Score, *a.TotalQuestions
	p := Percentage(score, total)
	return &AttemptResult{
		AttemptID:      a.ID,
		Exam:           ExamRef{ID: e.ID, Title: e.Title},
		Score:          score,
		TotalQuestions: total,
		Percentage:     p,
		Passed:         Passed(p, s.passPercentage),
		StartedAt:      a.StartedAt,
		CompletedAt:    *a.CompletedAt,
		Items:          items,
	}, nil
}

func (s *Service) History(ctx context.Context, studentID int64) (*History, error) {
	items, err := s.ledger.ListCompleted(ctx, studentID)
	if err != nil {
		return nil, err
	}
	h := &History{Attempts: make([]HistoryEntry, 0, len(items))}
	sum := 0
	for _, it := range items {
		p := Percentage(it.Score, it.TotalQuestions)
		sum += p
		h.Attempts = append(h.Attempts, HistoryEntry{HistoryItem: it, Percentage: p, Passed: Passed(p, s.passPercentage)})
	}
	h.AveragePercentage = Percentage(sum, len(items)*100)
	return h, nil
}

func (s *Service) publishedExam(ctx context.Context, examID int64) (*question.Exam, error) {
	e, err := s.bank.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !e.IsPublished {
		return nil, ErrExamNotFound
	}
	return e, nil
}

func (s *Service) answerKey(ctx context.Context, examID int64) (*AnswerKey, error) {
	qs, err := s.bank.GetQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	return NewAnswerKey(examID, len(qs), qs)
}

func (s *Service) resubmitted(ctx context.Context, a *attempt.Attempt, key *AnswerKey) (*Submission, error) {
	items, err := s.reviewWithKey(ctx, a, key)
	if err != nil {
		return nil, err
	}
	s.observe(OutcomeResubmitted)
	score, total := *a.Score, *a.TotalQuestions
	p := Percentage(score, total)
	return &Submission{
		AttemptID:        a.ID,
		ExamID:           a.ExamID,
		Score:            score,
		TotalQuestions:   total,
		Percentage:       p,
		Passed:           Passed(p, s.passPercentage),
		CompletedAt:      *a.CompletedAt,
		AlreadySubmitted: true,
		Items:            items,
	}, nil
}

func (s *Service) review(ctx context.Context, a *attempt.Attempt) ([]ItemResult, error) {
	key, err := s.answerKey(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	return s.reviewWithKey(ctx, a, key)
}

// reviewWithKey regrades stored answers for display. The stored score stays
// authoritative.
func (s *Service) reviewWithKey(ctx context.Context, a *attempt.Attempt, key *AnswerKey) ([]ItemResult, error) {
	stored, err := s.ledger.Answers(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	answers := make(map[int64]int64, len(stored))
	for _, ans := range stored {
		answers[ans.QuestionID] = ans.SelectedOptionID
	}
	return Score(key, answers).Items, nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveSubmission(outcome)
	}
}

// validateAnswers rejects entries the ledger could not store coherently.
func validateAnswers(key *AnswerKey, answers map[int64]int64) error {
	for qID, optID := range answers {
		if !key.HasQuestion(qID) {
			return fmt.Errorf("question %d: %w", qID, ErrQuestionNotInExam)
		}
		if !key.HasOption(qID, optID) {
			return fmt.Errorf("question %d option %d: %w", qID, optID, ErrOptionNotInQuestion)
		}
	}
	return nil
}
