package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"examhall/internal/exam"
	"examhall/internal/question"
)

var (
	ErrNotReady           = errors.New("session is not ready")
	ErrSubmitInProgress   = errors.New("submission already in progress")
	ErrAlreadySubmitted   = errors.New("session already submitted")
	ErrUnknownQuestion    = errors.New("question is not part of this exam")
	ErrUnknownOption      = errors.New("option is not part of this question")
	ErrAlreadyInitialized = errors.New("session already initialized")
)

type State int

const (
	StateLoading State = iota
	StateReady
	StateSubmitting
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is the server side of a sitting. The student is implied by the
// backend's credentials.
type Backend interface {
	GetPaper(ctx context.Context, examID int64) (*exam.Paper, error)
	StartAttempt(ctx context.Context, examID int64) (*exam.StartedAttempt, error)
	SubmitAttempt(ctx context.Context, attemptID int64, answers map[int64]int64) (*exam.Submission, error)
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

type trigger string

const (
	triggerManual  trigger = "manual"
	triggerTimeout trigger = "timeout"
)

// Progress is a snapshot of navigation and answering.
type Progress struct {
	Index    int `json:"index"`
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// Controller runs one student's sitting of one exam. Methods are safe for
// concurrent use; the timer and user actions share a single submission latch.
type Controller struct {
	backend Backend
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	studentID  int64
	paper      *exam.Paper
	attemptID  int64
	remaining  int
	index      int
	answers    map[int64]int64
	timerFired bool
	result     *exam.Submission

	initializing bool
	done       chan struct{}
}

func New(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		log:     slog.Default(),
		state:   StateLoading,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize loads the paper, opens an attempt and arms the countdown.
// Unpublished or missing exams fail with exam.ErrExamNotFound.
func (c *Controller) Initialize(ctx context.Context, examID, studentID int64) error {
	c.mu.Lock()
	if c.state != StateLoading || c.initializing {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.initializing = true
	c.mu.Unlock()

	paper, err := c.backend.GetPaper(ctx, examID)
	if err != nil {
		c.abortInitialize()
		return fmt.Errorf("load paper: %w", err)
	}
	started, err := c.backend.StartAttempt(ctx, examID)
	if err != nil {
		c.abortInitialize()
		return fmt.Errorf("start attempt: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializing = false
	c.paper = paper
	c.studentID = studentID
	c.attemptID = started.AttemptID
	c.remaining = paper.Exam.DurationMinutes * 60
	c.index = 0
	c.answers = make(map[int64]int64, len(paper.Questions))
	c.state = StateReady
	c.log.Info("session ready",
		"exam_id", examID, "student_id", studentID, "attempt_id", started.AttemptID,
		"questions", len(paper.Questions), "remaining_seconds", c.remaining)
	return nil
}

// abortInitialize lets a later Initialize retry after a failed load.
func (c *Controller) abortInitialize() {
	c.mu.Lock()
	c.initializing = false
	c.mu.Unlock()
}

// SelectAnswer records or overwrites the choice for a question.
func (c *Controller) SelectAnswer(questionID, optionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateLoading:
		return ErrNotReady
	case StateSubmitting:
		return ErrSubmitInProgress
	case StateSubmitted:
		return ErrAlreadySubmitted
	}
	q, ok := c.question(questionID)
	if !ok {
		return fmt.Errorf("question %d: %w", questionID, ErrUnknownQuestion)
	}
	if !q.HasOption(optionID) {
		return fmt.Errorf("question %d option %d: %w", questionID, optionID, ErrUnknownOption)
	}
	c.answers[questionID] = optionID
	return nil
}

// Answer returns the buffered choice for a question.
func (c *Controller) Answer(questionID int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	opt, ok := c.answers[questionID]
	return opt, ok
}

func (c *Controller) Next() int { return c.move(func(i int) int { return i + 1 }) }

func (c *Controller) Prev() int { return c.move(func(i int) int { return i - 1 }) }

func (c *Controller) GoTo(i int) int { return c.move(func(int) int { return i }) }

func (c *Controller) move(step func(int) int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paper == nil {
		return 0
	}
	c.index = clamp(step(c.index), len(c.paper.Questions))
	return c.index
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// Tick advances the countdown by one second. When it reaches zero the
// attempt is submitted once; a failed timeout submission is returned and the
// timer stays disarmed.
func (c *Controller) Tick(ctx context.Context) (*exam.Submission, error) {
	c.mu.Lock()
	if c.state != StateReady && c.state != StateSubmitting {
		c.mu.Unlock()
		return nil, nil
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining > 0 || c.timerFired || c.state != StateReady {
		c.mu.Unlock()
		return nil, nil
	}
	c.timerFired = true
	attemptID, answers := c.beginSubmitLocked()
	c.mu.Unlock()

	return c.finishSubmit(ctx, triggerTimeout, attemptID, answers)
}

// Submit sends the answer buffer. A failure leaves the session Ready so the
// caller can retry.
func (c *Controller) Submit(ctx context.Context) (*exam.Submission, error) {
	c.mu.Lock()
	switch c.state {
	case StateLoading:
		c.mu.Unlock()
		return nil, ErrNotReady
	case StateSubmitting:
		c.mu.Unlock()
		return nil, ErrSubmitInProgress
	case StateSubmitted:
		res := c.result
		c.mu.Unlock()
		return res, ErrAlreadySubmitted
	}
	attemptID, answers := c.beginSubmitLocked()
	c.mu.Unlock()

	return c.finishSubmit(ctx, triggerManual, attemptID, answers)
}

// beginSubmitLocked closes the latch and snapshots the buffer. c.mu must be held.
func (c *Controller) beginSubmitLocked() (int64, map[int64]int64) {
	c.state = StateSubmitting
	answers := make(map[int64]int64, len(c.answers))
	for q, o := range c.answers {
		answers[q] = o
	}
	return c.attemptID, answers
}

func (c *Controller) finishSubmit(ctx context.Context, t trigger, attemptID int64, answers map[int64]int64) (*exam.Submission, error) {
	sub, err := c.backend.SubmitAttempt(ctx, attemptID, answers)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateReady
		c.log.Warn("session submit failed",
			"attempt_id", attemptID, "trigger", string(t), "answers", len(answers), "error", err)
		return nil, fmt.Errorf("submit attempt %d: %w", attemptID, err)
	}
	c.state = StateSubmitted
	c.result = sub
	c.answers = nil
	close(c.done)
	c.log.Info("session submitted",
		"attempt_id", attemptID, "trigger", string(t), "score", sub.Score, "total", sub.TotalQuestions)
	return sub, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining never goes below zero.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.remaining) * time.Second
}

// Current returns the question under the pointer.
func (c *Controller) Current() (question.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paper == nil || len(c.paper.Questions) == 0 {
		return question.Question{}, false
	}
	return c.paper.Questions[c.index], true
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{Index: c.index, Answered: len(c.answers)}
	if c.paper != nil {
		p.Total = len(c.paper.Questions)
	}
	return p
}

// AttemptID is zero until Initialize succeeds.
func (c *Controller) AttemptID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptID
}

// Result is nil until the session is submitted.
func (c *Controller) Result() *exam.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Done is closed once the session reaches Submitted.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) question(id int64) (question.Question, bool) {
	for _, q := range c.paper.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return question.Question{}, false
}
