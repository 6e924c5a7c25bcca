package question

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrInvalidExam      = errors.New("invalid exam")
	ErrInvalidAnswerKey = errors.New("question must have exactly one correct option")
)

type Exam struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	TotalQuestions  int       `json:"total_questions"`
	DurationMinutes int       `json:"duration_minutes"`
	IsPublished     bool      `json:"is_published"`
	Grade           string    `json:"grade,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExamSummary is the student-facing listing row.
type ExamSummary struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	TotalQuestions  int    `json:"total_questions"`
	DurationMinutes int    `json:"duration_minutes"`
}

type Question struct {
	ID       int64    `json:"id"`
	ExamID   int64    `json:"exam_id"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
	Options  []Option `json:"options"`
}

// Option never serializes its correctness flag; only the scoring side reads it.
type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Position   int    `json:"position"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"-"`
}

// NewQuestion builds a Question and rejects option sets that do not carry
// exactly one correct option.
func NewQuestion(id, examID int64, position int, text string, options []Option) (Question, error) {
	q := Question{ID: id, ExamID: examID, Position: position, Text: text, Options: options}
	if _, err := q.CorrectOption(); err != nil {
		return Question{}, err
	}
	return q, nil
}

func (q Question) CorrectOption() (Option, error) {
	var (
		found Option
		n     int
	)
	for _, o := range q.Options {
		if o.IsCorrect {
			found = o
			n++
		}
	}
	if n != 1 {
		return Option{}, fmt.Errorf("question %d has %d correct options: %w", q.ID, n, ErrInvalidAnswerKey)
	}
	return found, nil
}

func (q Question) HasOption(optionID int64) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

type ExamDraft struct {
	Title           string          `json:"title" yaml:"title"`
	Description     string          `json:"description" yaml:"description"`
	DurationMinutes int             `json:"durationMinutes" yaml:"duration_minutes"`
	Publish         bool            `json:"publish" yaml:"publish"`
	Grade           string          `json:"grade,omitempty" yaml:"grade,omitempty"`
	Subject         string          `json:"subject,omitempty" yaml:"subject,omitempty"`
	Questions       []QuestionDraft `json:"questions" yaml:"questions"`
}

type QuestionDraft struct {
	Text    string        `json:"text" yaml:"text"`
	Options []OptionDraft `json:"options" yaml:"options"`
}

type OptionDraft struct {
	Text      string `json:"text" yaml:"text"`
	IsCorrect bool   `json:"isCorrect" yaml:"correct"`
}

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a draft.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "invalid exam: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidExam }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Normalize trims text fields in place.
func (d *ExamDraft) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Grade = strings.TrimSpace(d.Grade)
	d.Subject = strings.TrimSpace(d.Subject)
	for i := range d.Questions {
		d.Questions[i].Text = strings.TrimSpace(d.Questions[i].Text)
		for j := range d.Questions[i].Options {
			d.Questions[i].Options[j].Text = strings.TrimSpace(d.Questions[i].Options[j].Text)
		}
	}
}

func (d ExamDraft) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(d.Title) == "" {
		verr.add("title", "is required")
	}
	if d.DurationMinutes <= 0 {
		verr.add("duration_minutes", "must be a positive number of minutes")
	}
	if len(d.Questions) == 0 {
		verr.add("questions", "at least one question is required")
	}
	for i, q := range d.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if strings.TrimSpace(q.Text) == "" {
			verr.add(field+".text", "is required")
		}
		if len(q.Options) < 2 {
			verr.add(field+".options", "at least two options are required")
		}
		correct := 0
		for j, o := range q.Options {
			if strings.TrimSpace(o.Text) == "" {
				verr.add(fmt.Sprintf("%s.options[%d].text", field, j), "is required")
			}
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			verr.add(field+".options", "exactly one correct option is required, got %d", correct)
		}
	}
	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}
